package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/zalando/go-keyring"
)

// ErrNoCredentials is returned when a profile has nothing stored
var ErrNoCredentials = errors.New("no stored credentials")

// StorageBackend defines the interface for credential storage
type StorageBackend interface {
	Save(profile string, data []byte) error
	Load(profile string) ([]byte, error)
	Delete(profile string) error
	Name() string
}

// KeyringStorage uses system keyring for credential storage
type KeyringStorage struct {
	serviceName string
}

// NewKeyringStorage creates a keyring storage backend
func NewKeyringStorage(serviceName string) *KeyringStorage {
	return &KeyringStorage{serviceName: serviceName}
}

func (s *KeyringStorage) Save(profile string, data []byte) error {
	return saveToKeyring(s.serviceName, profile, string(data))
}

func (s *KeyringStorage) Load(profile string) ([]byte, error) {
	data, err := loadFromKeyring(s.serviceName, profile)
	if err != nil {
		return nil, err
	}
	return []byte(data), nil
}

func (s *KeyringStorage) Delete(profile string) error {
	return deleteFromKeyring(s.serviceName, profile)
}

func (s *KeyringStorage) Name() string {
	return "system-keyring"
}

func saveToKeyring(service, profile, secret string) error {
	if err := keyring.Set(service, profile, secret); err != nil {
		return fmt.Errorf("keyring set: %w", err)
	}
	return nil
}

func loadFromKeyring(service, profile string) (string, error) {
	secret, err := keyring.Get(service, profile)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", fmt.Errorf("profile '%s': %w", profile, ErrNoCredentials)
		}
		return "", fmt.Errorf("keyring get: %w", err)
	}
	return secret, nil
}

func deleteFromKeyring(service, profile string) error {
	if err := keyring.Delete(service, profile); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("keyring delete: %w", err)
	}
	return nil
}

// fileStorage keeps one file per profile under <baseDir>/credentials.
// seal and open transform the bytes on the way to and from disk.
type fileStorage struct {
	baseDir string
	ext     string
	name    string
	seal    func([]byte) ([]byte, error)
	open    func([]byte) ([]byte, error)
}

func (s *fileStorage) Save(profile string, data []byte) error {
	sealed, err := s.seal(data)
	if err != nil {
		return fmt.Errorf("failed to encrypt credentials: %w", err)
	}

	credFile := s.path(profile)
	if err := os.MkdirAll(filepath.Dir(credFile), 0700); err != nil {
		return err
	}
	return os.WriteFile(credFile, sealed, 0600)
}

func (s *fileStorage) Load(profile string) ([]byte, error) {
	data, err := os.ReadFile(s.path(profile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("profile '%s': %w", profile, ErrNoCredentials)
		}
		return nil, err
	}
	return s.open(data)
}

func (s *fileStorage) Delete(profile string) error {
	if err := os.Remove(s.path(profile)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s *fileStorage) Name() string {
	return s.name
}

func (s *fileStorage) path(profile string) string {
	return filepath.Join(s.baseDir, "credentials", profile+s.ext)
}

func (s *fileStorage) profiles() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.baseDir, "credentials"))
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, err
	}
	profiles := []string{}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != s.ext {
			continue
		}
		profiles = append(profiles, name[:len(name)-len(s.ext)])
	}
	return profiles, nil
}

// EncryptedFileStorage stores credentials in AES-GCM sealed files
type EncryptedFileStorage struct {
	fileStorage
	key []byte
}

// NewEncryptedFileStorage creates an encrypted file storage backend
func NewEncryptedFileStorage(baseDir string) (*EncryptedFileStorage, error) {
	key, err := getOrCreateEncryptionKey(baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to get encryption key: %w", err)
	}

	s := &EncryptedFileStorage{key: key}
	s.fileStorage = fileStorage{
		baseDir: baseDir,
		ext:     ".enc",
		name:    "encrypted-file",
		seal:    s.encrypt,
		open:    s.decrypt,
	}
	return s, nil
}

func (s *EncryptedFileStorage) encrypt(plaintext []byte) ([]byte, error) {
	gcm, err := newGCM(s.key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func (s *EncryptedFileStorage) decrypt(ciphertext []byte) ([]byte, error) {
	gcm, err := newGCM(s.key)
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < gcm.NonceSize() {
		return nil, fmt.Errorf("invalid ciphertext")
	}

	nonce, sealed := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt credentials: %w", err)
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// PlainFileStorage stores credentials in plain JSON files (development only)
type PlainFileStorage struct {
	fileStorage
}

// NewPlainFileStorage creates a plain file storage backend
func NewPlainFileStorage(baseDir string) *PlainFileStorage {
	identity := func(b []byte) ([]byte, error) { return b, nil }
	return &PlainFileStorage{fileStorage{
		baseDir: baseDir,
		ext:     ".json",
		name:    "plain-file",
		seal:    identity,
		open:    identity,
	}}
}

// getOrCreateEncryptionKey loads <baseDir>/.keyfile or writes a fresh 32-byte key
func getOrCreateEncryptionKey(baseDir string) ([]byte, error) {
	keyFile := filepath.Join(baseDir, ".keyfile")

	if data, err := os.ReadFile(keyFile); err == nil {
		key, err := base64.StdEncoding.DecodeString(string(data))
		if err == nil && len(key) == 32 {
			return key, nil
		}
	}

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, err
	}

	encoded := base64.StdEncoding.EncodeToString(key)
	if err := os.WriteFile(keyFile, []byte(encoded), 0600); err != nil {
		return nil, err
	}
	return key, nil
}
