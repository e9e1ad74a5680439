package pipeline

import (
	"bytes"
	"context"
	"crypto"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/packet"
	"github.com/ProtonMail/go-crypto/openpgp/s2k"
	"github.com/dl-alexandre/dbxbackup/internal/logging"
	"github.com/dl-alexandre/dbxbackup/internal/utils"
)

// S2KCount is the passphrase hashing iteration count for symmetric mode
const S2KCount = 65011712

// ErrNoRecipient means no key in the keyring matched the recipient filter
var ErrNoRecipient = stderrors.New("no matching recipient key")

// PGPEncryptor writes path + ".gpg" as an OpenPGP message, either to a set
// of public keys or under a passphrase
type PGPEncryptor struct {
	opts       Options
	recipients openpgp.EntityList
	passphrase []byte
	config     *packet.Config
}

var _ Encryptor = (*PGPEncryptor)(nil)

func packetConfig() *packet.Config {
	return &packet.Config{
		DefaultCipher: packet.CipherAES256,
		DefaultHash:   crypto.SHA512,
		S2KConfig: &s2k.Config{
			S2KMode:  s2k.IteratedSaltedS2K,
			Hash:     crypto.SHA512,
			S2KCount: S2KCount,
		},
	}
}

// NewAsymmetricEncryptor encrypts to the keys in keyFile (armored or
// binary). A non-empty recipient keeps only keys whose identity contains it
// or whose key id ends with it.
func NewAsymmetricEncryptor(keyFile, recipient string, opts Options) (*PGPEncryptor, error) {
	data, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, stageError(utils.ErrCodeEncryptFailed, "Failed to read recipient key", err)
	}

	keys, err := openpgp.ReadArmoredKeyRing(bytes.NewReader(data))
	if err != nil {
		keys, err = openpgp.ReadKeyRing(bytes.NewReader(data))
	}
	if err != nil {
		return nil, stageError(utils.ErrCodeEncryptFailed, "Failed to parse recipient key", err)
	}

	keys = filterRecipients(keys, recipient)
	if len(keys) == 0 {
		return nil, stageError(utils.ErrCodeEncryptFailed,
			"Failed to select recipient", fmt.Errorf("%w: %q", ErrNoRecipient, recipient))
	}
	return &PGPEncryptor{opts: opts.withDefaults(), recipients: keys, config: packetConfig()}, nil
}

// NewSymmetricEncryptor encrypts under passphrase with an iterated SHA-512
// S2K and AES-256
func NewSymmetricEncryptor(passphrase string, opts Options) (*PGPEncryptor, error) {
	if passphrase == "" {
		return nil, stageError(utils.ErrCodeEncryptFailed, "Failed to configure encryption",
			stderrors.New("empty passphrase"))
	}
	return &PGPEncryptor{opts: opts.withDefaults(), passphrase: []byte(passphrase), config: packetConfig()}, nil
}

func filterRecipients(keys openpgp.EntityList, recipient string) openpgp.EntityList {
	if recipient == "" {
		return keys
	}
	needle := strings.ToLower(recipient)
	var out openpgp.EntityList
	for _, e := range keys {
		if strings.HasSuffix(strings.ToLower(e.PrimaryKey.KeyIdString()), strings.TrimPrefix(needle, "0x")) {
			out = append(out, e)
			continue
		}
		for name := range e.Identities {
			if strings.Contains(strings.ToLower(name), needle) {
				out = append(out, e)
				break
			}
		}
	}
	return out
}

// Symmetric reports whether the encryptor uses a passphrase
func (e *PGPEncryptor) Symmetric() bool {
	return e.passphrase != nil
}

// Encrypt implements Encryptor
func (e *PGPEncryptor) Encrypt(ctx context.Context, path string) (string, error) {
	logger := e.opts.Logger.WithContext(ctx)
	logger.Info("Starting to encrypt", logging.F("file", path), logging.F("symmetric", e.Symmetric()))

	if err := ctx.Err(); err != nil {
		return "", stageError(utils.ErrCodeEncryptFailed, "Process failed while trying to encrypt", err)
	}

	in, err := os.Open(path)
	if err != nil {
		return "", stageError(utils.ErrCodeEncryptFailed, "Process failed while trying to encrypt", err)
	}
	defer in.Close()

	target := path + utils.EncryptExt
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return "", stageError(utils.ErrCodeEncryptFailed, "Process failed while trying to encrypt", err)
	}

	err = e.seal(out, in, filepath.Base(path))
	if err := finish(out, target, err); err != nil {
		logger.Error("Process failed while trying to encrypt", logging.F("file", path), logging.F("error", err.Error()))
		return "", stageError(utils.ErrCodeEncryptFailed, "Process failed while trying to encrypt", err)
	}

	in.Close()
	if err := os.Remove(path); err != nil {
		logger.Warn("Failed to remove encrypted input", logging.F("file", path), logging.F("error", err.Error()))
	}
	return target, nil
}

func (e *PGPEncryptor) seal(out io.Writer, in io.Reader, name string) error {
	hints := &openpgp.FileHints{IsBinary: true, FileName: name}

	var plaintext io.WriteCloser
	var err error
	if e.Symmetric() {
		plaintext, err = openpgp.SymmetricallyEncrypt(out, e.passphrase, hints, e.config)
	} else {
		plaintext, err = openpgp.Encrypt(out, e.recipients, nil, hints, e.config)
	}
	if err != nil {
		return err
	}

	if _, err := io.Copy(plaintext, in); err != nil {
		plaintext.Close()
		return err
	}
	return plaintext.Close()
}
