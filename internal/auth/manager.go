package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/dl-alexandre/dbxbackup/internal/types"
	"github.com/dl-alexandre/dbxbackup/internal/utils"
	"github.com/zalando/go-keyring"
	"golang.org/x/oauth2"
)

const (
	serviceName = "dbxbackup"

	// EnvToken and EnvPassphrase override stored credentials for unattended runs
	EnvToken      = "DBXBACKUP_TOKEN"
	EnvPassphrase = "DBXBACKUP_PASSPHRASE"
)

// Manager handles credential storage and authenticated transport
type Manager struct {
	configDir      string
	useKeyring     bool
	useEncryption  bool
	storage        StorageBackend
	storageWarning string
	tokenURL       string
}

// NewManager creates a new auth manager
func NewManager(configDir string) *Manager {
	return NewManagerWithOptions(configDir, ManagerOptions{})
}

// ManagerOptions configures the auth manager
type ManagerOptions struct {
	ForceEncryptedFile bool // Force use of encrypted file storage
	ForcePlainFile     bool // Force use of plain file storage (insecure, dev only)
	TokenURL           string
}

// NewManagerWithOptions creates a new auth manager with specific options
func NewManagerWithOptions(configDir string, opts ManagerOptions) *Manager {
	mgr := &Manager{configDir: configDir, tokenURL: opts.TokenURL}
	if mgr.tokenURL == "" {
		mgr.tokenURL = utils.DropboxTokenURL
	}

	switch {
	case opts.ForcePlainFile:
		mgr.storage = NewPlainFileStorage(configDir)
		mgr.storageWarning = "WARNING: Using unencrypted file storage. Credentials are stored in plain text."
	case opts.ForceEncryptedFile || !checkKeyringAvailable():
		storage, err := NewEncryptedFileStorage(configDir)
		if err != nil {
			mgr.storage = NewPlainFileStorage(configDir)
			mgr.storageWarning = fmt.Sprintf("WARNING: Encryption setup failed (%v). Using plain file storage.", err)
			break
		}
		mgr.storage = storage
		mgr.useEncryption = true
		if !opts.ForceEncryptedFile {
			mgr.storageWarning = "INFO: System keyring not available. Using encrypted file storage."
		}
	default:
		mgr.storage = NewKeyringStorage(serviceName)
		mgr.useKeyring = true
	}

	return mgr
}

// checkKeyringAvailable tests if system keyring is available
func checkKeyringAvailable() bool {
	testKey := serviceName + "-availability"
	if err := keyring.Set(serviceName, testKey, "test"); err != nil {
		return false
	}
	_ = keyring.Delete(serviceName, testKey)
	return true
}

// LoadCredentials loads stored credentials for a profile
func (m *Manager) LoadCredentials(profile string) (*types.Credentials, error) {
	data, err := m.storage.Load(profile)
	if err != nil {
		return nil, err
	}

	var stored types.StoredCredentials
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("failed to parse credentials: %w", err)
	}

	return &types.Credentials{
		AccessToken:  stored.AccessToken,
		RefreshToken: stored.RefreshToken,
		AppKey:       stored.AppKey,
		AppSecret:    stored.AppSecret,
		Passphrase:   stored.Passphrase,
		Type:         stored.Type,
	}, nil
}

// SaveCredentials saves credentials for a profile
func (m *Manager) SaveCredentials(profile string, creds *types.Credentials) error {
	if err := validateCredentials(creds); err != nil {
		return err
	}

	stored := types.StoredCredentials{
		Profile:      profile,
		AccessToken:  creds.AccessToken,
		RefreshToken: creds.RefreshToken,
		AppKey:       creds.AppKey,
		AppSecret:    creds.AppSecret,
		Passphrase:   creds.Passphrase,
		Type:         creds.Type,
	}

	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}

	if err := m.storage.Save(profile, data); err != nil {
		return err
	}

	if err := m.addProfileToList(profile); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to update profile list: %v\n", err)
	}
	return nil
}

// DeleteCredentials removes credentials for a profile
func (m *Manager) DeleteCredentials(profile string) error {
	if err := m.storage.Delete(profile); err != nil {
		return err
	}

	if err := m.removeProfileFromList(profile); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to update profile list: %v\n", err)
	}
	return nil
}

func validateCredentials(creds *types.Credentials) error {
	switch creds.Type {
	case types.AuthTypeToken:
		if creds.AccessToken == "" {
			return fmt.Errorf("access token is required")
		}
	case types.AuthTypeRefresh:
		if creds.RefreshToken == "" || creds.AppKey == "" {
			return fmt.Errorf("refresh credentials need a refresh token and app key")
		}
	default:
		return fmt.Errorf("unknown credential type %q", creds.Type)
	}
	return nil
}

// ResolveCredentials returns the credentials for profile with environment
// overrides applied. DBXBACKUP_TOKEN alone is enough to run.
func (m *Manager) ResolveCredentials(profile string) (*types.Credentials, error) {
	creds, err := m.LoadCredentials(profile)
	envToken := os.Getenv(EnvToken)
	if err != nil {
		if envToken == "" {
			if errors.Is(err, ErrNoCredentials) {
				return nil, utils.WrapAppError(utils.NewCLIError(utils.ErrCodeAuthRequired,
					"No credentials found. Run 'dbxbackup auth login --token <token>' or set "+EnvToken+".").Build(), err)
			}
			return nil, utils.WrapAppError(utils.NewCLIError(utils.ErrCodeAuthRequired,
				"Failed to load stored credentials").Build(), err)
		}
		creds = &types.Credentials{}
	}

	if envToken != "" {
		creds.AccessToken = envToken
		creds.RefreshToken = ""
		creds.Type = types.AuthTypeToken
	}
	if pass := os.Getenv(EnvPassphrase); pass != "" {
		creds.Passphrase = pass
	}
	return creds, nil
}

// TokenSource returns a source that yields bearer tokens for creds.
// Refresh credentials mint short-lived access tokens from the token endpoint.
func (m *Manager) TokenSource(ctx context.Context, creds *types.Credentials) oauth2.TokenSource {
	if creds.Type == types.AuthTypeRefresh && creds.RefreshToken != "" {
		conf := &oauth2.Config{
			ClientID:     creds.AppKey,
			ClientSecret: creds.AppSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:  utils.DropboxAuthURL,
				TokenURL: m.tokenURL,
			},
		}
		// An expired token forces a refresh before the first call.
		token := &oauth2.Token{
			AccessToken:  creds.AccessToken,
			RefreshToken: creds.RefreshToken,
			Expiry:       time.Unix(1, 0),
		}
		return conf.TokenSource(ctx, token)
	}
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: creds.AccessToken})
}

// GetHTTPClient returns an authenticated HTTP client. base supplies the
// transport, for example the debug transport, and may be nil.
func (m *Manager) GetHTTPClient(ctx context.Context, creds *types.Credentials, base *http.Client, timeout time.Duration) *http.Client {
	if base != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, base)
	}
	client := oauth2.NewClient(ctx, m.TokenSource(ctx, creds))
	client.Timeout = timeout
	return client
}

// ListProfiles lists all stored credential profiles in name order
func (m *Manager) ListProfiles() ([]string, error) {
	var profiles []string

	switch storage := m.storage.(type) {
	case *EncryptedFileStorage:
		return storage.profiles()
	case *PlainFileStorage:
		return storage.profiles()
	default:
		data, err := os.ReadFile(m.profilesFile())
		if err != nil {
			if os.IsNotExist(err) {
				return []string{}, nil
			}
			return nil, err
		}
		if err := json.Unmarshal(data, &profiles); err != nil {
			return nil, err
		}
	}

	sort.Strings(profiles)
	return profiles, nil
}

func (m *Manager) profilesFile() string {
	return filepath.Join(m.configDir, "profiles.json")
}

// addProfileToList tracks keyring profiles, which cannot be enumerated
func (m *Manager) addProfileToList(profile string) error {
	if !m.useKeyring {
		return nil
	}

	profiles, err := m.ListProfiles()
	if err != nil {
		return err
	}
	for _, p := range profiles {
		if p == profile {
			return nil
		}
	}
	return m.writeProfiles(append(profiles, profile))
}

func (m *Manager) removeProfileFromList(profile string) error {
	if !m.useKeyring {
		return nil
	}

	profiles, err := m.ListProfiles()
	if err != nil {
		return err
	}
	updated := []string{}
	for _, p := range profiles {
		if p != profile {
			updated = append(updated, p)
		}
	}
	return m.writeProfiles(updated)
}

func (m *Manager) writeProfiles(profiles []string) error {
	data, err := json.Marshal(profiles)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(m.configDir, 0700); err != nil {
		return err
	}
	return os.WriteFile(m.profilesFile(), data, 0600)
}

// UseKeyring returns whether the manager is using the system keyring
func (m *Manager) UseKeyring() bool {
	return m.useKeyring
}

// UsesEncryption reports whether credentials are sealed on disk
func (m *Manager) UsesEncryption() bool {
	return m.useEncryption
}

// ConfigDir returns the configuration directory
func (m *Manager) ConfigDir() string {
	return m.configDir
}

// GetStorageBackend returns the name of the storage backend being used
func (m *Manager) GetStorageBackend() string {
	return m.storage.Name()
}

// GetStorageWarning returns any warning message about the storage backend
func (m *Manager) GetStorageWarning() string {
	return m.storageWarning
}
