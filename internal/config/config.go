package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dl-alexandre/dbxbackup/internal/types"
	"github.com/dl-alexandre/dbxbackup/internal/utils"
)

const (
	// ConfigFileName is the name of the config file
	ConfigFileName = "config.json"
	// AppName names the config directory and keyring service
	AppName = "dbxbackup"
	// EnvPrefix is the prefix for environment variables
	EnvPrefix = "DBXBACKUP_"
)

// EncryptionMode selects how archives are encrypted before upload
type EncryptionMode string

const (
	EncryptionAsymmetric EncryptionMode = "asymmetric"
	EncryptionSymmetric  EncryptionMode = "symmetric"
)

// Config holds application configuration
type Config struct {
	// DefaultProfile is the credential profile used when --profile is not given
	DefaultProfile string `json:"defaultProfile"`

	// DefaultOutputFormat is the default output format (json, table)
	DefaultOutputFormat types.OutputFormat `json:"defaultOutputFormat"`

	// RequestTimeout applies to every remote call, in seconds
	RequestTimeout int `json:"requestTimeout"`

	// ChunkSizeMiB is the largest payload sent per upload call
	ChunkSizeMiB int `json:"chunkSizeMiB"`

	// LogLevel sets the logging verbosity (quiet, normal, verbose, debug)
	LogLevel string `json:"logLevel"`

	// LogDir receives one rotating log per remote backup folder
	LogDir string `json:"logDir"`

	// TmpDir holds the archive while it is built, compressed and encrypted
	TmpDir string `json:"tmpDir"`

	// DownloadDir is where downloaded files are written
	DownloadDir string `json:"downloadDir"`

	// JournalPath is the sqlite run history database
	JournalPath string `json:"journalPath"`

	// EncryptionMode is asymmetric (recipient key) or symmetric (passphrase)
	EncryptionMode EncryptionMode `json:"encryptionMode"`

	// RecipientKeyFile is an armored OpenPGP public keyring for asymmetric mode
	RecipientKeyFile string `json:"recipientKeyFile"`

	// Recipient optionally narrows the keyring to identities containing this string
	Recipient string `json:"recipient"`

	// DefaultMaxFiles is used by backup when --max-files is not given
	DefaultMaxFiles int `json:"defaultMaxFiles"`

	// ExcludePatterns are left out of every archive, in addition to --exclude
	ExcludePatterns []string `json:"excludePatterns,omitempty"`

	// ColorOutput enables color in console logs
	ColorOutput bool `json:"colorOutput"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.TempDir()
	}
	return &Config{
		DefaultProfile:      "default",
		DefaultOutputFormat: types.OutputFormatTable,
		RequestTimeout:      utils.DefaultRequestTimeoutSeconds,
		ChunkSizeMiB:        utils.DefaultChunkMiB,
		LogLevel:            "normal",
		LogDir:              filepath.Join(home, "logs"),
		TmpDir:              filepath.Join(home, "tmp"),
		DownloadDir:         ".",
		JournalPath:         filepath.Join(home, ".config", AppName, "journal.db"),
		EncryptionMode:      EncryptionAsymmetric,
		DefaultMaxFiles:     utils.DefaultMaxBackups,
		ColorOutput:         false,
	}
}

// Load loads configuration with precedence: CLI flags > env vars > config file > defaults.
// An empty path means the default config location.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		var err error
		path, err = GetConfigPath()
		if err != nil {
			return nil, err
		}
	}

	if err := cfg.loadFromFile(path); err != nil {
		// Config file not existing is not an error
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	cfg.loadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, c)
}

func (c *Config) loadFromEnv() {
	if v := os.Getenv(EnvPrefix + "DEFAULT_PROFILE"); v != "" {
		c.DefaultProfile = v
	}
	if v := os.Getenv(EnvPrefix + "OUTPUT_FORMAT"); v != "" {
		c.DefaultOutputFormat = types.OutputFormat(v)
	}
	if v := os.Getenv(EnvPrefix + "REQUEST_TIMEOUT"); v != "" {
		if timeout, err := strconv.Atoi(v); err == nil {
			c.RequestTimeout = timeout
		}
	}
	if v := os.Getenv(EnvPrefix + "CHUNK_SIZE_MIB"); v != "" {
		if size, err := strconv.Atoi(v); err == nil {
			c.ChunkSizeMiB = size
		}
	}
	if v := os.Getenv(EnvPrefix + "LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv(EnvPrefix + "LOG_DIR"); v != "" {
		c.LogDir = v
	}
	if v := os.Getenv(EnvPrefix + "TMP_DIR"); v != "" {
		c.TmpDir = v
	}
	if v := os.Getenv(EnvPrefix + "DOWNLOAD_DIR"); v != "" {
		c.DownloadDir = v
	}
	if v := os.Getenv(EnvPrefix + "JOURNAL_PATH"); v != "" {
		c.JournalPath = v
	}
	if v := os.Getenv(EnvPrefix + "ENCRYPTION_MODE"); v != "" {
		c.EncryptionMode = EncryptionMode(v)
	}
	if v := os.Getenv(EnvPrefix + "RECIPIENT_KEY_FILE"); v != "" {
		c.RecipientKeyFile = v
	}
	if v := os.Getenv(EnvPrefix + "RECIPIENT"); v != "" {
		c.Recipient = v
	}
	if v := os.Getenv(EnvPrefix + "MAX_FILES"); v != "" {
		if max, err := strconv.Atoi(v); err == nil {
			c.DefaultMaxFiles = max
		}
	}
	if v := os.Getenv(EnvPrefix + "EXCLUDE"); v != "" {
		c.ExcludePatterns = SplitList(v)
	}
	if v := os.Getenv(EnvPrefix + "COLOR_OUTPUT"); v != "" {
		c.ColorOutput = parseBool(v)
	}
}

// Save writes the configuration to path, or the default location when empty
func (c *Config) Save(path string) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if path == "" {
		var err error
		path, err = GetConfigPath()
		if err != nil {
			return err
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.DefaultOutputFormat != types.OutputFormatJSON &&
		c.DefaultOutputFormat != types.OutputFormatTable {
		return fmt.Errorf("invalid output format: %s (must be 'json' or 'table')", c.DefaultOutputFormat)
	}

	if c.RequestTimeout < 1 || c.RequestTimeout > 7200 {
		return fmt.Errorf("request timeout must be between 1 and 7200 seconds, got: %d", c.RequestTimeout)
	}

	if c.ChunkSizeMiB < 1 || c.ChunkSizeMiB > utils.MaxChunkSizeMiB {
		return fmt.Errorf("chunk size must be between 1 and %d MiB, got: %d", utils.MaxChunkSizeMiB, c.ChunkSizeMiB)
	}

	validLogLevels := []string{"quiet", "normal", "verbose", "debug"}
	isValid := false
	for _, level := range validLogLevels {
		if c.LogLevel == level {
			isValid = true
			break
		}
	}
	if !isValid {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)", c.LogLevel, strings.Join(validLogLevels, ", "))
	}

	if c.EncryptionMode != EncryptionAsymmetric && c.EncryptionMode != EncryptionSymmetric {
		return fmt.Errorf("invalid encryption mode: %s (must be 'asymmetric' or 'symmetric')", c.EncryptionMode)
	}

	if c.DefaultMaxFiles < 1 {
		return fmt.Errorf("default max files must be at least 1, got: %d", c.DefaultMaxFiles)
	}

	if c.TmpDir == "" {
		return fmt.Errorf("tmp dir must not be empty")
	}

	return nil
}

// ValidateEncryption checks that the selected mode has what it needs.
// It runs only for backups, so list and download work without keys.
func (c *Config) ValidateEncryption(passphrase string) error {
	switch c.EncryptionMode {
	case EncryptionAsymmetric:
		if c.RecipientKeyFile == "" {
			return fmt.Errorf("asymmetric encryption requires recipientKeyFile")
		}
		if _, err := os.Stat(c.RecipientKeyFile); err != nil {
			return fmt.Errorf("recipient key file: %w", err)
		}
	case EncryptionSymmetric:
		if passphrase == "" {
			return fmt.Errorf("symmetric encryption requires a passphrase (auth login --passphrase or %sPASSPHRASE)", EnvPrefix)
		}
	}
	return nil
}

// GetRequestTimeout returns the request timeout as a duration
func (c *Config) GetRequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeout) * time.Second
}

// GetChunkSize returns the upload ceiling in bytes
func (c *Config) GetChunkSize() int64 {
	return int64(c.ChunkSizeMiB) * 1024 * 1024
}

// BackupLogPath returns the per-folder log file for a remote backup folder
func (c *Config) BackupLogPath(remoteFolder string) string {
	base := filepath.Base(strings.TrimRight(remoteFolder, "/"))
	if base == "" || base == "." || base == "/" {
		base = "root"
	}
	return filepath.Join(c.LogDir, AppName+"_"+base+".log")
}

// GetConfigPath returns the path to the config file
func GetConfigPath() (string, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, ConfigFileName), nil
}

// GetConfigDir returns the path to the config directory
func GetConfigDir() (string, error) {
	if dir := os.Getenv(EnvPrefix + "CONFIG_DIR"); dir != "" {
		return dir, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	return filepath.Join(homeDir, ".config", AppName), nil
}

// SplitList splits a comma separated value, dropping blanks
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parseBool parses a boolean value from a string
func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes" || s == "on"
}
