package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/dl-alexandre/dbxbackup/internal/types"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.DefaultProfile != "default" {
		t.Errorf("Expected default profile 'default', got '%s'", cfg.DefaultProfile)
	}
	if cfg.RequestTimeout != 2000 {
		t.Errorf("Expected request timeout 2000, got %d", cfg.RequestTimeout)
	}
	if cfg.ChunkSizeMiB != 32 {
		t.Errorf("Expected chunk size 32, got %d", cfg.ChunkSizeMiB)
	}
	if cfg.EncryptionMode != EncryptionAsymmetric {
		t.Errorf("Expected asymmetric encryption, got '%s'", cfg.EncryptionMode)
	}
	if cfg.LogLevel != "normal" {
		t.Errorf("Expected log level 'normal', got '%s'", cfg.LogLevel)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*Config)
		errorMsg string
	}{
		{"valid default config", func(*Config) {}, ""},
		{"invalid output format", func(c *Config) { c.DefaultOutputFormat = types.OutputFormat("xml") }, "invalid output format"},
		{"timeout too small", func(c *Config) { c.RequestTimeout = 0 }, "request timeout"},
		{"timeout too large", func(c *Config) { c.RequestTimeout = 7201 }, "request timeout"},
		{"chunk too small", func(c *Config) { c.ChunkSizeMiB = 0 }, "chunk size"},
		{"chunk too large", func(c *Config) { c.ChunkSizeMiB = 151 }, "chunk size"},
		{"chunk at limit", func(c *Config) { c.ChunkSizeMiB = 150 }, ""},
		{"invalid log level", func(c *Config) { c.LogLevel = "loud" }, "invalid log level"},
		{"invalid encryption mode", func(c *Config) { c.EncryptionMode = "rot13" }, "invalid encryption mode"},
		{"zero max files", func(c *Config) { c.DefaultMaxFiles = 0 }, "max files"},
		{"empty tmp dir", func(c *Config) { c.TmpDir = "" }, "tmp dir"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.errorMsg == "" {
				if err != nil {
					t.Errorf("Expected no error, got %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Expected error containing %q, got nil", tt.errorMsg)
			}
			if !strings.Contains(err.Error(), tt.errorMsg) {
				t.Errorf("Expected error containing %q, got %q", tt.errorMsg, err.Error())
			}
		})
	}
}

func TestValidateEncryption(t *testing.T) {
	keyFile := filepath.Join(t.TempDir(), "pub.asc")
	if err := os.WriteFile(keyFile, []byte("key"), 0600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name       string
		mode       EncryptionMode
		keyFile    string
		passphrase string
		wantErr    bool
	}{
		{"asymmetric with key", EncryptionAsymmetric, keyFile, "", false},
		{"asymmetric without key", EncryptionAsymmetric, "", "", true},
		{"asymmetric missing key file", EncryptionAsymmetric, keyFile + ".missing", "", true},
		{"symmetric with passphrase", EncryptionSymmetric, "", "secret", false},
		{"symmetric without passphrase", EncryptionSymmetric, "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.EncryptionMode = tt.mode
			cfg.RecipientKeyFile = tt.keyFile
			err := cfg.ValidateEncryption(tt.passphrase)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateEncryption() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ConfigFileName)

	fileCfg := map[string]any{
		"chunkSizeMiB":   8,
		"requestTimeout": 60,
		"logLevel":       "verbose",
	}
	data, err := json.Marshal(fileCfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatal(err)
	}

	t.Setenv(EnvPrefix+"REQUEST_TIMEOUT", "120")
	t.Setenv(EnvPrefix+"ENCRYPTION_MODE", "symmetric")
	t.Setenv(EnvPrefix+"COLOR_OUTPUT", "yes")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.ChunkSizeMiB != 8 {
		t.Errorf("file value not applied: chunk size %d", cfg.ChunkSizeMiB)
	}
	if cfg.LogLevel != "verbose" {
		t.Errorf("file value not applied: log level %s", cfg.LogLevel)
	}
	if cfg.RequestTimeout != 120 {
		t.Errorf("env should override file: timeout %d", cfg.RequestTimeout)
	}
	if cfg.EncryptionMode != EncryptionSymmetric {
		t.Errorf("env should set encryption mode, got %s", cfg.EncryptionMode)
	}
	if !cfg.ColorOutput {
		t.Error("env should enable color output")
	}
	if cfg.GetRequestTimeout() != 120*time.Second {
		t.Errorf("GetRequestTimeout() = %v", cfg.GetRequestTimeout())
	}
	if cfg.GetChunkSize() != 8*1024*1024 {
		t.Errorf("GetChunkSize() = %d", cfg.GetChunkSize())
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ChunkSizeMiB != DefaultConfig().ChunkSizeMiB {
		t.Errorf("Expected default chunk size, got %d", cfg.ChunkSizeMiB)
	}
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ConfigFileName)
	if err := os.WriteFile(path, []byte(`{"chunkSizeMiB": 500}`), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Expected validation error for oversized chunk")
	}
}

func TestSaveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", ConfigFileName)

	cfg := DefaultConfig()
	cfg.Recipient = "ops@example.com"
	cfg.DefaultMaxFiles = 14
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("Expected 0600 permissions, got %v", info.Mode().Perm())
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.Recipient != "ops@example.com" || loaded.DefaultMaxFiles != 14 {
		t.Errorf("reloaded config mismatch: %+v", loaded)
	}
}

func TestGetConfigDirEnvOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(EnvPrefix+"CONFIG_DIR", dir)

	got, err := GetConfigDir()
	if err != nil {
		t.Fatal(err)
	}
	if got != dir {
		t.Errorf("GetConfigDir() = %s, want %s", got, dir)
	}

	path, err := GetConfigPath()
	if err != nil {
		t.Fatal(err)
	}
	if path != filepath.Join(dir, ConfigFileName) {
		t.Errorf("GetConfigPath() = %s", path)
	}
}

func TestBackupLogPath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LogDir = "/var/log/dbx"

	tests := []struct {
		folder string
		want   string
	}{
		{"/backups/web", "/var/log/dbx/dbxbackup_web.log"},
		{"/backups/web/", "/var/log/dbx/dbxbackup_web.log"},
		{"db", "/var/log/dbx/dbxbackup_db.log"},
		{"/", "/var/log/dbx/dbxbackup_root.log"},
	}

	for _, tt := range tests {
		if got := cfg.BackupLogPath(tt.folder); got != tt.want {
			t.Errorf("BackupLogPath(%q) = %q, want %q", tt.folder, got, tt.want)
		}
	}
}

func TestParseBool(t *testing.T) {
	for _, v := range []string{"true", "1", "YES", " on "} {
		if !parseBool(v) {
			t.Errorf("parseBool(%q) = false", v)
		}
	}
	for _, v := range []string{"false", "0", "", "nope"} {
		if parseBool(v) {
			t.Errorf("parseBool(%q) = true", v)
		}
	}
}

func TestSplitList(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"node_modules/", []string{"node_modules/"}},
		{" *.log , ,.env,", []string{"*.log", ".env"}},
	}
	for _, tt := range tests {
		if got := SplitList(tt.in); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("SplitList(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
