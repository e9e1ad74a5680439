package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dl-alexandre/dbxbackup/internal/types"
	"github.com/dl-alexandre/dbxbackup/internal/utils"
	"github.com/zalando/go-keyring"
)

func TestManager_SaveLoadDelete(t *testing.T) {
	mgr := NewManagerWithOptions(t.TempDir(), ManagerOptions{ForceEncryptedFile: true})
	if mgr.GetStorageBackend() != "encrypted-file" || !mgr.UsesEncryption() {
		t.Fatalf("unexpected backend %s", mgr.GetStorageBackend())
	}

	creds := &types.Credentials{AccessToken: "sl.token", Passphrase: "pw", Type: types.AuthTypeToken}
	if err := mgr.SaveCredentials("default", creds); err != nil {
		t.Fatalf("SaveCredentials failed: %v", err)
	}

	loaded, err := mgr.LoadCredentials("default")
	if err != nil {
		t.Fatalf("LoadCredentials failed: %v", err)
	}
	if *loaded != *creds {
		t.Errorf("LoadCredentials() = %+v, want %+v", loaded, creds)
	}

	if err := mgr.DeleteCredentials("default"); err != nil {
		t.Fatalf("DeleteCredentials failed: %v", err)
	}
	if _, err := mgr.LoadCredentials("default"); err == nil {
		t.Error("expected error after delete")
	}
}

func TestManager_SaveRejectsIncomplete(t *testing.T) {
	mgr := NewManagerWithOptions(t.TempDir(), ManagerOptions{ForcePlainFile: true})

	tests := []struct {
		name  string
		creds types.Credentials
	}{
		{"empty token", types.Credentials{Type: types.AuthTypeToken}},
		{"refresh without app key", types.Credentials{RefreshToken: "r", Type: types.AuthTypeRefresh}},
		{"unknown type", types.Credentials{AccessToken: "x", Type: "magic"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := mgr.SaveCredentials("p", &tt.creds); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestManager_ResolveCredentials(t *testing.T) {
	t.Run("missing without env", func(t *testing.T) {
		t.Setenv(EnvToken, "")
		mgr := NewManagerWithOptions(t.TempDir(), ManagerOptions{ForcePlainFile: true})
		_, err := mgr.ResolveCredentials("default")
		if utils.ErrorCode(err) != utils.ErrCodeAuthRequired {
			t.Errorf("error code = %s, want %s", utils.ErrorCode(err), utils.ErrCodeAuthRequired)
		}
	})

	t.Run("env token without stored profile", func(t *testing.T) {
		t.Setenv(EnvToken, "sl.env")
		t.Setenv(EnvPassphrase, "envpass")
		mgr := NewManagerWithOptions(t.TempDir(), ManagerOptions{ForcePlainFile: true})
		creds, err := mgr.ResolveCredentials("default")
		if err != nil {
			t.Fatal(err)
		}
		if creds.AccessToken != "sl.env" || creds.Type != types.AuthTypeToken || creds.Passphrase != "envpass" {
			t.Errorf("unexpected creds %+v", creds)
		}
	})

	t.Run("env overrides stored refresh credentials", func(t *testing.T) {
		t.Setenv(EnvToken, "sl.env")
		t.Setenv(EnvPassphrase, "")
		mgr := NewManagerWithOptions(t.TempDir(), ManagerOptions{ForcePlainFile: true})
		stored := &types.Credentials{RefreshToken: "r", AppKey: "k", Passphrase: "stored", Type: types.AuthTypeRefresh}
		if err := mgr.SaveCredentials("default", stored); err != nil {
			t.Fatal(err)
		}
		creds, err := mgr.ResolveCredentials("default")
		if err != nil {
			t.Fatal(err)
		}
		if creds.Type != types.AuthTypeToken || creds.RefreshToken != "" || creds.Passphrase != "stored" {
			t.Errorf("unexpected creds %+v", creds)
		}
	})
}

func TestManager_HTTPClientSendsBearer(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	mgr := NewManagerWithOptions(t.TempDir(), ManagerOptions{ForcePlainFile: true})
	client := mgr.GetHTTPClient(context.Background(), &types.Credentials{AccessToken: "sl.abc", Type: types.AuthTypeToken}, server.Client(), 0)

	resp, err := client.Get(server.URL)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	if gotAuth != "Bearer sl.abc" {
		t.Errorf("Authorization = %q", gotAuth)
	}
}

func TestManager_RefreshTokenSource(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm: %v", err)
		}
		if r.Form.Get("grant_type") != "refresh_token" || r.Form.Get("refresh_token") != "r-token" {
			t.Errorf("unexpected form %v", r.Form)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"sl.fresh","token_type":"bearer","expires_in":14400}`))
	}))
	defer server.Close()

	mgr := NewManagerWithOptions(t.TempDir(), ManagerOptions{ForcePlainFile: true, TokenURL: server.URL})
	creds := &types.Credentials{RefreshToken: "r-token", AppKey: "key", AppSecret: "secret", Type: types.AuthTypeRefresh}

	token, err := mgr.TokenSource(context.Background(), creds).Token()
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if token.AccessToken != "sl.fresh" {
		t.Errorf("AccessToken = %q", token.AccessToken)
	}
}

func TestManager_ListProfiles(t *testing.T) {
	mgr := NewManagerWithOptions(t.TempDir(), ManagerOptions{ForcePlainFile: true})

	profiles, err := mgr.ListProfiles()
	if err != nil {
		t.Fatalf("ListProfiles failed: %v", err)
	}
	if len(profiles) != 0 {
		t.Errorf("Expected 0 profiles, got %d", len(profiles))
	}

	for _, p := range []string{"work", "home"} {
		if err := mgr.SaveCredentials(p, &types.Credentials{AccessToken: "t", Type: types.AuthTypeToken}); err != nil {
			t.Fatal(err)
		}
	}

	profiles, err = mgr.ListProfiles()
	if err != nil {
		t.Fatalf("ListProfiles failed: %v", err)
	}
	if len(profiles) != 2 || profiles[0] != "home" || profiles[1] != "work" {
		t.Errorf("ListProfiles() = %v", profiles)
	}
}

func TestManager_KeyringProfileTracking(t *testing.T) {
	keyring.MockInit()

	mgr := NewManager(t.TempDir())
	if !mgr.UseKeyring() {
		t.Fatal("mock keyring should be available")
	}

	creds := &types.Credentials{AccessToken: "t", Type: types.AuthTypeToken}
	for _, p := range []string{"b", "a", "b"} {
		if err := mgr.SaveCredentials(p, creds); err != nil {
			t.Fatal(err)
		}
	}

	profiles, err := mgr.ListProfiles()
	if err != nil {
		t.Fatal(err)
	}
	if len(profiles) != 2 || profiles[0] != "a" || profiles[1] != "b" {
		t.Errorf("ListProfiles() = %v", profiles)
	}

	if err := mgr.DeleteCredentials("a"); err != nil {
		t.Fatal(err)
	}
	profiles, _ = mgr.ListProfiles()
	if len(profiles) != 1 || profiles[0] != "b" {
		t.Errorf("after delete ListProfiles() = %v", profiles)
	}
}
