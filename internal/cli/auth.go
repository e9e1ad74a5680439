package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/dl-alexandre/dbxbackup/internal/auth"
	"github.com/dl-alexandre/dbxbackup/internal/config"
	"github.com/dl-alexandre/dbxbackup/internal/remote"
	"github.com/dl-alexandre/dbxbackup/internal/types"
	"github.com/dl-alexandre/dbxbackup/internal/utils"
	"github.com/spf13/cobra"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Authentication commands",
	Long:  "Manage the Dropbox credentials used by backup, download and list",
}

var authLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Store Dropbox credentials",
	Long: `Store an access token, or a refresh token with its app key and secret, for a profile.

The optional passphrase is used for symmetric encryption.

Examples:
  dbxbackup auth login --token sl.XXXX
  dbxbackup auth login --refresh-token XXXX --app-key KEY --app-secret SECRET --profile work`,
	Args: cobra.NoArgs,
	RunE: runAuthLogin,
}

var authLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove stored credentials",
	Long:  "Delete stored credentials for the current or specified profile",
	Args:  cobra.NoArgs,
	RunE:  runAuthLogout,
}

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show authentication status",
	Long:  "Display current authentication status and credential information",
	Args:  cobra.NoArgs,
	RunE:  runAuthStatus,
}

var authProfilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "List credential profiles",
	Long:  "Display all stored credential profiles",
	Args:  cobra.NoArgs,
	RunE:  runAuthProfiles,
}

var (
	authToken        string
	authRefreshToken string
	authAppKey       string
	authAppSecret    string
	authPassphrase   string
	authVerify       bool
)

func init() {
	authLoginCmd.Flags().StringVar(&authToken, "token", "", "Dropbox access token")
	authLoginCmd.Flags().StringVar(&authRefreshToken, "refresh-token", "", "Dropbox refresh token")
	authLoginCmd.Flags().StringVar(&authAppKey, "app-key", "", "Dropbox app key (with --refresh-token)")
	authLoginCmd.Flags().StringVar(&authAppSecret, "app-secret", "", "Dropbox app secret (with --refresh-token)")
	authLoginCmd.Flags().StringVar(&authPassphrase, "passphrase", "", "Passphrase for symmetric encryption")
	authStatusCmd.Flags().BoolVar(&authVerify, "verify", false, "Check the credential against the account endpoint")

	authCmd.AddCommand(authLoginCmd)
	authCmd.AddCommand(authLogoutCmd)
	authCmd.AddCommand(authStatusCmd)
	authCmd.AddCommand(authProfilesCmd)
	rootCmd.AddCommand(authCmd)
}

// loginCredentials builds the credential set from the login flags
func loginCredentials() (*types.Credentials, error) {
	creds := &types.Credentials{
		AccessToken:  authToken,
		RefreshToken: authRefreshToken,
		AppKey:       authAppKey,
		AppSecret:    authAppSecret,
		Passphrase:   authPassphrase,
		Type:         types.AuthTypeToken,
	}
	switch {
	case authRefreshToken != "":
		if authAppKey == "" {
			return nil, utils.NewAppError(utils.NewCLIError(utils.ErrCodeInvalidArgument,
				"--refresh-token requires --app-key").Build())
		}
		creds.Type = types.AuthTypeRefresh
	case authToken == "":
		return nil, utils.NewAppError(utils.NewCLIError(utils.ErrCodeInvalidArgument,
			"Either --token or --refresh-token is required").Build())
	}
	return creds, nil
}

func runAuthLogin(cmd *cobra.Command, args []string) error {
	flags := GetGlobalFlags()
	out := NewOutputWriter(flags.OutputFormat, flags.Quiet, flags.Verbose)

	creds, err := loginCredentials()
	if err != nil {
		return err
	}

	mgr := auth.NewManager(getConfigDir())
	if warning := mgr.GetStorageWarning(); warning != "" {
		out.Log("%s", warning)
	}

	if err := mgr.SaveCredentials(flags.Profile, creds); err != nil {
		return utils.WrapAppError(utils.NewCLIError(utils.ErrCodeAuthRequired,
			fmt.Sprintf("Failed to store credentials: %s", err)).Build(), err)
	}

	out.Log("Credentials stored for profile: %s", flags.Profile)
	return out.WriteSuccess("auth.login", map[string]interface{}{
		"profile":        flags.Profile,
		"type":           string(creds.Type),
		"passphrase":     creds.Passphrase != "",
		"storageBackend": mgr.GetStorageBackend(),
	})
}

func runAuthLogout(cmd *cobra.Command, args []string) error {
	flags := GetGlobalFlags()
	out := NewOutputWriter(flags.OutputFormat, flags.Quiet, flags.Verbose)

	mgr := auth.NewManager(getConfigDir())
	if err := mgr.DeleteCredentials(flags.Profile); err != nil {
		return utils.WrapAppError(utils.NewCLIError(utils.ErrCodeAuthRequired,
			fmt.Sprintf("No credentials found for profile '%s'", flags.Profile)).Build(), err)
	}

	out.Log("Credentials removed for profile: %s", flags.Profile)
	return out.WriteSuccess("auth.logout", map[string]interface{}{
		"profile": flags.Profile,
		"status":  "logged_out",
	})
}

func runAuthStatus(cmd *cobra.Command, args []string) error {
	flags := GetGlobalFlags()
	out := NewOutputWriter(flags.OutputFormat, flags.Quiet, flags.Verbose)

	mgr := auth.NewManager(getConfigDir())
	if warning := mgr.GetStorageWarning(); warning != "" && flags.Verbose {
		out.Log("%s", warning)
	}

	status := map[string]interface{}{
		"profile":        flags.Profile,
		"authenticated":  false,
		"storageBackend": mgr.GetStorageBackend(),
	}

	creds, err := mgr.ResolveCredentials(flags.Profile)
	if err != nil {
		return out.WriteSuccess("auth.status", status)
	}
	status["authenticated"] = true
	status["type"] = string(creds.Type)
	status["passphrase"] = creds.Passphrase != ""
	if os.Getenv(auth.EnvToken) != "" {
		status["source"] = "environment"
	} else {
		status["source"] = "stored"
	}

	if authVerify {
		cfg, err := config.Load(flags.Config)
		if err != nil {
			return utils.WrapAppError(utils.NewCLIError(utils.ErrCodeInvalidConfig, err.Error()).Build(), err)
		}
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		client := mgr.GetHTTPClient(ctx, creds, nil, cfg.GetRequestTimeout())
		account, err := remote.NewDropboxStore(client, flags.Profile, GetLogger()).CurrentAccount(ctx)
		if err != nil {
			return err
		}
		status["account"] = account.DisplayName
		status["email"] = account.Email
	}

	return out.WriteSuccess("auth.status", status)
}

func runAuthProfiles(cmd *cobra.Command, args []string) error {
	flags := GetGlobalFlags()
	out := NewOutputWriter(flags.OutputFormat, flags.Quiet, flags.Verbose)

	mgr := auth.NewManager(getConfigDir())
	profiles, err := mgr.ListProfiles()
	if err != nil {
		return utils.WrapAppError(utils.NewCLIError(utils.ErrCodeLocalIO,
			fmt.Sprintf("Failed to list profiles: %s", err)).Build(), err)
	}
	return out.WriteSuccess("auth.profiles", &profileList{Profiles: profiles})
}

type profileList struct {
	Profiles []string `json:"profiles"`
}

func (l *profileList) Headers() []string { return []string{"Profile"} }

func (l *profileList) Rows() [][]string {
	rows := make([][]string, 0, len(l.Profiles))
	for _, p := range l.Profiles {
		rows = append(rows, []string{p})
	}
	return rows
}

func (l *profileList) EmptyMessage() string { return "No profiles stored." }

func getConfigDir() string {
	dir, err := config.GetConfigDir()
	if err != nil {
		return ".dbxbackup"
	}
	return dir
}
