package cli

import (
	"errors"
	"fmt"
	"os"

	apperrors "github.com/dl-alexandre/dbxbackup/internal/errors"
	"github.com/dl-alexandre/dbxbackup/internal/logging"
	"github.com/dl-alexandre/dbxbackup/internal/types"
	"github.com/dl-alexandre/dbxbackup/internal/utils"
	"github.com/dl-alexandre/dbxbackup/pkg/version"
	"github.com/spf13/cobra"
)

var (
	globalFlags types.GlobalFlags
	logger      logging.Logger = logging.NewNoOpLogger()
)

var rootCmd = &cobra.Command{
	Use:   "dbxbackup",
	Short: "Encrypted, deduplicated folder backups to Dropbox",
	Long: `dbxbackup archives a local folder, compresses and encrypts it, and uploads it
to a Dropbox folder unless an identical backup is already stored there.
The folder keeps at most --max-files backups; the oldest is evicted first.

All commands support JSON output for automation and scripting.`,
	Version:       version.Get().Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return validateGlobalFlags()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Long:  "Print the version number of dbxbackup",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := NewOutputWriter(globalFlags.OutputFormat, globalFlags.Quiet, globalFlags.Verbose)
		if globalFlags.OutputFormat == types.OutputFormatJSON {
			return out.WriteSuccess("version", version.Get())
		}
		fmt.Fprintln(cmd.OutOrStdout(), version.Get().String())
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&globalFlags.Profile, "profile", "default", "Authentication profile to use")
	rootCmd.PersistentFlags().StringVar((*string)(&globalFlags.OutputFormat), "output", "table", "Output format (json, table)")
	rootCmd.PersistentFlags().BoolVarP(&globalFlags.Quiet, "quiet", "q", false, "Suppress non-essential output")
	rootCmd.PersistentFlags().BoolVarP(&globalFlags.Verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().BoolVar(&globalFlags.Debug, "debug", false, "Log every remote request")
	rootCmd.PersistentFlags().StringVar(&globalFlags.Config, "config", "", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&globalFlags.LogFile, "log-file", "", "Path to log file")
	rootCmd.PersistentFlags().BoolVar(&globalFlags.JSON, "json", false, "Output in JSON format (alias for --output json)")

	rootCmd.AddCommand(versionCmd)
}

func validateGlobalFlags() error {
	// Handle --json flag as alias for --output json
	if globalFlags.JSON {
		globalFlags.OutputFormat = types.OutputFormatJSON
	}

	if globalFlags.OutputFormat != types.OutputFormatJSON && globalFlags.OutputFormat != types.OutputFormatTable {
		return utils.NewAppError(utils.NewCLIError(utils.ErrCodeInvalidArgument,
			fmt.Sprintf("invalid output format: %s", globalFlags.OutputFormat)).Build())
	}
	return nil
}

// cliErrorFor converts any error into the stable error shape
func cliErrorFor(err error) types.CLIError {
	var appErr *utils.AppError
	if errors.As(err, &appErr) {
		return appErr.CLIError
	}
	var remoteErr *apperrors.RemoteAPIError
	if errors.As(err, &remoteErr) {
		return remoteErr.CLIError()
	}
	return utils.NewCLIError(utils.ErrCodeUnknown, err.Error()).Build()
}

// Execute runs the root command and exits with the code mapped from the
// command's error
func Execute() error {
	cmd, err := rootCmd.ExecuteC()
	if err == nil {
		return nil
	}

	name := "dbxbackup"
	if cmd != nil {
		name = commandName(cmd)
	}
	out := NewOutputWriter(globalFlags.OutputFormat, false, globalFlags.Verbose)
	if writeErr := out.WriteError(name, cliErrorFor(err)); writeErr != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	os.Exit(utils.ExitCodeFor(err))
	return err
}

// commandName returns the dotted command path without the root, e.g. "auth.login"
func commandName(cmd *cobra.Command) string {
	name := cmd.Name()
	for p := cmd.Parent(); p != nil && p != rootCmd; p = p.Parent() {
		name = p.Name() + "." + name
	}
	return name
}

// GetGlobalFlags returns the global flags
func GetGlobalFlags() types.GlobalFlags {
	return globalFlags
}

// GetLogger returns the global logger
func GetLogger() logging.Logger {
	return logger
}
