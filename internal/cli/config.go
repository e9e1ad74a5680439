package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dl-alexandre/dbxbackup/internal/config"
	"github.com/dl-alexandre/dbxbackup/internal/types"
	"github.com/dl-alexandre/dbxbackup/internal/utils"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management",
	Long:  "Commands for managing dbxbackup configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  "Display the effective configuration: file values with environment overrides applied",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value. Use 'config show' to see available keys",
	Args:  cobra.ExactArgs(2),
	RunE:  runConfigSet,
}

var configResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset configuration to defaults",
	Long:  "Reset all configuration settings to their default values",
	Args:  cobra.NoArgs,
	RunE:  runConfigReset,
}

func init() {
	rootCmd.AddCommand(configCmd)

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configResetCmd)
}

func invalidConfig(err error) error {
	return utils.WrapAppError(utils.NewCLIError(utils.ErrCodeInvalidConfig, err.Error()).Build(), err)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	flags := GetGlobalFlags()
	out := NewOutputWriter(flags.OutputFormat, flags.Quiet, flags.Verbose)

	cfg, err := config.Load(flags.Config)
	if err != nil {
		return invalidConfig(err)
	}
	return out.WriteSuccess("config.show", configTable(cfg))
}

// applyConfigValue sets one key. Keys match the JSON field names, case
// insensitively.
func applyConfigValue(cfg *config.Config, key, value string) error {
	atoi := func(name string) (int, error) {
		n, err := strconv.Atoi(value)
		if err != nil {
			return 0, fmt.Errorf("%s must be an integer, got %q", name, value)
		}
		return n, nil
	}

	var err error
	switch strings.ToLower(key) {
	case "defaultprofile":
		cfg.DefaultProfile = value
	case "defaultoutputformat":
		cfg.DefaultOutputFormat = types.OutputFormat(value)
	case "requesttimeout":
		cfg.RequestTimeout, err = atoi("request timeout")
	case "chunksizemib":
		cfg.ChunkSizeMiB, err = atoi("chunk size")
	case "loglevel":
		cfg.LogLevel = value
	case "logdir":
		cfg.LogDir = value
	case "tmpdir":
		cfg.TmpDir = value
	case "downloaddir":
		cfg.DownloadDir = value
	case "journalpath":
		cfg.JournalPath = value
	case "encryptionmode":
		cfg.EncryptionMode = config.EncryptionMode(value)
	case "recipientkeyfile":
		cfg.RecipientKeyFile = value
	case "recipient":
		cfg.Recipient = value
	case "defaultmaxfiles":
		cfg.DefaultMaxFiles, err = atoi("default max files")
	case "excludepatterns":
		cfg.ExcludePatterns = config.SplitList(value)
	case "coloroutput":
		cfg.ColorOutput = parseBool(value)
	default:
		return fmt.Errorf("unknown configuration key: %s", key)
	}
	if err != nil {
		return err
	}
	return cfg.Validate()
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	flags := GetGlobalFlags()
	out := NewOutputWriter(flags.OutputFormat, flags.Quiet, flags.Verbose)

	key := args[0]
	value := args[1]

	cfg, err := config.Load(flags.Config)
	if err != nil {
		return invalidConfig(err)
	}
	if err := applyConfigValue(cfg, key, value); err != nil {
		return utils.WrapAppError(utils.NewCLIError(utils.ErrCodeInvalidArgument, err.Error()).Build(), err)
	}
	if err := cfg.Save(flags.Config); err != nil {
		return utils.WrapAppError(utils.NewCLIError(utils.ErrCodeLocalIO,
			fmt.Sprintf("Failed to save configuration: %v", err)).Build(), err)
	}

	out.Log("Configuration updated: %s = %s", key, value)
	return out.WriteSuccess("config.set", map[string]interface{}{
		"key":   key,
		"value": value,
	})
}

func runConfigReset(cmd *cobra.Command, args []string) error {
	flags := GetGlobalFlags()
	out := NewOutputWriter(flags.OutputFormat, flags.Quiet, flags.Verbose)

	cfg := config.DefaultConfig()
	if err := cfg.Save(flags.Config); err != nil {
		return utils.WrapAppError(utils.NewCLIError(utils.ErrCodeLocalIO,
			fmt.Sprintf("Failed to reset configuration: %v", err)).Build(), err)
	}

	out.Log("Configuration reset to defaults")
	return out.WriteSuccess("config.reset", configTable(cfg))
}

// configView keeps the JSON shape of Config while rendering as a table
type configView struct {
	*config.Config
}

func configTable(cfg *config.Config) *configView {
	return &configView{Config: cfg}
}

func (v *configView) AsTableRenderer() types.TableRenderer {
	t := &fieldTable{empty: "No configuration."}
	t.add("defaultProfile", v.DefaultProfile)
	t.add("defaultOutputFormat", string(v.DefaultOutputFormat))
	t.add("requestTimeout", strconv.Itoa(v.RequestTimeout))
	t.add("chunkSizeMiB", strconv.Itoa(v.ChunkSizeMiB))
	t.add("logLevel", v.LogLevel)
	t.add("logDir", v.LogDir)
	t.add("tmpDir", v.TmpDir)
	t.add("downloadDir", v.DownloadDir)
	t.add("journalPath", v.JournalPath)
	t.add("encryptionMode", string(v.EncryptionMode))
	t.add("recipientKeyFile", v.RecipientKeyFile)
	t.add("recipient", v.Recipient)
	t.add("defaultMaxFiles", strconv.Itoa(v.DefaultMaxFiles))
	t.add("excludePatterns", strings.Join(v.ExcludePatterns, ","))
	t.add("colorOutput", strconv.FormatBool(v.ColorOutput))
	return t
}

// parseBool parses a boolean value from a string
func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes" || s == "on"
}
