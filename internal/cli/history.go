package cli

import (
	"fmt"
	"os"

	"github.com/dl-alexandre/dbxbackup/internal/config"
	"github.com/dl-alexandre/dbxbackup/internal/journal"
	"github.com/dl-alexandre/dbxbackup/internal/utils"
	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recorded runs",
	Long: `Show the run journal, newest first.

Examples:
  dbxbackup history
  dbxbackup history --limit 5 --json`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

var historyLimit int

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum runs to show (0 for all)")

	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	flags := GetGlobalFlags()
	out := NewOutputWriter(flags.OutputFormat, flags.Quiet, flags.Verbose)

	cfg, err := config.Load(flags.Config)
	if err != nil {
		return invalidConfig(err)
	}
	if _, err := os.Stat(cfg.JournalPath); os.IsNotExist(err) {
		return out.WriteSuccess("history", &journal.RunList{})
	}

	db, err := journal.Open(cfg.JournalPath)
	if err != nil {
		return utils.WrapAppError(utils.NewCLIError(utils.ErrCodeJournalFailed,
			fmt.Sprintf("Failed to open run journal: %s", err)).Build(), err)
	}
	defer db.Close()

	runs, err := db.List(cmd.Context(), historyLimit)
	if err != nil {
		return utils.WrapAppError(utils.NewCLIError(utils.ErrCodeJournalFailed,
			fmt.Sprintf("Failed to read run journal: %s", err)).Build(), err)
	}
	return out.WriteSuccess("history", &journal.RunList{Runs: runs})
}
