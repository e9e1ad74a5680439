package cli

import (
	"github.com/dl-alexandre/dbxbackup/internal/backup"
	"github.com/dl-alexandre/dbxbackup/internal/journal"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List a remote file or folder",
	Long: `List the entry for a remote file, or every immediate child of a remote folder.

Examples:
  dbxbackup list -f /backups/laptop
  dbxbackup list -f /backups/laptop --json`,
	Args: cobra.NoArgs,
	RunE: runList,
}

var listPath string

func init() {
	listCmd.Flags().StringVarP(&listPath, "file", "f", "/", "Remote path to list")

	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) (err error) {
	s, err := openSession(cmd, journal.ModeList, listPath)
	if err != nil {
		return err
	}
	var svc *backup.Service
	defer func() { s.close(svc, err) }()

	if err := s.connect(); err != nil {
		return err
	}
	svc = s.service(backup.Options{})

	list, err := svc.List(s.ctx, listPath)
	if err != nil {
		return err
	}
	return s.out.WriteSuccess("list", list)
}
