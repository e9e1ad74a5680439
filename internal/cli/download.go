package cli

import (
	"path/filepath"

	"github.com/dl-alexandre/dbxbackup/internal/backup"
	"github.com/dl-alexandre/dbxbackup/internal/journal"
	"github.com/dl-alexandre/dbxbackup/internal/types"
	"github.com/spf13/cobra"
)

var downloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Download a remote file",
	Long: `Download a remote file into the configured download directory.

Files the remote marks as not downloadable are skipped, which is not an error.

Examples:
  dbxbackup download -f /backups/laptop/20240601120000-5eb63bbbe01eeed093cb22bb8f5acdc3.tar.xz.gpg`,
	Args: cobra.NoArgs,
	RunE: runDownload,
}

var downloadFile string

func init() {
	downloadCmd.Flags().StringVarP(&downloadFile, "file", "f", "", "Remote file to download")
	_ = downloadCmd.MarkFlagRequired("file")

	rootCmd.AddCommand(downloadCmd)
}

func runDownload(cmd *cobra.Command, args []string) (err error) {
	s, err := openSession(cmd, journal.ModeDownload, downloadFile)
	if err != nil {
		return err
	}
	var svc *backup.Service
	defer func() { s.close(svc, err) }()

	if err := s.connect(); err != nil {
		return err
	}
	svc = s.service(backup.Options{})

	result, err := svc.Download(s.ctx, downloadFile)
	if result != nil {
		s.run.Outcome = string(result.Status)
		s.run.LocalPath = result.LocalPath
		s.run.FileName = filepath.Base(downloadFile)
		s.run.Bytes = int64(result.Bytes)
	}
	if err != nil {
		return err
	}
	if result.Status == types.TransferSkipped {
		s.out.AddWarning("NOT_DOWNLOADABLE", "The remote file is not downloadable and was skipped", "warning")
	}
	return s.out.WriteSuccess("download", result)
}
