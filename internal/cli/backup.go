package cli

import (
	"github.com/dl-alexandre/dbxbackup/internal/backup"
	"github.com/dl-alexandre/dbxbackup/internal/config"
	"github.com/dl-alexandre/dbxbackup/internal/journal"
	"github.com/dl-alexandre/dbxbackup/internal/pipeline"
	"github.com/dl-alexandre/dbxbackup/internal/transfer"
	"github.com/dl-alexandre/dbxbackup/internal/utils"
	"github.com/spf13/cobra"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Back up a local folder to a remote folder",
	Long: `Archive, compress and encrypt a local folder and upload it to a remote folder.

The upload is skipped when a backup with identical content is already stored.
After a successful upload the oldest backup is evicted once the folder holds
more than --max-files backups. Without --max-files the configured
defaultMaxFiles applies (7 unless changed with 'config set').

Examples:
  dbxbackup backup -r /backups/laptop -l ~/projects -m 7
  dbxbackup backup -r /backups/laptop -l ~/projects --exclude node_modules/ --exclude '*.log'
  dbxbackup backup -r /backups/laptop -l ~/projects --json`,
	Args: cobra.NoArgs,
	RunE: runBackup,
}

var (
	backupRemoteFolder string
	backupLocalFolder  string
	backupMaxFiles     int
	backupExclude      []string
)

func init() {
	backupCmd.Flags().StringVarP(&backupRemoteFolder, "remote-folder", "r", "", "Remote folder that holds the backups")
	backupCmd.Flags().StringVarP(&backupLocalFolder, "local-folder", "l", "", "Local folder to back up")
	backupCmd.Flags().IntVarP(&backupMaxFiles, "max-files", "m", 0, "Backups to keep in the remote folder (default: config defaultMaxFiles)")
	backupCmd.Flags().StringSliceVar(&backupExclude, "exclude", nil, "Patterns to leave out of the archive (repeatable)")
	_ = backupCmd.MarkFlagRequired("remote-folder")
	_ = backupCmd.MarkFlagRequired("local-folder")

	rootCmd.AddCommand(backupCmd)
}

func runBackup(cmd *cobra.Command, args []string) (err error) {
	s, err := openSession(cmd, journal.ModeBackup, backupRemoteFolder)
	if err != nil {
		return err
	}
	s.run.LocalPath = backupLocalFolder

	var svc *backup.Service
	defer func() { s.close(svc, err) }()

	maxFiles := resolveMaxFiles(cmd.Flags().Changed("max-files"), backupMaxFiles, s.cfg)

	if err := s.connect(); err != nil {
		return err
	}
	stages, err := s.stages()
	if err != nil {
		return err
	}
	svc = s.service(stages)

	report, err := svc.Backup(s.ctx, backup.Request{
		SourceDir:    backupLocalFolder,
		RemoteFolder: backupRemoteFolder,
		MaxFiles:     maxFiles,
	})
	if report != nil {
		s.run.Outcome = string(report.Outcome)
		s.run.FileName = report.Name
		s.run.Fingerprint = report.Fingerprint
		s.run.Bytes = int64(report.Bytes)
		if ev := report.Eviction; ev != nil && ev.Skipped {
			s.out.AddWarning("EVICTION_SKIPPED", "Oldest entry is not a backup archive: "+ev.Oldest, "warning")
		}
	}
	if err != nil {
		return err
	}
	return s.out.WriteSuccess("backup", report)
}

// resolveMaxFiles prefers an explicit flag over the configured default
func resolveMaxFiles(flagSet bool, flagValue int, cfg *config.Config) int {
	if flagSet {
		return flagValue
	}
	return cfg.DefaultMaxFiles
}

// stages builds the archive, compress and encrypt collaborators from config
func (s *session) stages() (backup.Options, error) {
	opts := pipeline.Options{
		Logger:   s.logger,
		Progress: transfer.LogProgress(s.logger),
	}

	if err := s.cfg.ValidateEncryption(s.creds.Passphrase); err != nil {
		return backup.Options{}, utils.WrapAppError(utils.NewCLIError(utils.ErrCodeInvalidConfig, err.Error()).Build(), err)
	}

	var (
		encryptor *pipeline.PGPEncryptor
		err       error
	)
	switch s.cfg.EncryptionMode {
	case config.EncryptionSymmetric:
		encryptor, err = pipeline.NewSymmetricEncryptor(s.creds.Passphrase, opts)
	default:
		encryptor, err = pipeline.NewAsymmetricEncryptor(s.cfg.RecipientKeyFile, s.cfg.Recipient, opts)
	}
	if err != nil {
		return backup.Options{}, err
	}

	return backup.Options{
		Archiver:   pipeline.NewTarArchiver(opts).WithExclude(append(append([]string{}, s.cfg.ExcludePatterns...), backupExclude...)),
		Compressor: pipeline.NewXZCompressor(opts),
		Encryptor:  encryptor,
	}, nil
}
