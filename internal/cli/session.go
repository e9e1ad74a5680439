package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/dl-alexandre/dbxbackup/internal/auth"
	"github.com/dl-alexandre/dbxbackup/internal/backup"
	"github.com/dl-alexandre/dbxbackup/internal/config"
	"github.com/dl-alexandre/dbxbackup/internal/journal"
	"github.com/dl-alexandre/dbxbackup/internal/logging"
	"github.com/dl-alexandre/dbxbackup/internal/remote"
	"github.com/dl-alexandre/dbxbackup/internal/transfer"
	"github.com/dl-alexandre/dbxbackup/internal/types"
	"github.com/dl-alexandre/dbxbackup/internal/utils"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// session carries everything one remote command needs: configuration, a
// trace-stamped logger, the authenticated store and the journal row.
type session struct {
	ctx       context.Context
	flags     types.GlobalFlags
	cfg       *config.Config
	logger    logging.Logger
	transport *logging.DebugTransport
	out       *OutputWriter
	traceID   string
	store     remote.Store
	creds     *types.Credentials
	run       journal.Run
}

// loadConfig reads the config file and lets it supply defaults for flags the
// user did not set
func loadConfig(cmd *cobra.Command) (*config.Config, types.GlobalFlags, error) {
	flags := GetGlobalFlags()
	cfg, err := config.Load(flags.Config)
	if err != nil {
		return nil, flags, utils.WrapAppError(utils.NewCLIError(utils.ErrCodeInvalidConfig, err.Error()).Build(), err)
	}
	if !cmd.Flags().Changed("profile") && cfg.DefaultProfile != "" {
		flags.Profile = cfg.DefaultProfile
	}
	if !cmd.Flags().Changed("output") && !flags.JSON && cfg.DefaultOutputFormat != "" {
		flags.OutputFormat = cfg.DefaultOutputFormat
	}
	return cfg, flags, nil
}

func logConfigFor(cfg *config.Config, flags types.GlobalFlags) (logging.LogConfig, error) {
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return logging.LogConfig{}, utils.WrapAppError(utils.NewCLIError(utils.ErrCodeInvalidConfig, err.Error()).Build(), err)
	}
	logConfig := logging.DefaultLogConfig()
	logConfig.Level = level
	logConfig.OutputFile = flags.LogFile
	logConfig.EnableConsole = !flags.Quiet
	logConfig.EnableDebug = flags.Debug
	logConfig.EnableColor = cfg.ColorOutput
	if flags.Verbose {
		logConfig.Level = logging.DEBUG
	}
	if flags.OutputFormat == types.OutputFormatJSON && !flags.Verbose && !flags.Debug {
		logConfig.EnableConsole = false
	}
	return logConfig, nil
}

// openSession prepares logging and prints the banner. Backups also log to
// the per-folder rotating file.
func openSession(cmd *cobra.Command, mode, remotePath string) (*session, error) {
	cfg, flags, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logConfig, err := logConfigFor(cfg, flags)
	if err != nil {
		return nil, err
	}
	base, transport, err := logging.NewDebugLoggerWithTransport(logConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	if mode == journal.ModeBackup {
		folderLog, err := logging.NewFileLogger(logging.FileLoggerConfig{
			FilePath:      cfg.BackupLogPath(remotePath),
			Level:         logConfig.Level,
			MaxFileSize:   utils.BackupLogMaxBytes,
			MaxBackups:    utils.BackupLogMaxBackups,
			RotateEnabled: true,
		})
		if err != nil {
			_ = base.Close()
			return nil, utils.WrapAppError(utils.NewCLIError(utils.ErrCodeLocalIO,
				fmt.Sprintf("Failed to open backup log: %s", err)).Build(), err)
		}
		base = logging.NewMultiLogger(base, folderLog)
	}

	traceID := uuid.NewString()
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = logging.ContextWithTraceID(ctx, traceID)
	cmd.SetContext(ctx)

	l := base.WithTraceID(traceID)
	logger = l

	s := &session{
		ctx:       ctx,
		flags:     flags,
		cfg:       cfg,
		logger:    l,
		transport: transport,
		out:       NewOutputWriter(flags.OutputFormat, flags.Quiet, flags.Verbose).WithTraceID(traceID),
		traceID:   traceID,
		run: journal.Run{
			TraceID:    traceID,
			Mode:       mode,
			Profile:    flags.Profile,
			RemotePath: remotePath,
			StartedAt:  time.Now(),
		},
	}
	l.Info("STARTING...")
	l.Info("Arguments: " + strings.Join(os.Args[1:], " "))
	return s, nil
}

// connect resolves credentials and validates them against the account
// endpoint. A rejected credential fails with AUTH_INVALID.
func (s *session) connect() error {
	configDir, err := config.GetConfigDir()
	if err != nil {
		return utils.WrapAppError(utils.NewCLIError(utils.ErrCodeInvalidConfig, err.Error()).Build(), err)
	}
	mgr := auth.NewManager(configDir)
	creds, err := mgr.ResolveCredentials(s.flags.Profile)
	if err != nil {
		return err
	}
	s.creds = creds

	var base *http.Client
	if s.transport != nil {
		base = s.transport.Client(s.cfg.GetRequestTimeout())
	}
	client := mgr.GetHTTPClient(s.ctx, creds, base, s.cfg.GetRequestTimeout())
	store := remote.NewDropboxStore(client, s.flags.Profile, s.logger)

	account, err := store.CurrentAccount(s.ctx)
	if err != nil {
		if code := utils.ErrorCode(err); code == utils.ErrCodeAuthInvalid || code == utils.ErrCodeAuthExpired {
			s.logger.Error("ERROR: Invalid access token; try re-generating an access token from the app console on the web.",
				logging.F("errorCode", code))
		}
		return err
	}
	s.logger.Info(fmt.Sprintf("Logged in as %s", account.DisplayName), logging.F("email", account.Email))
	s.store = store
	return nil
}

// service builds the backup service over the connected store
func (s *session) service(stages backup.Options) *backup.Service {
	stages.Store = s.store
	stages.Logger = s.logger
	stages.Engine = transfer.NewEngine(s.store, transfer.Options{
		ChunkSize: s.cfg.GetChunkSize(),
		Logger:    s.logger,
	})
	stages.TmpDir = s.cfg.TmpDir
	stages.DownloadDir = s.cfg.DownloadDir
	return backup.NewService(stages)
}

// close reports space, prints the footer and journals the run. err is the
// command's result and decides the recorded error code.
func (s *session) close(svc *backup.Service, err error) {
	if svc != nil && s.store != nil {
		if _, spaceErr := svc.SpaceReport(s.ctx); spaceErr != nil {
			s.logger.Warn("Failed to read space usage", logging.F("error", spaceErr.Error()))
		}
	}
	s.logger.Info("END.")

	s.run.FinishedAt = time.Now()
	if err != nil {
		s.run.ErrorCode = utils.ErrorCode(err)
		if s.run.Outcome == "" {
			s.run.Outcome = "failed"
		}
	} else if s.run.Outcome == "" {
		s.run.Outcome = "completed"
	}
	s.record()

	s.logger.Info(fmt.Sprintf("main finished in %.3f seconds", s.run.Duration().Seconds()))
	_ = s.logger.Close()
}

func (s *session) record() {
	if s.cfg.JournalPath == "" {
		return
	}
	db, err := journal.Open(s.cfg.JournalPath)
	if err != nil {
		s.logger.Warn("Failed to open run journal", logging.F("path", s.cfg.JournalPath), logging.F("error", err.Error()))
		return
	}
	defer db.Close()
	if _, err := db.Record(context.WithoutCancel(s.ctx), s.run); err != nil {
		s.logger.Warn("Failed to record run", logging.F("error", err.Error()))
	}
}
