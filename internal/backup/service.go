// Package backup sequences the pipeline, the transfer engine and the
// retention policy into the backup, download and list flows.
package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dl-alexandre/dbxbackup/internal/logging"
	"github.com/dl-alexandre/dbxbackup/internal/pipeline"
	"github.com/dl-alexandre/dbxbackup/internal/remote"
	"github.com/dl-alexandre/dbxbackup/internal/retention"
	"github.com/dl-alexandre/dbxbackup/internal/transfer"
	"github.com/dl-alexandre/dbxbackup/internal/types"
	"github.com/dl-alexandre/dbxbackup/internal/utils"
)

// Options wires a Service. Engine and Retention default to instances built
// on Store.
type Options struct {
	Store       remote.Store
	Engine      *transfer.Engine
	Retention   *retention.Manager
	Archiver    pipeline.Archiver
	Compressor  pipeline.Compressor
	Encryptor   pipeline.Encryptor
	Logger      logging.Logger
	Clock       func() time.Time
	TmpDir      string
	DownloadDir string
}

// Service runs the user-facing flows
type Service struct {
	store       remote.Store
	engine      *transfer.Engine
	retention   *retention.Manager
	archiver    pipeline.Archiver
	compressor  pipeline.Compressor
	encryptor   pipeline.Encryptor
	logger      logging.Logger
	now         func() time.Time
	tmpDir      string
	downloadDir string
}

// Request describes one backup run
type Request struct {
	SourceDir    string
	RemoteFolder string
	MaxFiles     int
}

// NewService creates a backup service
func NewService(opts Options) *Service {
	s := &Service{
		store:       opts.Store,
		engine:      opts.Engine,
		retention:   opts.Retention,
		archiver:    opts.Archiver,
		compressor:  opts.Compressor,
		encryptor:   opts.Encryptor,
		logger:      opts.Logger,
		now:         opts.Clock,
		tmpDir:      opts.TmpDir,
		downloadDir: opts.DownloadDir,
	}
	if s.logger == nil {
		s.logger = logging.NewNoOpLogger()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.engine == nil {
		s.engine = transfer.NewEngine(s.store, transfer.Options{Logger: s.logger, Clock: s.now})
	}
	if s.retention == nil {
		s.retention = retention.NewManager(s.store, s.logger)
	}
	if s.tmpDir == "" {
		s.tmpDir = os.TempDir()
	}
	if s.downloadDir == "" {
		s.downloadDir = "."
	}
	return s
}

// timed logs "<flow> finished in <seconds>" when the returned func runs
func (s *Service) timed(logger logging.Logger, flow string) func() {
	start := s.now()
	return func() {
		logger.Info(fmt.Sprintf("%s finished in %.3f seconds", flow, s.now().Sub(start).Seconds()))
	}
}

// removeLocal deletes temporary artifacts, ignoring ones already gone
func removeLocal(logger logging.Logger, paths ...string) {
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			logger.Warn("Failed to remove temporary file", logging.F("file", p), logging.F("error", err.Error()))
		}
	}
}

// extensionChain returns everything after the first dot of the base name,
// e.g. ".tar.xz.gpg"
func extensionChain(path string) string {
	base := filepath.Base(path)
	if i := strings.Index(base, "."); i >= 0 {
		return base[i:]
	}
	return ""
}

// Backup archives req.SourceDir and stores it under req.RemoteFolder
// unless a backup with the same content is already there. A failed upload
// returns the report together with an UPLOAD_FAILED error.
func (s *Service) Backup(ctx context.Context, req Request) (*types.BackupReport, error) {
	logger := s.logger.WithContext(ctx)
	defer s.timed(logger, "backup")()

	if req.MaxFiles < 1 {
		return nil, utils.NewAppError(utils.NewCLIError(utils.ErrCodeInvalidArgument,
			fmt.Sprintf("max files must be at least 1, got %d", req.MaxFiles)).Build())
	}
	folder := remote.NormalizePath(req.RemoteFolder)
	report := &types.BackupReport{Outcome: types.BackupFailed}

	if err := os.MkdirAll(s.tmpDir, 0700); err != nil {
		return report, utils.WrapAppError(utils.NewCLIError(utils.ErrCodeLocalIO,
			fmt.Sprintf("Failed to create temporary directory: %s", err)).Build(), err)
	}

	ts := s.now().UTC()
	stamp := ts.Format(retention.TimestampLayout)
	tarPath := filepath.Join(s.tmpDir, stamp+utils.ArchiveExt)

	if _, err := s.archiver.Archive(ctx, req.SourceDir, tarPath); err != nil {
		removeLocal(logger, tarPath)
		return report, err
	}

	fp, err := s.retention.Fingerprint(tarPath)
	if err != nil {
		removeLocal(logger, tarPath)
		return report, err
	}
	report.Fingerprint = fp.String()

	exists, err := s.retention.Exists(ctx, fp, folder)
	if err != nil {
		removeLocal(logger, tarPath)
		return report, err
	}
	if exists {
		logger.Info(fmt.Sprintf("Found md5 %q in remote folder, no backup needed", fp), logging.F("folder", folder))
		removeLocal(logger, tarPath)
		report.Outcome = types.BackupDuplicate
		return report, nil
	}

	compressed, err := s.compressor.Compress(ctx, tarPath)
	if err != nil {
		removeLocal(logger, tarPath, tarPath+utils.CompressExt)
		return report, err
	}
	encrypted, err := s.encryptor.Encrypt(ctx, compressed)
	if err != nil {
		removeLocal(logger, compressed, compressed+utils.EncryptExt)
		return report, err
	}

	ext := extensionChain(encrypted)
	name := retention.CanonicalName(ts, fp, ext)
	final := filepath.Join(s.tmpDir, name)
	if err := os.Rename(encrypted, final); err != nil {
		removeLocal(logger, encrypted)
		return report, utils.WrapAppError(utils.NewCLIError(utils.ErrCodeLocalIO,
			fmt.Sprintf("Failed to rename archive: %s", err)).Build(), err)
	}
	report.Name = name

	stat, err := os.Stat(final)
	if err != nil {
		removeLocal(logger, final)
		return report, utils.WrapAppError(utils.NewCLIError(utils.ErrCodeLocalIO,
			fmt.Sprintf("Failed to stat archive: %s", err)).Build(), err)
	}
	size := uint64(stat.Size())
	report.Bytes = size

	space, err := s.CheckSpace(ctx, size)
	report.Space = space
	if err != nil {
		removeLocal(logger, final)
		return report, err
	}

	dest := remote.Join(folder, name)
	logger.Info(fmt.Sprintf("File %s not in remote folder, uploading", name), logging.F("dest", dest))
	result, err := s.engine.Upload(ctx, final, dest)
	if err != nil {
		removeLocal(logger, final)
		return report, err
	}
	if !result.Succeeded() {
		logger.Error("Failed to upload the file",
			logging.F("dest", dest),
			logging.F("errorCode", utils.ErrorCode(result.Err)),
			logging.F("error", result.Err.Error()),
		)
		removeLocal(logger, final)
		report.Outcome = types.BackupUploadFailed
		return report, utils.WrapAppError(utils.NewCLIError(utils.ErrCodeUploadFailed,
			fmt.Sprintf("Failed to upload the file: %s", result.Err)).
			WithContext("remoteCode", utils.ErrorCode(result.Err)).
			WithContext("path", dest).
			Build(), result.Err)
	}

	report.Outcome = types.BackupUploaded
	report.RemotePath = result.Entry.Path
	logger.Info("File uploaded successfully", logging.F("path", result.Entry.Path))

	logger.Info("Cleaning")
	removeLocal(logger, final)
	ev, err := s.retention.EnforceCapacity(ctx, folder, req.MaxFiles, ext)
	if err != nil {
		logger.Warn("Capacity check failed", logging.F("folder", folder), logging.F("error", err.Error()))
		return report, nil
	}
	report.Eviction = ev
	return report, nil
}

// CheckSpace logs the account usage and fails with QUOTA_EXCEEDED when
// fewer than size bytes are free
func (s *Service) CheckSpace(ctx context.Context, size uint64) (*types.SpaceUsage, error) {
	space, err := s.SpaceReport(ctx)
	if err != nil {
		return nil, err
	}
	if space.Free() < size {
		s.logger.WithContext(ctx).Error(fmt.Sprintf("Not enough space to upload file of %s", humanSize(size)))
		return space, utils.NewAppError(utils.NewCLIError(utils.ErrCodeQuotaExceeded,
			fmt.Sprintf("Not enough space to upload file of %d bytes (%d free)", size, space.Free())).
			WithContext("required", size).
			WithContext("free", space.Free()).
			Build())
	}
	return space, nil
}

// SpaceReport fetches and logs "Disk space used: <used>/<allocated> (<pct>%)"
func (s *Service) SpaceReport(ctx context.Context) (*types.SpaceUsage, error) {
	space, err := s.store.SpaceUsage(ctx)
	if err != nil {
		return nil, err
	}
	s.logger.WithContext(ctx).Info("Disk space used: " + space.String())
	return space, nil
}

// Download fetches remotePath into the download directory. A skipped
// download is not an error.
func (s *Service) Download(ctx context.Context, remotePath string) (*types.TransferResult, error) {
	logger := s.logger.WithContext(ctx)
	defer s.timed(logger, "download")()

	p := remote.NormalizePath(remotePath)
	result, err := s.engine.Download(ctx, p, s.downloadDir)
	if err != nil {
		return nil, err
	}
	if result.Status == types.TransferFailed {
		logger.Error(fmt.Sprintf("Couldn't download file %s", p), logging.F("error", result.Err.Error()))
		return result, result.Err
	}
	return result, nil
}

// List returns the entry for a file, or the children of a folder
func (s *Service) List(ctx context.Context, remotePath string) (*types.EntryList, error) {
	logger := s.logger.WithContext(ctx)
	defer s.timed(logger, "list")()

	p := remote.NormalizePath(remotePath)
	kind, err := s.store.Classify(ctx, p)
	if err != nil {
		return nil, err
	}
	if kind == types.PathNotFound {
		return nil, utils.NewAppError(utils.NewCLIError(utils.ErrCodeFileNotFound,
			fmt.Sprintf("Not Found: %s", p)).
			WithContext("path", p).
			Build())
	}

	entries, err := s.store.List(ctx, p)
	if err != nil {
		return nil, err
	}
	logger.Info("Listing results", logging.F("path", p), logging.F("count", len(entries)))
	return &types.EntryList{Path: p, Entries: entries}, nil
}

func humanSize(n uint64) string {
	return fmt.Sprintf("%.2f MB", float64(n)/(1024*1024))
}
