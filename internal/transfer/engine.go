// Package transfer moves files to and from the remote store in chunks no
// larger than the per-request ceiling.
package transfer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/dl-alexandre/dbxbackup/internal/errors"
	"github.com/dl-alexandre/dbxbackup/internal/logging"
	"github.com/dl-alexandre/dbxbackup/internal/remote"
	"github.com/dl-alexandre/dbxbackup/internal/types"
	"github.com/dl-alexandre/dbxbackup/internal/utils"
)

// ProgressFunc observes a transfer after every chunk
type ProgressFunc func(types.Progress)

// Options configures an Engine. Zero values select the defaults.
type Options struct {
	ChunkSize int64 // upload ceiling per call
	ReadSize  int64 // download read size
	Progress  ProgressFunc
	Logger    logging.Logger
	Clock     func() time.Time

	// Create opens download targets; os.Create when nil
	Create func(path string) (io.WriteCloser, error)
}

// Engine drives chunked uploads and downloads over a remote.Store
type Engine struct {
	store     remote.Store
	chunkSize int64
	readSize  int64
	progress  ProgressFunc
	logger    logging.Logger
	now       func() time.Time
	create    func(path string) (io.WriteCloser, error)
}

// session tracks one chunked upload. It lives only for one Upload call.
type session struct {
	id          string
	offset      uint64
	destination string
}

// NewEngine creates a transfer engine
func NewEngine(store remote.Store, opts Options) *Engine {
	e := &Engine{
		store:     store,
		chunkSize: opts.ChunkSize,
		readSize:  opts.ReadSize,
		progress:  opts.Progress,
		logger:    opts.Logger,
		now:       opts.Clock,
		create:    opts.Create,
	}
	if e.chunkSize <= 0 {
		e.chunkSize = utils.UploadChunkSize
	}
	if e.readSize <= 0 {
		e.readSize = utils.DownloadReadSize
	}
	if e.logger == nil {
		e.logger = logging.NewNoOpLogger()
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.progress == nil {
		e.progress = LogProgress(e.logger)
	}
	if e.create == nil {
		e.create = func(path string) (io.WriteCloser, error) { return os.Create(path) }
	}
	return e
}

// ChunkSize returns the upload ceiling in bytes
func (e *Engine) ChunkSize() int64 {
	return e.chunkSize
}

func localError(message string, err error) error {
	return utils.WrapAppError(utils.NewCLIError(utils.ErrCodeLocalIO,
		fmt.Sprintf("%s: %s", message, err)).Build(), err)
}

// meter turns chunk completions into Progress observations
type meter struct {
	total      uint64
	processed  uint64
	start      time.Time
	chunkStart time.Time
	now        func() time.Time
	report     ProgressFunc
}

func newMeter(total uint64, now func() time.Time, report ProgressFunc) *meter {
	start := now()
	return &meter{total: total, start: start, chunkStart: start, now: now, report: report}
}

func (m *meter) add(n int) {
	m.processed += uint64(n)
	at := m.now()
	var rate float64
	if d := at.Sub(m.chunkStart).Seconds(); d > 0 {
		rate = float64(n) / d
	}
	m.chunkStart = at
	m.report(types.Progress{
		Processed:  m.processed,
		Total:      m.total,
		Elapsed:    at.Sub(m.start),
		Throughput: rate,
	})
}

// readChunk reads exactly n bytes. Anything less is a short read.
func readChunk(r io.Reader, buf []byte, n int64) ([]byte, error) {
	chunk := buf[:n]
	read, err := io.ReadFull(r, chunk)
	if err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("short read: got %d of %d bytes", read, n)
		}
		return nil, err
	}
	return chunk, nil
}

// Upload sends localPath to dest. Files above the chunk ceiling go through
// an upload session. Remote failures are reported in the result, local
// failures as the returned error. The source file is never removed.
func (e *Engine) Upload(ctx context.Context, localPath, dest string) (*types.TransferResult, error) {
	dest = remote.NormalizePath(dest)
	file, err := os.Open(localPath)
	if err != nil {
		return nil, localError("Failed to open file", err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return nil, localError("Failed to stat file", err)
	}
	total := uint64(stat.Size())

	logger := e.logger.WithContext(ctx)
	logger.Info("Uploading",
		logging.F("file", filepath.Base(localPath)),
		logging.F("dest", dest),
		logging.F("bytes", total),
	)

	result := &types.TransferResult{Status: types.TransferFailed, LocalPath: localPath}
	m := newMeter(total, e.now, e.progress)
	buf := make([]byte, min(int64(total), e.chunkSize))

	if int64(total) <= e.chunkSize {
		chunk, err := readChunk(file, buf, int64(total))
		if err != nil {
			return nil, localError("Failed to read file", err)
		}
		entry, err := e.store.UploadWhole(ctx, bytes.NewReader(chunk), dest)
		if err != nil {
			result.Err = err
			return result, nil
		}
		result.Chunks = append(result.Chunks, uint64(len(chunk)))
		m.add(len(chunk))
		return e.completed(result, entry, total), nil
	}

	chunk, err := readChunk(file, buf, e.chunkSize)
	if err != nil {
		return nil, localError("Failed to read file", err)
	}
	id, err := e.store.SessionStart(ctx, bytes.NewReader(chunk))
	if err != nil {
		result.Err = err
		return result, nil
	}
	s := &session{id: id, offset: uint64(len(chunk)), destination: dest}
	result.Chunks = append(result.Chunks, uint64(len(chunk)))
	m.add(len(chunk))

	for total-s.offset > uint64(e.chunkSize) {
		chunk, err := readChunk(file, buf, e.chunkSize)
		if err != nil {
			return nil, localError("Failed to read file", err)
		}
		if err := e.store.SessionAppend(ctx, s.id, s.offset, bytes.NewReader(chunk)); err != nil {
			result.Err = err
			result.Bytes = s.offset
			return result, nil
		}
		s.offset += uint64(len(chunk))
		result.Chunks = append(result.Chunks, uint64(len(chunk)))
		m.add(len(chunk))
	}

	chunk, err = readChunk(file, buf, int64(total-s.offset))
	if err != nil {
		return nil, localError("Failed to read file", err)
	}
	entry, err := e.store.SessionFinish(ctx, s.id, s.offset, bytes.NewReader(chunk), s.destination)
	if err != nil {
		result.Err = err
		result.Bytes = s.offset
		return result, nil
	}
	s.offset += uint64(len(chunk))
	result.Chunks = append(result.Chunks, uint64(len(chunk)))
	m.add(len(chunk))
	return e.completed(result, entry, s.offset), nil
}

func (e *Engine) completed(result *types.TransferResult, entry *types.RemoteEntry, n uint64) *types.TransferResult {
	result.Status = types.TransferCompleted
	result.Entry = entry
	result.Bytes = n
	return result
}

// Download streams remotePath into destDir/<name>. A file the remote cannot
// export is skipped without creating anything locally. On any failure the
// partial destination file is removed.
func (e *Engine) Download(ctx context.Context, remotePath, destDir string) (*types.TransferResult, error) {
	remotePath = remote.NormalizePath(remotePath)
	logger := e.logger.WithContext(ctx)

	meta, body, err := e.store.Download(ctx, remotePath)
	if err != nil {
		return &types.TransferResult{Status: types.TransferFailed, Err: err}, nil
	}
	if !meta.Downloadable || body == nil {
		logger.Warn("File is not downloadable, skipping", logging.F("path", meta.Path))
		return &types.TransferResult{Status: types.TransferSkipped}, nil
	}
	defer body.Close()

	target := filepath.Join(destDir, meta.Name)
	out, err := e.create(target)
	if err != nil {
		return nil, localError("Failed to create output file", err)
	}

	logger.Info("Downloading",
		logging.F("path", meta.Path),
		logging.F("target", target),
		logging.F("bytes", meta.Size),
	)

	result := &types.TransferResult{Status: types.TransferFailed, LocalPath: target}
	abort := func() {
		out.Close()
		os.Remove(target)
	}

	m := newMeter(meta.Size, e.now, e.progress)
	buf := make([]byte, e.readSize)
	for {
		n, readErr := io.ReadFull(body, buf)
		if n > 0 {
			if _, err := out.Write(buf[:n]); err != nil {
				abort()
				return nil, localError("Failed to write output file", err)
			}
			result.Bytes += uint64(n)
			result.Chunks = append(result.Chunks, uint64(n))
			m.add(n)
		}
		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			break
		}
		if readErr != nil {
			abort()
			reqCtx := remote.NewRequestContext("", remotePath, types.RequestTypeDownload)
			if traceID := logging.TraceIDFromContext(ctx); traceID != "" {
				reqCtx.TraceID = traceID
			}
			result.Err = errors.ClassifyDropboxError("download", readErr, reqCtx, utils.ErrCodeDownloadFailed, logger)
			result.LocalPath = ""
			return result, nil
		}
	}

	if err := out.Close(); err != nil {
		os.Remove(target)
		return nil, localError("Failed to close output file", err)
	}
	result.Status = types.TransferCompleted
	return result, nil
}
