// Package retention decides whether a candidate backup is already stored
// and keeps the number of stored backups under a bound.
package retention

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/dl-alexandre/dbxbackup/internal/logging"
	"github.com/dl-alexandre/dbxbackup/internal/remote"
	"github.com/dl-alexandre/dbxbackup/internal/types"
	"github.com/dl-alexandre/dbxbackup/internal/utils"
)

// ErrDestinationIsFile means the backup folder path names a file
var ErrDestinationIsFile = stderrors.New("destination is a file")

// Manager applies the retention policy to one remote store
type Manager struct {
	store    remote.Store
	logger   logging.Logger
	readSize int
}

// NewManager creates a retention manager
func NewManager(store remote.Store, logger logging.Logger) *Manager {
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	return &Manager{store: store, logger: logger, readSize: utils.FingerprintRead}
}

// Fingerprint hashes the file at path
func (m *Manager) Fingerprint(path string) (Fingerprint, error) {
	m.logger.Info("Calculating md5sum", logging.F("file", path))

	f, err := os.Open(path)
	if err != nil {
		return "", utils.WrapAppError(utils.NewCLIError(utils.ErrCodeLocalIO,
			fmt.Sprintf("Failed to open file: %s", err)).Build(), err)
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.CopyBuffer(h, f, make([]byte, m.readSize)); err != nil {
		return "", utils.WrapAppError(utils.NewCLIError(utils.ErrCodeLocalIO,
			fmt.Sprintf("Failed to read file: %s", err)).Build(), err)
	}
	return Fingerprint(hex.EncodeToString(h.Sum(nil))), nil
}

// Exists reports whether folder already holds a backup with fingerprint fp.
// A missing folder is created and reported as not holding it.
func (m *Manager) Exists(ctx context.Context, fp Fingerprint, folder string) (bool, error) {
	folder = remote.NormalizePath(folder)
	logger := m.logger.WithContext(ctx)

	kind, err := m.store.Classify(ctx, folder)
	if err != nil {
		return false, err
	}

	switch kind {
	case types.PathFile:
		return false, utils.WrapAppError(utils.NewCLIError(utils.ErrCodeInvalidPath,
			fmt.Sprintf("Destination %s is a file, expected a folder", folder)).
			WithContext("path", folder).
			Build(), ErrDestinationIsFile)
	case types.PathNotFound:
		logger.Info("Remote folder not found, creating it", logging.F("folder", folder))
		if err := m.store.CreateFolder(ctx, folder); err != nil {
			return false, err
		}
		return false, nil
	}

	entries, err := m.store.List(ctx, folder)
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if token, ok := FingerprintToken(e.Name); ok && token == string(fp) {
			logger.Debug("Fingerprint matched", logging.F("name", e.Name))
			return true, nil
		}
	}
	return false, nil
}

// EnforceCapacity evicts at most one backup when folder holds more than
// maxFiles entries. Every entry counts, but only names ending in ext are
// ever deleted. Delete failures are reported in the result, not returned.
func (m *Manager) EnforceCapacity(ctx context.Context, folder string, maxFiles int, ext string) (*types.Eviction, error) {
	folder = remote.NormalizePath(folder)
	logger := m.logger.WithContext(ctx)

	entries, err := m.store.List(ctx, folder)
	if err != nil {
		return nil, err
	}

	ev := &types.Eviction{Count: len(entries), Max: maxFiles}
	if ev.Count <= maxFiles {
		return ev, nil
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name)
	}
	sort.Strings(names)
	ev.Oldest = names[0]

	if !strings.HasSuffix(ev.Oldest, ext) {
		ev.Skipped = true
		logger.Warn(fmt.Sprintf("Tried to delete the file '%s' but it doesn't appear to be a '%s' archive", ev.Oldest, ext),
			logging.F("folder", folder))
		return ev, nil
	}

	target := remote.Join(folder, ev.Oldest)
	logger.Info("Deleting oldest backup", logging.F("path", target), logging.F("count", ev.Count), logging.F("max", maxFiles))
	if err := m.store.Delete(ctx, target); err != nil {
		ev.DeleteErr = err
		logger.Error("Couldn't delete the file", logging.F("path", target), logging.F("error", err.Error()))
		return ev, nil
	}
	ev.Deleted = true
	return ev, nil
}
