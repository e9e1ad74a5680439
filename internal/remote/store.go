// Package remote binds the backup tool to the remote file API.
package remote

import (
	"context"
	"io"
	"path"
	"strings"

	"github.com/dl-alexandre/dbxbackup/internal/types"
	"github.com/google/uuid"
)

// Store is the set of remote primitives the transfer engine, the retention
// manager and the orchestrator run on. Every method blocks until the remote
// call returns. Failures are *errors.RemoteAPIError values.
type Store interface {
	// Classify reports whether path is a file, a folder or absent.
	// Absence is not an error.
	Classify(ctx context.Context, path string) (types.PathKind, error)

	// List returns a file's own entry, or every immediate child of a folder.
	List(ctx context.Context, path string) ([]types.RemoteEntry, error)

	CreateFolder(ctx context.Context, path string) error

	// UploadWhole stores r at dest in one call.
	UploadWhole(ctx context.Context, r io.Reader, dest string) (*types.RemoteEntry, error)

	SessionStart(ctx context.Context, r io.Reader) (string, error)
	SessionAppend(ctx context.Context, sessionID string, offset uint64, r io.Reader) error
	SessionFinish(ctx context.Context, sessionID string, offset uint64, r io.Reader, dest string) (*types.RemoteEntry, error)

	// Download returns the file metadata and its content stream. The caller
	// closes the stream. A non-downloadable file yields a nil stream.
	Download(ctx context.Context, path string) (*types.DownloadMetadata, io.ReadCloser, error)

	Delete(ctx context.Context, path string) error
	SpaceUsage(ctx context.Context) (*types.SpaceUsage, error)
	CurrentAccount(ctx context.Context) (*types.Account, error)
}

// NormalizePath cleans p and roots it at "/"
func NormalizePath(p string) string {
	p = strings.TrimSpace(p)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}

// Join builds a child path under folder
func Join(folder, name string) string {
	return NormalizePath(path.Join(folder, name))
}

// NewRequestContext creates a new request context with trace ID
func NewRequestContext(profile string, p string, requestType types.RequestType) *types.RequestContext {
	return &types.RequestContext{
		Profile:     profile,
		Path:        p,
		RequestType: requestType,
		TraceID:     uuid.New().String(),
	}
}
