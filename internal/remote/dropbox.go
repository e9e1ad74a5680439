package remote

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dl-alexandre/dbxbackup/internal/errors"
	"github.com/dl-alexandre/dbxbackup/internal/logging"
	"github.com/dl-alexandre/dbxbackup/internal/types"
	"github.com/dl-alexandre/dbxbackup/internal/utils"
	"github.com/dl-alexandre/dbxbackup/pkg/version"
	"github.com/dropbox/dropbox-sdk-go-unofficial/v6/dropbox"
	"github.com/dropbox/dropbox-sdk-go-unofficial/v6/dropbox/files"
	"github.com/dropbox/dropbox-sdk-go-unofficial/v6/dropbox/users"
	"github.com/google/uuid"
)

// FilesAPI is the subset of the SDK files client used here.
// files.Client satisfies it.
type FilesAPI interface {
	GetMetadata(arg *files.GetMetadataArg) (files.IsMetadata, error)
	ListFolder(arg *files.ListFolderArg) (*files.ListFolderResult, error)
	ListFolderContinue(arg *files.ListFolderContinueArg) (*files.ListFolderResult, error)
	CreateFolderV2(arg *files.CreateFolderArg) (*files.CreateFolderResult, error)
	Upload(arg *files.UploadArg, content io.Reader) (*files.FileMetadata, error)
	UploadSessionStart(arg *files.UploadSessionStartArg, content io.Reader) (*files.UploadSessionStartResult, error)
	UploadSessionAppendV2(arg *files.UploadSessionAppendArg, content io.Reader) error
	UploadSessionFinish(arg *files.UploadSessionFinishArg, content io.Reader) (*files.FileMetadata, error)
	Download(arg *files.DownloadArg) (*files.FileMetadata, io.ReadCloser, error)
	DeleteV2(arg *files.DeleteArg) (*files.DeleteResult, error)
}

// UsersAPI is the subset of the SDK users client used here
type UsersAPI interface {
	GetCurrentAccount() (*users.FullAccount, error)
	GetSpaceUsage() (*users.SpaceUsage, error)
}

// DropboxStore implements Store over the Dropbox v2 API
type DropboxStore struct {
	files   FilesAPI
	users   UsersAPI
	profile string
	logger  logging.Logger
}

// NewDropboxStore wires the SDK clients around an authenticated HTTP client
func NewDropboxStore(client *http.Client, profile string, logger logging.Logger) *DropboxStore {
	cfg := sdkConfig(client)
	return NewDropboxStoreWithClients(files.New(cfg), users.New(cfg), profile, logger)
}

// sdkConfig tags every API request with the program's user agent
func sdkConfig(client *http.Client) dropbox.Config {
	ua := version.Get().UserAgent()
	return dropbox.Config{
		LogLevel: dropbox.LogOff,
		Client:   client,
		HeaderGenerator: func(hostType, namespace, route string) map[string]string {
			return map[string]string{"User-Agent": ua}
		},
	}
}

// NewDropboxStoreWithClients builds a store over explicit API clients
func NewDropboxStoreWithClients(f FilesAPI, u UsersAPI, profile string, logger logging.Logger) *DropboxStore {
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	return &DropboxStore{files: f, users: u, profile: profile, logger: logger}
}

// apiPath converts a normalized path to the form the API expects.
// The root folder is the empty string.
func apiPath(p string) string {
	p = NormalizePath(p)
	if p == "/" {
		return ""
	}
	return p
}

func (s *DropboxStore) requestContext(ctx context.Context, p string, requestType types.RequestType) *types.RequestContext {
	traceID := logging.TraceIDFromContext(ctx)
	if traceID == "" {
		traceID = uuid.New().String()
	}
	return &types.RequestContext{
		Profile:     s.profile,
		Path:        p,
		RequestType: requestType,
		TraceID:     traceID,
	}
}

// execute runs one remote call with logging and error classification.
// There is no retry; a failed call is reported to the caller as is.
func execute[T any](ctx context.Context, s *DropboxStore, op string, reqCtx *types.RequestContext, fallback string, fn func() (T, error)) (T, error) {
	var zero T
	logger := s.logger.WithTraceID(reqCtx.TraceID)

	if err := ctx.Err(); err != nil {
		return zero, errors.ClassifyDropboxError(op, err, reqCtx, fallback, logger)
	}

	logger.Debug("API operation starting",
		logging.F("op", op),
		logging.F("requestType", reqCtx.RequestType),
		logging.F("path", reqCtx.Path),
	)

	start := time.Now()
	result, err := fn()
	duration := time.Since(start)
	if err != nil {
		logger.Debug("API operation failed",
			logging.F("op", op),
			logging.F("duration_ms", duration.Milliseconds()),
			logging.F("error", err.Error()),
		)
		return zero, errors.ClassifyDropboxError(op, err, reqCtx, fallback, logger)
	}

	logger.Debug("API operation completed",
		logging.F("op", op),
		logging.F("duration_ms", duration.Milliseconds()),
	)
	return result, nil
}

// Classify implements Store
func (s *DropboxStore) Classify(ctx context.Context, p string) (types.PathKind, error) {
	p = NormalizePath(p)
	if p == "/" {
		return types.PathFolder, nil
	}

	reqCtx := s.requestContext(ctx, p, types.RequestTypeMetadata)
	md, err := execute(ctx, s, "get_metadata", reqCtx, utils.ErrCodeUnknown, func() (files.IsMetadata, error) {
		md, err := s.files.GetMetadata(files.NewGetMetadataArg(p))
		if isLookupNotFound(err) {
			return nil, nil
		}
		return md, err
	})
	if err != nil {
		return types.PathNotFound, err
	}

	switch md.(type) {
	case nil:
		return types.PathNotFound, nil
	case *files.FileMetadata:
		return types.PathFile, nil
	case *files.FolderMetadata:
		return types.PathFolder, nil
	default:
		// Deleted entries are reported by the API only on request; treat as absent.
		return types.PathNotFound, nil
	}
}

func isLookupNotFound(err error) bool {
	var mdErr files.GetMetadataAPIError
	if stderrors.As(err, &mdErr) {
		return mdErr.EndpointError != nil &&
			mdErr.EndpointError.Path != nil &&
			mdErr.EndpointError.Path.Tag == files.LookupErrorNotFound
	}
	return false
}

// List implements Store
func (s *DropboxStore) List(ctx context.Context, p string) ([]types.RemoteEntry, error) {
	p = NormalizePath(p)
	kind, err := s.Classify(ctx, p)
	if err != nil {
		return nil, err
	}

	reqCtx := s.requestContext(ctx, p, types.RequestTypeList)
	switch kind {
	case types.PathNotFound:
		return nil, &errors.RemoteAPIError{
			Op:      "list",
			Path:    p,
			Code:    utils.ErrCodeFileNotFound,
			Tag:     files.LookupErrorNotFound,
			Message: fmt.Sprintf("remote path %s does not exist", p),
		}
	case types.PathFile:
		md, err := execute(ctx, s, "get_metadata", reqCtx, utils.ErrCodeUnknown, func() (files.IsMetadata, error) {
			return s.files.GetMetadata(files.NewGetMetadataArg(p))
		})
		if err != nil {
			return nil, err
		}
		return []types.RemoteEntry{entryFromMetadata(md)}, nil
	}

	res, err := execute(ctx, s, "list_folder", reqCtx, utils.ErrCodeUnknown, func() (*files.ListFolderResult, error) {
		return s.files.ListFolder(files.NewListFolderArg(apiPath(p)))
	})
	if err != nil {
		return nil, err
	}

	entries := make([]types.RemoteEntry, 0, len(res.Entries))
	for {
		for _, md := range res.Entries {
			entries = append(entries, entryFromMetadata(md))
		}
		if !res.HasMore {
			break
		}
		cursor := res.Cursor
		res, err = execute(ctx, s, "list_folder_continue", reqCtx, utils.ErrCodeUnknown, func() (*files.ListFolderResult, error) {
			return s.files.ListFolderContinue(files.NewListFolderContinueArg(cursor))
		})
		if err != nil {
			return nil, err
		}
	}
	return entries, nil
}

// CreateFolder implements Store
func (s *DropboxStore) CreateFolder(ctx context.Context, p string) error {
	p = NormalizePath(p)
	reqCtx := s.requestContext(ctx, p, types.RequestTypeMutation)
	_, err := execute(ctx, s, "create_folder", reqCtx, utils.ErrCodeUnknown, func() (*files.CreateFolderResult, error) {
		return s.files.CreateFolderV2(files.NewCreateFolderArg(p))
	})
	return err
}

// UploadWhole implements Store
func (s *DropboxStore) UploadWhole(ctx context.Context, r io.Reader, dest string) (*types.RemoteEntry, error) {
	dest = NormalizePath(dest)
	reqCtx := s.requestContext(ctx, dest, types.RequestTypeUpload)
	md, err := execute(ctx, s, "upload", reqCtx, utils.ErrCodeUploadFailed, func() (*files.FileMetadata, error) {
		return s.files.Upload(files.NewUploadArg(dest), r)
	})
	if err != nil {
		return nil, err
	}
	entry := entryFromMetadata(md)
	return &entry, nil
}

// SessionStart implements Store
func (s *DropboxStore) SessionStart(ctx context.Context, r io.Reader) (string, error) {
	reqCtx := s.requestContext(ctx, "", types.RequestTypeUpload)
	res, err := execute(ctx, s, "upload_session_start", reqCtx, utils.ErrCodeUploadFailed, func() (*files.UploadSessionStartResult, error) {
		return s.files.UploadSessionStart(files.NewUploadSessionStartArg(), r)
	})
	if err != nil {
		return "", err
	}
	return res.SessionId, nil
}

// SessionAppend implements Store
func (s *DropboxStore) SessionAppend(ctx context.Context, sessionID string, offset uint64, r io.Reader) error {
	reqCtx := s.requestContext(ctx, "", types.RequestTypeUpload)
	_, err := execute(ctx, s, "upload_session_append", reqCtx, utils.ErrCodeUploadFailed, func() (struct{}, error) {
		arg := files.NewUploadSessionAppendArg(files.NewUploadSessionCursor(sessionID, offset))
		return struct{}{}, s.files.UploadSessionAppendV2(arg, r)
	})
	return err
}

// SessionFinish implements Store
func (s *DropboxStore) SessionFinish(ctx context.Context, sessionID string, offset uint64, r io.Reader, dest string) (*types.RemoteEntry, error) {
	dest = NormalizePath(dest)
	reqCtx := s.requestContext(ctx, dest, types.RequestTypeUpload)
	md, err := execute(ctx, s, "upload_session_finish", reqCtx, utils.ErrCodeUploadFailed, func() (*files.FileMetadata, error) {
		cursor := files.NewUploadSessionCursor(sessionID, offset)
		return s.files.UploadSessionFinish(files.NewUploadSessionFinishArg(cursor, files.NewCommitInfo(dest)), r)
	})
	if err != nil {
		return nil, err
	}
	entry := entryFromMetadata(md)
	return &entry, nil
}

type downloadResult struct {
	md   *files.FileMetadata
	body io.ReadCloser
}

// Download implements Store
func (s *DropboxStore) Download(ctx context.Context, p string) (*types.DownloadMetadata, io.ReadCloser, error) {
	p = NormalizePath(p)
	reqCtx := s.requestContext(ctx, p, types.RequestTypeDownload)
	res, err := execute(ctx, s, "download", reqCtx, utils.ErrCodeDownloadFailed, func() (downloadResult, error) {
		md, body, err := s.files.Download(files.NewDownloadArg(p))
		return downloadResult{md: md, body: body}, err
	})
	if err != nil {
		return nil, nil, err
	}

	meta := &types.DownloadMetadata{
		Name:         res.md.Name,
		Path:         res.md.PathDisplay,
		Size:         res.md.Size,
		Downloadable: res.md.IsDownloadable,
	}
	if !meta.Downloadable {
		if res.body != nil {
			res.body.Close()
		}
		return meta, nil, nil
	}
	return meta, res.body, nil
}

// Delete implements Store
func (s *DropboxStore) Delete(ctx context.Context, p string) error {
	p = NormalizePath(p)
	reqCtx := s.requestContext(ctx, p, types.RequestTypeMutation)
	_, err := execute(ctx, s, "delete", reqCtx, utils.ErrCodeUnknown, func() (*files.DeleteResult, error) {
		return s.files.DeleteV2(files.NewDeleteArg(p))
	})
	return err
}

// SpaceUsage implements Store. Team accounts report the team pool.
func (s *DropboxStore) SpaceUsage(ctx context.Context) (*types.SpaceUsage, error) {
	reqCtx := s.requestContext(ctx, "", types.RequestTypeAccount)
	usage, err := execute(ctx, s, "get_space_usage", reqCtx, utils.ErrCodeUnknown, s.users.GetSpaceUsage)
	if err != nil {
		return nil, err
	}

	space := &types.SpaceUsage{Used: usage.Used}
	if alloc := usage.Allocation; alloc != nil {
		switch {
		case alloc.Individual != nil:
			space.Allocated = alloc.Individual.Allocated
		case alloc.Team != nil:
			space.Allocated = alloc.Team.Allocated
			space.Used = alloc.Team.Used
		}
	}
	return space, nil
}

// CurrentAccount implements Store
func (s *DropboxStore) CurrentAccount(ctx context.Context) (*types.Account, error) {
	reqCtx := s.requestContext(ctx, "", types.RequestTypeAccount)
	acct, err := execute(ctx, s, "get_current_account", reqCtx, utils.ErrCodeAuthInvalid, s.users.GetCurrentAccount)
	if err != nil {
		return nil, err
	}

	out := &types.Account{ID: acct.AccountId, Email: acct.Email}
	if acct.Name != nil {
		out.DisplayName = acct.Name.DisplayName
	}
	return out, nil
}

func entryFromMetadata(md files.IsMetadata) types.RemoteEntry {
	switch m := md.(type) {
	case *files.FileMetadata:
		return types.RemoteEntry{
			Name:     m.Name,
			Path:     m.PathDisplay,
			Kind:     types.EntryKindFile,
			Size:     m.Size,
			HasSize:  true,
			Modified: m.ServerModified,
		}
	case *files.FolderMetadata:
		return types.RemoteEntry{
			Name: m.Name,
			Path: m.PathDisplay,
			Kind: types.EntryKindFolder,
		}
	case *files.DeletedMetadata:
		return types.RemoteEntry{Name: m.Name, Path: m.PathDisplay, Kind: types.EntryKindFile}
	default:
		return types.RemoteEntry{}
	}
}
