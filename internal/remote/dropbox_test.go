package remote

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/dl-alexandre/dbxbackup/internal/errors"
	"github.com/dl-alexandre/dbxbackup/internal/types"
	"github.com/dl-alexandre/dbxbackup/internal/utils"
	"github.com/dl-alexandre/dbxbackup/pkg/version"
	"github.com/dropbox/dropbox-sdk-go-unofficial/v6/dropbox"
	"github.com/dropbox/dropbox-sdk-go-unofficial/v6/dropbox/auth"
	"github.com/dropbox/dropbox-sdk-go-unofficial/v6/dropbox/files"
	"github.com/dropbox/dropbox-sdk-go-unofficial/v6/dropbox/users"
	"github.com/stretchr/testify/require"
)

// fakeFiles is an in-memory FilesAPI that records what it was sent
type fakeFiles struct {
	metadata map[string]files.IsMetadata
	pages    []*files.ListFolderResult
	listArgs []string
	cursors  []string

	uploads  []string
	appends  []uint64
	finishes []uint64
	bodies   [][]byte
	deleted  []string
	created  []string

	downloadMeta *files.FileMetadata
	downloadBody string
	failWith     error
}

func (f *fakeFiles) GetMetadata(arg *files.GetMetadataArg) (files.IsMetadata, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	if md, ok := f.metadata[arg.Path]; ok {
		return md, nil
	}
	return nil, files.GetMetadataAPIError{
		APIError: dropbox.APIError{ErrorSummary: "path/not_found/"},
		EndpointError: &files.GetMetadataError{
			Tagged: dropbox.Tagged{Tag: files.GetMetadataErrorPath},
			Path:   &files.LookupError{Tagged: dropbox.Tagged{Tag: files.LookupErrorNotFound}},
		},
	}
}

func (f *fakeFiles) ListFolder(arg *files.ListFolderArg) (*files.ListFolderResult, error) {
	f.listArgs = append(f.listArgs, arg.Path)
	return f.pages[0], nil
}

func (f *fakeFiles) ListFolderContinue(arg *files.ListFolderContinueArg) (*files.ListFolderResult, error) {
	f.cursors = append(f.cursors, arg.Cursor)
	return f.pages[len(f.cursors)], nil
}

func (f *fakeFiles) CreateFolderV2(arg *files.CreateFolderArg) (*files.CreateFolderResult, error) {
	f.created = append(f.created, arg.Path)
	return &files.CreateFolderResult{}, nil
}

func (f *fakeFiles) record(r io.Reader) {
	data, _ := io.ReadAll(r)
	f.bodies = append(f.bodies, data)
}

func (f *fakeFiles) Upload(arg *files.UploadArg, content io.Reader) (*files.FileMetadata, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	f.record(content)
	f.uploads = append(f.uploads, arg.Path)
	return fileMD(arg.Path, uint64(len(f.bodies[len(f.bodies)-1]))), nil
}

func (f *fakeFiles) UploadSessionStart(arg *files.UploadSessionStartArg, content io.Reader) (*files.UploadSessionStartResult, error) {
	f.record(content)
	return &files.UploadSessionStartResult{SessionId: "sess-1"}, nil
}

func (f *fakeFiles) UploadSessionAppendV2(arg *files.UploadSessionAppendArg, content io.Reader) error {
	f.record(content)
	f.appends = append(f.appends, arg.Cursor.Offset)
	return nil
}

func (f *fakeFiles) UploadSessionFinish(arg *files.UploadSessionFinishArg, content io.Reader) (*files.FileMetadata, error) {
	f.record(content)
	f.finishes = append(f.finishes, arg.Cursor.Offset)
	return fileMD(arg.Commit.Path, arg.Cursor.Offset+uint64(len(f.bodies[len(f.bodies)-1]))), nil
}

func (f *fakeFiles) Download(arg *files.DownloadArg) (*files.FileMetadata, io.ReadCloser, error) {
	if f.failWith != nil {
		return nil, nil, f.failWith
	}
	return f.downloadMeta, io.NopCloser(bytes.NewBufferString(f.downloadBody)), nil
}

func (f *fakeFiles) DeleteV2(arg *files.DeleteArg) (*files.DeleteResult, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	f.deleted = append(f.deleted, arg.Path)
	return &files.DeleteResult{}, nil
}

type fakeUsers struct {
	usage   *users.SpaceUsage
	account *users.FullAccount
	err     error
}

func (u *fakeUsers) GetCurrentAccount() (*users.FullAccount, error) { return u.account, u.err }
func (u *fakeUsers) GetSpaceUsage() (*users.SpaceUsage, error)      { return u.usage, u.err }

func fileMD(p string, size uint64) *files.FileMetadata {
	md := &files.FileMetadata{Size: size, IsDownloadable: true, ServerModified: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	md.Name = baseName(p)
	md.PathDisplay = p
	return md
}

func folderMD(p string) *files.FolderMetadata {
	md := &files.FolderMetadata{}
	md.Name = baseName(p)
	md.PathDisplay = p
	return md
}

func baseName(p string) string {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' {
			return p[i+1:]
		}
	}
	return p
}

func newTestStore(f *fakeFiles, u *fakeUsers) *DropboxStore {
	if u == nil {
		u = &fakeUsers{}
	}
	return NewDropboxStoreWithClients(f, u, "default", nil)
}

func TestSDKConfigUserAgent(t *testing.T) {
	cfg := sdkConfig(nil)
	require.Equal(t, dropbox.LogOff, cfg.LogLevel)
	require.NotNil(t, cfg.HeaderGenerator)

	headers := cfg.HeaderGenerator("content", "files", "upload")
	require.True(t, strings.HasPrefix(headers["User-Agent"], version.Name+"/"), headers["User-Agent"])
}

func TestNormalizePath(t *testing.T) {
	tests := map[string]string{
		"backups":       "/backups",
		"/backups/":     "/backups",
		"//a//b/../c":   "/a/c",
		"":              "/",
		" /x ":          "/x",
		"/a/./b.tar.xz": "/a/b.tar.xz",
	}
	for in, want := range tests {
		require.Equal(t, want, NormalizePath(in), "NormalizePath(%q)", in)
	}
	require.Equal(t, "/backups/x.gpg", Join("backups", "x.gpg"))
}

func TestDropboxStore_Classify(t *testing.T) {
	f := &fakeFiles{metadata: map[string]files.IsMetadata{
		"/backups":       folderMD("/backups"),
		"/backups/a.gpg": fileMD("/backups/a.gpg", 10),
	}}
	s := newTestStore(f, nil)
	ctx := context.Background()

	kind, err := s.Classify(ctx, "backups")
	require.NoError(t, err)
	require.Equal(t, types.PathFolder, kind)

	kind, err = s.Classify(ctx, "/backups/a.gpg")
	require.NoError(t, err)
	require.Equal(t, types.PathFile, kind)

	kind, err = s.Classify(ctx, "/missing")
	require.NoError(t, err, "not found is a classification, not an error")
	require.Equal(t, types.PathNotFound, kind)

	kind, err = s.Classify(ctx, "/")
	require.NoError(t, err)
	require.Equal(t, types.PathFolder, kind)
}

func TestDropboxStore_ClassifyAuthFailure(t *testing.T) {
	f := &fakeFiles{failWith: auth.AuthAPIError{
		AuthError: &auth.AuthError{Tagged: dropbox.Tagged{Tag: auth.AuthErrorInvalidAccessToken}},
	}}
	_, err := newTestStore(f, nil).Classify(context.Background(), "/backups")
	require.Error(t, err)
	require.Equal(t, utils.ErrCodeAuthInvalid, utils.ErrorCode(err))
}

func TestDropboxStore_ListFollowsCursor(t *testing.T) {
	f := &fakeFiles{
		metadata: map[string]files.IsMetadata{"/backups": folderMD("/backups")},
		pages: []*files.ListFolderResult{
			{Entries: []files.IsMetadata{fileMD("/backups/1.gpg", 1)}, Cursor: "c1", HasMore: true},
			{Entries: []files.IsMetadata{fileMD("/backups/2.gpg", 2), folderMD("/backups/sub")}, Cursor: "c2", HasMore: true},
			{Entries: []files.IsMetadata{fileMD("/backups/3.gpg", 3)}, Cursor: "c3", HasMore: false},
		},
	}
	entries, err := newTestStore(f, nil).List(context.Background(), "/backups")
	require.NoError(t, err)
	require.Len(t, entries, 4)
	require.Equal(t, []string{"c1", "c2"}, f.cursors)
	require.Equal(t, "sub", entries[2].Name)
	require.Equal(t, types.EntryKindFolder, entries[2].Kind)
	require.False(t, entries[2].HasSize)
	require.True(t, entries[3].HasSize)
	require.Equal(t, uint64(3), entries[3].Size)
}

func TestDropboxStore_ListFileAndMissing(t *testing.T) {
	f := &fakeFiles{metadata: map[string]files.IsMetadata{
		"/backups/a.gpg": fileMD("/backups/a.gpg", 2048),
	}}
	s := newTestStore(f, nil)

	entries, err := s.List(context.Background(), "backups/a.gpg")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "/backups/a.gpg", entries[0].Path)

	_, err = s.List(context.Background(), "/nope")
	require.Error(t, err)
	require.True(t, errors.IsNotFound(err))
}

func TestDropboxStore_ListRootUsesEmptyPath(t *testing.T) {
	f := &fakeFiles{pages: []*files.ListFolderResult{{}}}
	_, err := newTestStore(f, nil).List(context.Background(), "/")
	require.NoError(t, err)
	require.Equal(t, []string{""}, f.listArgs)
}

func TestDropboxStore_UploadCalls(t *testing.T) {
	f := &fakeFiles{}
	s := newTestStore(f, nil)
	ctx := context.Background()

	entry, err := s.UploadWhole(ctx, bytes.NewBufferString("whole"), "backups/w.gpg")
	require.NoError(t, err)
	require.Equal(t, "/backups/w.gpg", entry.Path)
	require.Equal(t, uint64(5), entry.Size)

	id, err := s.SessionStart(ctx, bytes.NewBufferString("aaaa"))
	require.NoError(t, err)
	require.Equal(t, "sess-1", id)
	require.NoError(t, s.SessionAppend(ctx, id, 4, bytes.NewBufferString("bbbb")))
	entry, err = s.SessionFinish(ctx, id, 8, bytes.NewBufferString("cc"), "/backups/s.gpg")
	require.NoError(t, err)

	require.Equal(t, []uint64{4}, f.appends)
	require.Equal(t, []uint64{8}, f.finishes)
	require.Equal(t, uint64(10), entry.Size)
	require.Equal(t, "aaaabbbbcc", string(bytes.Join(f.bodies[1:], nil)))
}

func TestDropboxStore_UploadFailureClassified(t *testing.T) {
	f := &fakeFiles{failWith: dropbox.APIError{ErrorSummary: "path/insufficient_space/.."}}
	_, err := newTestStore(f, nil).UploadWhole(context.Background(), bytes.NewBufferString("x"), "/b/x")
	require.Error(t, err)
	require.Equal(t, utils.ErrCodeQuotaExceeded, utils.ErrorCode(err))
}

func TestDropboxStore_Download(t *testing.T) {
	md := fileMD("/backups/a.gpg", 3)
	f := &fakeFiles{downloadMeta: md, downloadBody: "abc"}
	s := newTestStore(f, nil)

	meta, body, err := s.Download(context.Background(), "backups/a.gpg")
	require.NoError(t, err)
	require.True(t, meta.Downloadable)
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	require.Equal(t, "abc", string(data))
	require.NoError(t, body.Close())

	md.IsDownloadable = false
	meta, body, err = s.Download(context.Background(), "backups/a.gpg")
	require.NoError(t, err)
	require.False(t, meta.Downloadable)
	require.Nil(t, body)
}

func TestDropboxStore_DeleteAndCreate(t *testing.T) {
	f := &fakeFiles{}
	s := newTestStore(f, nil)
	require.NoError(t, s.CreateFolder(context.Background(), "backups"))
	require.NoError(t, s.Delete(context.Background(), "backups/old.gpg"))
	require.Equal(t, []string{"/backups"}, f.created)
	require.Equal(t, []string{"/backups/old.gpg"}, f.deleted)
}

func TestDropboxStore_CancelledContext(t *testing.T) {
	f := &fakeFiles{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := newTestStore(f, nil).Delete(ctx, "/x")
	require.Error(t, err)
	require.Equal(t, utils.ErrCodeCancelled, utils.ErrorCode(err))
	require.Empty(t, f.deleted)
}

func TestDropboxStore_SpaceUsage(t *testing.T) {
	individual := &users.SpaceUsage{
		Used: 25,
		Allocation: &users.SpaceAllocation{
			Tagged:     dropbox.Tagged{Tag: users.SpaceAllocationIndividual},
			Individual: &users.IndividualSpaceAllocation{Allocated: 100},
		},
	}
	space, err := newTestStore(&fakeFiles{}, &fakeUsers{usage: individual}).SpaceUsage(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(25), space.Used)
	require.Equal(t, uint64(100), space.Allocated)
	require.Equal(t, uint64(75), space.Free())

	team := &users.SpaceUsage{
		Used: 5,
		Allocation: &users.SpaceAllocation{
			Tagged: dropbox.Tagged{Tag: users.SpaceAllocationTeam},
			Team:   &users.TeamSpaceAllocation{Used: 400, Allocated: 1000},
		},
	}
	space, err = newTestStore(&fakeFiles{}, &fakeUsers{usage: team}).SpaceUsage(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(400), space.Used)
	require.Equal(t, uint64(1000), space.Allocated)
}

func TestDropboxStore_CurrentAccount(t *testing.T) {
	acct := &users.FullAccount{}
	acct.AccountId = "dbid:1"
	acct.Email = "ops@example.com"
	acct.Name = &users.Name{DisplayName: "Ops"}

	got, err := newTestStore(&fakeFiles{}, &fakeUsers{account: acct}).CurrentAccount(context.Background())
	require.NoError(t, err)
	require.Equal(t, &types.Account{ID: "dbid:1", DisplayName: "Ops", Email: "ops@example.com"}, got)

	_, err = newTestStore(&fakeFiles{}, &fakeUsers{err: auth.AuthAPIError{
		AuthError: &auth.AuthError{Tagged: dropbox.Tagged{Tag: auth.AuthErrorInvalidAccessToken}},
	}}).CurrentAccount(context.Background())
	require.Equal(t, utils.ExitAuthInvalid, utils.ExitCodeFor(err))
}
