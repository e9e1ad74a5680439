package mocks

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/dl-alexandre/dbxbackup/internal/errors"
	"github.com/dl-alexandre/dbxbackup/internal/remote"
	"github.com/dl-alexandre/dbxbackup/internal/types"
	"github.com/dl-alexandre/dbxbackup/internal/utils"
)

// Operation names used in Calls and for failure injection
const (
	OpClassify       = "classify"
	OpList           = "list"
	OpCreateFolder   = "create_folder"
	OpUpload         = "upload"
	OpSessionStart   = "session_start"
	OpSessionAppend  = "session_append"
	OpSessionFinish  = "session_finish"
	OpDownload       = "download"
	OpDelete         = "delete"
	OpSpaceUsage     = "space_usage"
	OpCurrentAccount = "current_account"
)

// Call records one Store invocation
type Call struct {
	Op        string
	Path      string
	SessionID string
	Offset    uint64
	Bytes     int
}

type memFile struct {
	data         []byte
	modified     time.Time
	undownloaded bool
}

type brokenDownload struct {
	after int
	err   error
}

// MemoryStore is an in-memory remote.Store. It records every call and
// returns injected failures per operation.
type MemoryStore struct {
	mu       sync.Mutex
	files    map[string]*memFile
	folders  map[string]bool
	order    []string
	sessions map[string]*bytes.Buffer
	nextID   int
	failures map[string]error
	broken   map[string]brokenDownload
	calls    []Call

	Space   types.SpaceUsage
	Account types.Account
	Now     func() time.Time

	// BeforeUpload runs before an upload commits, with the lock released.
	// Tests use it to simulate a second writer.
	BeforeUpload func(dest string)
}

var _ remote.Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store with a 1 GiB allocation
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		files:    map[string]*memFile{},
		folders:  map[string]bool{"/": true},
		sessions: map[string]*bytes.Buffer{},
		failures: map[string]error{},
		broken:   map[string]brokenDownload{},
		Space:    types.SpaceUsage{Allocated: 1 << 30},
		Account:  types.Account{ID: "dbid:test", DisplayName: "Test User", Email: "test@example.com"},
		Now:      time.Now,
	}
}

// RemoteError builds a classified error the way the Dropbox store reports one
func RemoteError(op, p, code string) error {
	return &errors.RemoteAPIError{Op: op, Path: p, Code: code, Message: "injected " + strings.ToLower(code)}
}

// Fail makes every later call of op return err
func (m *MemoryStore) Fail(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[op] = err
}

// ClearFailures removes all injected failures
func (m *MemoryStore) ClearFailures() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = map[string]error{}
}

// BreakDownload makes the content stream of p fail with err after n bytes
func (m *MemoryStore) BreakDownload(p string, n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.broken[remote.NormalizePath(p)] = brokenDownload{after: n, err: err}
}

// AddFolder creates p and its parents
func (m *MemoryStore) AddFolder(p string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addFolderLocked(remote.NormalizePath(p))
}

func (m *MemoryStore) addFolderLocked(p string) {
	for dir := p; dir != "/"; dir = path.Dir(dir) {
		if !m.folders[dir] {
			m.folders[dir] = true
			m.order = append(m.order, dir)
		}
	}
}

// Put stores a file at p, creating parent folders
func (m *MemoryStore) Put(p string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putLocked(remote.NormalizePath(p), data)
}

func (m *MemoryStore) putLocked(p string, data []byte) {
	m.addFolderLocked(path.Dir(p))
	if _, ok := m.files[p]; !ok {
		m.order = append(m.order, p)
	}
	m.files[p] = &memFile{data: append([]byte(nil), data...), modified: m.Now()}
}

// SetDownloadable marks a stored file as (not) downloadable
func (m *MemoryStore) SetDownloadable(p string, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f := m.files[remote.NormalizePath(p)]; f != nil {
		f.undownloaded = !ok
	}
}

// Content returns a stored file's bytes
func (m *MemoryStore) Content(p string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[remote.NormalizePath(p)]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), f.data...), true
}

// Names returns the names of files directly under folder, in insertion order
func (m *MemoryStore) Names(folder string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	folder = remote.NormalizePath(folder)
	var names []string
	for _, p := range m.order {
		if _, ok := m.files[p]; ok && path.Dir(p) == folder {
			names = append(names, path.Base(p))
		}
	}
	return names
}

// Calls returns a copy of the recorded calls
func (m *MemoryStore) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

// CallsOf returns the recorded calls of one operation
func (m *MemoryStore) CallsOf(op string) []Call {
	var out []Call
	for _, c := range m.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// CallCount counts the recorded calls of op
func (m *MemoryStore) CallCount(op string) int {
	return len(m.CallsOf(op))
}

// begin records the call and returns the injected failure for op, if any.
// The caller must hold m.mu.
func (m *MemoryStore) begin(ctx context.Context, c Call) error {
	m.calls = append(m.calls, c)
	if err := ctx.Err(); err != nil {
		return RemoteError(c.Op, c.Path, utils.ErrCodeCancelled)
	}
	return m.failures[c.Op]
}

func (m *MemoryStore) entryLocked(p string) types.RemoteEntry {
	if f, ok := m.files[p]; ok {
		return types.RemoteEntry{
			Name:     path.Base(p),
			Path:     p,
			Kind:     types.EntryKindFile,
			Size:     uint64(len(f.data)),
			HasSize:  true,
			Modified: f.modified,
		}
	}
	return types.RemoteEntry{Name: path.Base(p), Path: p, Kind: types.EntryKindFolder}
}

func (m *MemoryStore) classifyLocked(p string) types.PathKind {
	if _, ok := m.files[p]; ok {
		return types.PathFile
	}
	if m.folders[p] {
		return types.PathFolder
	}
	return types.PathNotFound
}

// Classify implements remote.Store
func (m *MemoryStore) Classify(ctx context.Context, p string) (types.PathKind, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p = remote.NormalizePath(p)
	if err := m.begin(ctx, Call{Op: OpClassify, Path: p}); err != nil {
		return types.PathNotFound, err
	}
	return m.classifyLocked(p), nil
}

// List implements remote.Store
func (m *MemoryStore) List(ctx context.Context, p string) ([]types.RemoteEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p = remote.NormalizePath(p)
	if err := m.begin(ctx, Call{Op: OpList, Path: p}); err != nil {
		return nil, err
	}

	switch m.classifyLocked(p) {
	case types.PathNotFound:
		return nil, RemoteError("list", p, utils.ErrCodeFileNotFound)
	case types.PathFile:
		return []types.RemoteEntry{m.entryLocked(p)}, nil
	}

	entries := []types.RemoteEntry{}
	for _, child := range m.order {
		if child != p && path.Dir(child) == p {
			entries = append(entries, m.entryLocked(child))
		}
	}
	return entries, nil
}

// CreateFolder implements remote.Store
func (m *MemoryStore) CreateFolder(ctx context.Context, p string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p = remote.NormalizePath(p)
	if err := m.begin(ctx, Call{Op: OpCreateFolder, Path: p}); err != nil {
		return err
	}
	if m.classifyLocked(p) != types.PathNotFound {
		return RemoteError("create_folder", p, utils.ErrCodeConflict)
	}
	m.addFolderLocked(p)
	return nil
}

func (m *MemoryStore) commit(dest string, data []byte) (*types.RemoteEntry, error) {
	if hook := m.BeforeUpload; hook != nil {
		m.mu.Unlock()
		hook(dest)
		m.mu.Lock()
	}
	if _, ok := m.files[dest]; ok {
		return nil, RemoteError("upload", dest, utils.ErrCodeConflict)
	}
	m.putLocked(dest, data)
	entry := m.entryLocked(dest)
	return &entry, nil
}

// UploadWhole implements remote.Store
func (m *MemoryStore) UploadWhole(ctx context.Context, r io.Reader, dest string) (*types.RemoteEntry, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	dest = remote.NormalizePath(dest)
	if err := m.begin(ctx, Call{Op: OpUpload, Path: dest, Bytes: len(data)}); err != nil {
		return nil, err
	}
	return m.commit(dest, data)
}

// SessionStart implements remote.Store
func (m *MemoryStore) SessionStart(ctx context.Context, r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := fmt.Sprintf("session-%d", m.nextID)
	if err := m.begin(ctx, Call{Op: OpSessionStart, SessionID: id, Bytes: len(data)}); err != nil {
		return "", err
	}
	m.sessions[id] = bytes.NewBuffer(data)
	return id, nil
}

func (m *MemoryStore) sessionAt(id string, offset uint64) (*bytes.Buffer, error) {
	buf, ok := m.sessions[id]
	if !ok {
		return nil, RemoteError("upload_session", "", utils.ErrCodeUploadFailed)
	}
	if uint64(buf.Len()) != offset {
		return nil, &errors.RemoteAPIError{
			Op:      "upload_session",
			Code:    utils.ErrCodeUploadFailed,
			Tag:     "incorrect_offset",
			Message: fmt.Sprintf("offset %d, session holds %d bytes", offset, buf.Len()),
		}
	}
	return buf, nil
}

// SessionAppend implements remote.Store
func (m *MemoryStore) SessionAppend(ctx context.Context, sessionID string, offset uint64, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, Call{Op: OpSessionAppend, SessionID: sessionID, Offset: offset, Bytes: len(data)}); err != nil {
		return err
	}
	buf, err := m.sessionAt(sessionID, offset)
	if err != nil {
		return err
	}
	buf.Write(data)
	return nil
}

// SessionFinish implements remote.Store
func (m *MemoryStore) SessionFinish(ctx context.Context, sessionID string, offset uint64, r io.Reader, dest string) (*types.RemoteEntry, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	dest = remote.NormalizePath(dest)
	if err := m.begin(ctx, Call{Op: OpSessionFinish, Path: dest, SessionID: sessionID, Offset: offset, Bytes: len(data)}); err != nil {
		return nil, err
	}
	buf, err := m.sessionAt(sessionID, offset)
	if err != nil {
		return nil, err
	}
	buf.Write(data)
	delete(m.sessions, sessionID)
	return m.commit(dest, buf.Bytes())
}

// Download implements remote.Store
func (m *MemoryStore) Download(ctx context.Context, p string) (*types.DownloadMetadata, io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p = remote.NormalizePath(p)
	if err := m.begin(ctx, Call{Op: OpDownload, Path: p}); err != nil {
		return nil, nil, err
	}

	f, ok := m.files[p]
	if !ok {
		return nil, nil, RemoteError("download", p, utils.ErrCodeFileNotFound)
	}

	meta := &types.DownloadMetadata{
		Name:         path.Base(p),
		Path:         p,
		Size:         uint64(len(f.data)),
		Downloadable: !f.undownloaded,
	}
	if !meta.Downloadable {
		return meta, nil, nil
	}

	var body io.Reader = bytes.NewReader(append([]byte(nil), f.data...))
	if b, ok := m.broken[p]; ok {
		body = io.MultiReader(io.LimitReader(body, int64(b.after)), errReader{b.err})
	}
	return meta, io.NopCloser(body), nil
}

type errReader struct{ err error }

func (r errReader) Read([]byte) (int, error) { return 0, r.err }

// Delete implements remote.Store
func (m *MemoryStore) Delete(ctx context.Context, p string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p = remote.NormalizePath(p)
	if err := m.begin(ctx, Call{Op: OpDelete, Path: p}); err != nil {
		return err
	}
	if _, ok := m.files[p]; !ok {
		return RemoteError("delete", p, utils.ErrCodeFileNotFound)
	}
	delete(m.files, p)
	for i, q := range m.order {
		if q == p {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

// SpaceUsage implements remote.Store
func (m *MemoryStore) SpaceUsage(ctx context.Context) (*types.SpaceUsage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, Call{Op: OpSpaceUsage}); err != nil {
		return nil, err
	}
	space := m.Space
	return &space, nil
}

// CurrentAccount implements remote.Store
func (m *MemoryStore) CurrentAccount(ctx context.Context) (*types.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, Call{Op: OpCurrentAccount}); err != nil {
		return nil, err
	}
	acct := m.Account
	return &acct, nil
}
