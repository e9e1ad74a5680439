package types

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

// PathKind is the result of probing a remote path
type PathKind int

const (
	PathNotFound PathKind = iota
	PathFile
	PathFolder
)

func (k PathKind) String() string {
	switch k {
	case PathFile:
		return "file"
	case PathFolder:
		return "folder"
	default:
		return "not_found"
	}
}

// EntryKind distinguishes listing entries
type EntryKind string

const (
	EntryKindFile   EntryKind = "file"
	EntryKindFolder EntryKind = "folder"
)

// RemoteEntry is one item in a remote folder listing
type RemoteEntry struct {
	Name     string    `json:"name"`
	Path     string    `json:"path"`
	Kind     EntryKind `json:"kind"`
	Size     uint64    `json:"size,omitempty"`
	HasSize  bool      `json:"-"`
	Modified time.Time `json:"modified,omitempty"`
}

// DisplaySize renders the size in MB with two decimals, or "" when the entry has none
func (e RemoteEntry) DisplaySize() string {
	if !e.HasSize {
		return ""
	}
	return fmt.Sprintf("%.2f MB", float64(e.Size)/(1024*1024))
}

// DownloadMetadata describes a remote file before its content is read
type DownloadMetadata struct {
	Name         string `json:"name"`
	Path         string `json:"path"`
	Size         uint64 `json:"size"`
	Downloadable bool   `json:"downloadable"`
}

// SpaceUsage reports account storage in bytes
type SpaceUsage struct {
	Used      uint64 `json:"used"`
	Allocated uint64 `json:"allocated"`
}

// Free returns the remaining capacity, zero when over quota
func (s SpaceUsage) Free() uint64 {
	if s.Used >= s.Allocated {
		return 0
	}
	return s.Allocated - s.Used
}

// Percent returns the used share of the allocation
func (s SpaceUsage) Percent() float64 {
	if s.Allocated == 0 {
		return 0
	}
	return float64(s.Used) / float64(s.Allocated) * 100
}

func (s SpaceUsage) String() string {
	return fmt.Sprintf("%s/%s (%.2f%%)", humanize.IBytes(s.Used), humanize.IBytes(s.Allocated), s.Percent())
}

// Account identifies the authenticated remote user
type Account struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
}

// EntryList is a listing result that renders as a table
type EntryList struct {
	Path    string        `json:"path"`
	Entries []RemoteEntry `json:"entries"`
}

func (l *EntryList) Headers() []string {
	return []string{"Path", "Kind", "Size"}
}

func (l *EntryList) Rows() [][]string {
	rows := make([][]string, 0, len(l.Entries))
	for _, e := range l.Entries {
		rows = append(rows, []string{e.Path, string(e.Kind), e.DisplaySize()})
	}
	return rows
}

func (l *EntryList) EmptyMessage() string {
	return "No entries found."
}
