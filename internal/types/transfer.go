package types

import "time"

// Progress is one observation emitted after a chunk is moved
type Progress struct {
	Processed  uint64
	Total      uint64
	Elapsed    time.Duration
	Throughput float64 // bytes per second over the last chunk
}

// TransferStatus is the terminal state of an upload or download
type TransferStatus string

const (
	TransferCompleted TransferStatus = "completed"
	TransferSkipped   TransferStatus = "skipped"
	TransferFailed    TransferStatus = "failed"
)

// TransferResult is the typed outcome of a transfer. Remote failures land
// here instead of in the returned error so callers can branch on them.
type TransferResult struct {
	Status    TransferStatus `json:"status"`
	Entry     *RemoteEntry   `json:"entry,omitempty"`
	LocalPath string         `json:"localPath,omitempty"`
	Bytes     uint64         `json:"bytes"`
	Chunks    []uint64       `json:"-"`
	Err       error          `json:"-"`
}

// Succeeded reports whether the transfer reached a non-failure terminal state
func (r *TransferResult) Succeeded() bool {
	return r != nil && r.Status != TransferFailed
}

// BackupOutcome is the terminal state of one backup run
type BackupOutcome string

const (
	BackupUploaded     BackupOutcome = "uploaded"
	BackupDuplicate    BackupOutcome = "duplicate"
	BackupUploadFailed BackupOutcome = "upload_failed"
	BackupFailed       BackupOutcome = "failed"
)

// Eviction reports what capacity enforcement did
type Eviction struct {
	Count     int    `json:"count"`
	Max       int    `json:"max"`
	Oldest    string `json:"oldest,omitempty"`
	Deleted   bool   `json:"deleted"`
	Skipped   bool   `json:"skipped"`
	DeleteErr error  `json:"-"`
}

// BackupReport summarizes a backup run for output
type BackupReport struct {
	Outcome     BackupOutcome `json:"outcome"`
	Fingerprint string        `json:"fingerprint"`
	Name        string        `json:"name,omitempty"`
	RemotePath  string        `json:"remotePath,omitempty"`
	Bytes       uint64        `json:"bytes"`
	Eviction    *Eviction     `json:"eviction,omitempty"`
	Space       *SpaceUsage   `json:"space,omitempty"`
}
