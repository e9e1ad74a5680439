package utils

// Transfer sizes (binary units)
const (
	UploadChunkSize   = 32 * 1024 * 1024 // 32 MiB, largest payload per upload call
	DownloadReadSize  = 32 * 1024 * 1024 // 32 MiB
	FingerprintRead   = 4 * 1024 * 1024  // 4 MiB
	CompressReadSize  = 64 * 1024 * 1024 // 64 MiB
	MaxChunkSizeMiB   = 150              // remote rejects larger upload bodies
	DefaultChunkMiB   = UploadChunkSize / (1024 * 1024)
	DefaultMaxBackups = 7
)

// Backup naming
const (
	TimestampLayout = "20060102150405"
	ArchiveExt      = ".tar"
	CompressExt     = ".xz"
	EncryptExt      = ".gpg"
	BackupExt       = ArchiveExt + CompressExt + EncryptExt
)

// Dropbox OAuth2 endpoints
const (
	DropboxAuthURL  = "https://www.dropbox.com/oauth2/authorize"
	DropboxTokenURL = "https://api.dropboxapi.com/oauth2/token"
)

// Log rotation for per-folder backup logs
const (
	BackupLogMaxBytes   = 100 * 1024 // 100 KiB
	BackupLogMaxBackups = 2
)

// DefaultRequestTimeoutSeconds applies to every remote call
const DefaultRequestTimeoutSeconds = 2000

// Schema version
const SchemaVersion = "1.0"
