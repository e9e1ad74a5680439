package utils

import (
	"errors"
	"fmt"

	"github.com/dl-alexandre/dbxbackup/internal/types"
)

// Exit codes
const (
	ExitSuccess = 0
	// Auth errors (10-19)
	ExitAuthRequired = 10
	ExitAuthExpired  = 11
	ExitAuthInvalid  = 12
	// Remote storage errors (20-29)
	ExitFileNotFound     = 20
	ExitPermissionDenied = 21
	ExitQuotaExceeded    = 22
	ExitUploadFailed     = 23
	ExitDownloadFailed   = 24
	// Network errors (30-39)
	ExitNetworkError = 30
	ExitTimeout      = 31
	ExitRateLimited  = 32
	// Validation errors (40-49)
	ExitInvalidArgument = 40
	ExitInvalidPath     = 41
	ExitInvalidConfig   = 42
	// Local pipeline errors (50-59)
	ExitLocalIO  = 50
	ExitArchive  = 51
	ExitCompress = 52
	ExitEncrypt  = 53
	ExitJournal  = 54
	// Unknown
	ExitUnknown = 99
)

// Error codes (tool-owned, stable)
const (
	ErrCodeAuthRequired     = "AUTH_REQUIRED"
	ErrCodeAuthExpired      = "AUTH_EXPIRED"
	ErrCodeAuthInvalid      = "AUTH_INVALID"
	ErrCodeFileNotFound     = "FILE_NOT_FOUND"
	ErrCodePermissionDenied = "PERMISSION_DENIED"
	ErrCodeQuotaExceeded    = "QUOTA_EXCEEDED"
	ErrCodeUploadFailed     = "UPLOAD_FAILED"
	ErrCodeDownloadFailed   = "DOWNLOAD_FAILED"
	ErrCodeNetworkError     = "NETWORK_ERROR"
	ErrCodeTimeout          = "TIMEOUT"
	ErrCodeRateLimited      = "RATE_LIMITED"
	ErrCodeConflict         = "CONFLICT"
	ErrCodeInvalidArgument  = "INVALID_ARGUMENT"
	ErrCodeInvalidPath      = "INVALID_PATH"
	ErrCodeInvalidConfig    = "INVALID_CONFIG"
	ErrCodeLocalIO          = "LOCAL_IO"
	ErrCodeArchiveFailed    = "ARCHIVE_FAILED"
	ErrCodeCompressFailed   = "COMPRESS_FAILED"
	ErrCodeEncryptFailed    = "ENCRYPT_FAILED"
	ErrCodeJournalFailed    = "JOURNAL_FAILED"
	ErrCodeCancelled        = "CANCELLED"
	ErrCodeInternalError    = "INTERNAL_ERROR"
	ErrCodeUnknown          = "UNKNOWN"
)

// CLIErrorBuilder helps construct CLIError instances
type CLIErrorBuilder struct {
	err types.CLIError
}

// NewCLIError creates a new error builder
func NewCLIError(code, message string) *CLIErrorBuilder {
	return &CLIErrorBuilder{
		err: types.CLIError{
			Code:    code,
			Message: message,
		},
	}
}

func (b *CLIErrorBuilder) WithHTTPStatus(status int) *CLIErrorBuilder {
	b.err.HTTPStatus = status
	return b
}

// WithRemoteTag records the remote API's error tag (e.g. "path/not_found")
func (b *CLIErrorBuilder) WithRemoteTag(tag string) *CLIErrorBuilder {
	b.err.RemoteTag = tag
	return b
}

func (b *CLIErrorBuilder) WithRetryable(retryable bool) *CLIErrorBuilder {
	b.err.Retryable = retryable
	return b
}

func (b *CLIErrorBuilder) WithContext(key string, value interface{}) *CLIErrorBuilder {
	if b.err.Context == nil {
		b.err.Context = make(map[string]interface{})
	}
	b.err.Context[key] = value
	return b
}

func (b *CLIErrorBuilder) Build() types.CLIError {
	return b.err
}

// GetExitCode returns the exit code for an error code
func GetExitCode(errorCode string) int {
	mapping := map[string]int{
		ErrCodeAuthRequired:     ExitAuthRequired,
		ErrCodeAuthExpired:      ExitAuthExpired,
		ErrCodeAuthInvalid:      ExitAuthInvalid,
		ErrCodeFileNotFound:     ExitFileNotFound,
		ErrCodePermissionDenied: ExitPermissionDenied,
		ErrCodeQuotaExceeded:    ExitQuotaExceeded,
		ErrCodeUploadFailed:     ExitUploadFailed,
		ErrCodeDownloadFailed:   ExitDownloadFailed,
		ErrCodeNetworkError:     ExitNetworkError,
		ErrCodeTimeout:          ExitTimeout,
		ErrCodeRateLimited:      ExitRateLimited,
		ErrCodeConflict:         ExitInvalidPath,
		ErrCodeInvalidArgument:  ExitInvalidArgument,
		ErrCodeInvalidPath:      ExitInvalidPath,
		ErrCodeInvalidConfig:    ExitInvalidConfig,
		ErrCodeLocalIO:          ExitLocalIO,
		ErrCodeArchiveFailed:    ExitArchive,
		ErrCodeCompressFailed:   ExitCompress,
		ErrCodeEncryptFailed:    ExitEncrypt,
		ErrCodeJournalFailed:    ExitJournal,
	}
	if code, ok := mapping[errorCode]; ok {
		return code
	}
	return ExitUnknown
}

// AppError is a custom error type that carries CLI error info
type AppError struct {
	CLIError types.CLIError
	cause    error
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.CLIError.Code, e.CLIError.Message)
}

func (e *AppError) Unwrap() error {
	return e.cause
}

// NewAppError creates an AppError from a CLIError
func NewAppError(cliErr types.CLIError) *AppError {
	return &AppError{CLIError: cliErr}
}

// WrapAppError creates an AppError that keeps cause reachable via errors.Is/As
func WrapAppError(cliErr types.CLIError, cause error) *AppError {
	return &AppError{CLIError: cliErr, cause: cause}
}

// ErrorCode extracts the tool error code from err, or ErrCodeUnknown
func ErrorCode(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.CLIError.Code
	}
	var coded interface{ ErrorCode() string }
	if errors.As(err, &coded) {
		return coded.ErrorCode()
	}
	return ErrCodeUnknown
}

// ExitCodeFor maps any error to a process exit status
func ExitCodeFor(err error) int {
	if err == nil {
		return ExitSuccess
	}
	return GetExitCode(ErrorCode(err))
}
