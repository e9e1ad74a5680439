package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"strings"

	"github.com/dl-alexandre/dbxbackup/internal/logging"
	"github.com/dl-alexandre/dbxbackup/internal/types"
	"github.com/dl-alexandre/dbxbackup/internal/utils"
	"github.com/dropbox/dropbox-sdk-go-unofficial/v6/dropbox/auth"
)

// RemoteAPIError is a classified failure of one remote call
type RemoteAPIError struct {
	Op        string
	Path      string
	Code      string
	Tag       string
	Message   string
	Retryable bool
	Err       error
}

func (e *RemoteAPIError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s %s: %s: %s", e.Op, e.Path, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Code, e.Message)
}

func (e *RemoteAPIError) Unwrap() error {
	return e.Err
}

// ErrorCode lets utils.ErrorCode and utils.ExitCodeFor see the classified code
func (e *RemoteAPIError) ErrorCode() string {
	return e.Code
}

// CLIError converts the failure into the output envelope form
func (e *RemoteAPIError) CLIError() types.CLIError {
	b := utils.NewCLIError(e.Code, e.Message).
		WithRetryable(e.Retryable).
		WithContext("op", e.Op)
	if e.Tag != "" {
		b.WithRemoteTag(e.Tag)
	}
	if e.Path != "" {
		b.WithContext("path", e.Path)
	}
	return b.Build()
}

// IsNotFound reports whether err is a classified not-found failure
func IsNotFound(err error) bool {
	var apiErr *RemoteAPIError
	return stderrors.As(err, &apiErr) && apiErr.Code == utils.ErrCodeFileNotFound
}

// summaryCodes maps error summary tags to error codes. Dropbox summaries
// look like "path/not_found/.." so matching is by substring, first hit wins.
var summaryCodes = []struct {
	tag       string
	code      string
	retryable bool
}{
	{"invalid_access_token", utils.ErrCodeAuthInvalid, false},
	{"expired_access_token", utils.ErrCodeAuthExpired, false},
	{"missing_scope", utils.ErrCodePermissionDenied, false},
	{"insufficient_space", utils.ErrCodeQuotaExceeded, false},
	{"insufficient_quota", utils.ErrCodeQuotaExceeded, false},
	{"not_found", utils.ErrCodeFileNotFound, false},
	{"not_file", utils.ErrCodeInvalidPath, false},
	{"not_folder", utils.ErrCodeInvalidPath, false},
	{"malformed_path", utils.ErrCodeInvalidPath, false},
	{"conflict", utils.ErrCodeConflict, false},
	{"no_write_permission", utils.ErrCodePermissionDenied, false},
	{"restricted_content", utils.ErrCodePermissionDenied, false},
	{"disallowed_name", utils.ErrCodeInvalidPath, false},
	{"too_many_write_operations", utils.ErrCodeRateLimited, true},
	{"too_many_requests", utils.ErrCodeRateLimited, true},
	{"incorrect_offset", utils.ErrCodeUploadFailed, false},
	{"internal_error", utils.ErrCodeNetworkError, true},
}

// ClassifyDropboxError wraps err in a RemoteAPIError. fallback is the code
// used when nothing more specific matches, e.g. UPLOAD_FAILED for uploads.
func ClassifyDropboxError(op string, err error, reqCtx *types.RequestContext, fallback string, logger logging.Logger) error {
	if err == nil {
		return nil
	}
	var existing *RemoteAPIError
	if stderrors.As(err, &existing) {
		return err
	}

	apiErr := &RemoteAPIError{
		Op:      op,
		Path:    reqCtx.Path,
		Code:    fallback,
		Message: err.Error(),
		Err:     err,
	}

	var authErr auth.AuthAPIError
	var rateErr auth.RateLimitAPIError
	var netErr net.Error

	switch {
	case stderrors.Is(err, context.Canceled):
		apiErr.Code = utils.ErrCodeCancelled
	case stderrors.Is(err, context.DeadlineExceeded):
		apiErr.Code = utils.ErrCodeTimeout
		apiErr.Retryable = true
	case stderrors.As(err, &authErr):
		apiErr.Code = utils.ErrCodeAuthInvalid
		if authErr.AuthError != nil {
			apiErr.Tag = authErr.AuthError.Tag
			if authErr.AuthError.Tag == auth.AuthErrorExpiredAccessToken {
				apiErr.Code = utils.ErrCodeAuthExpired
			}
		}
	case stderrors.As(err, &rateErr):
		apiErr.Code = utils.ErrCodeRateLimited
		apiErr.Retryable = true
		apiErr.Tag = "too_many_requests"
	case stderrors.As(err, &netErr) && netErr.Timeout():
		apiErr.Code = utils.ErrCodeTimeout
		apiErr.Retryable = true
	default:
		summary := err.Error()
		matched := false
		for _, sc := range summaryCodes {
			if strings.Contains(summary, sc.tag) {
				apiErr.Code = sc.code
				apiErr.Tag = sc.tag
				apiErr.Retryable = sc.retryable
				matched = true
				break
			}
		}
		if !matched && stderrors.As(err, &netErr) {
			apiErr.Code = utils.ErrCodeNetworkError
			apiErr.Retryable = true
		}
	}

	if apiErr.Code == "" {
		apiErr.Code = utils.ErrCodeUnknown
	}

	logger.Debug("API error classified",
		logging.F("op", op),
		logging.F("path", reqCtx.Path),
		logging.F("errorCode", apiErr.Code),
		logging.F("tag", apiErr.Tag),
		logging.F("retryable", apiErr.Retryable),
		logging.F("traceId", reqCtx.TraceID),
		logging.F("requestType", string(reqCtx.RequestType)),
	)

	return apiErr
}
