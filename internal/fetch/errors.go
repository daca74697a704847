package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"
)

// Terminal codes carried by DownloadError. Network codes mirror the
// conventional errno names; the remaining codes are produced by the
// fetcher's own timeout and corruption checks.
const (
	CodeConnReset      = "ECONNRESET"
	CodeConnRefused    = "ECONNREFUSED"
	CodeTimedOut       = "ETIMEDOUT"
	CodeNotFound       = "ENOTFOUND"
	CodeNetUnreach     = "ENETUNREACH"
	CodeHostUnreach    = "EHOSTUNREACH"
	CodePipe           = "EPIPE"
	CodeDNSAgain       = "EAI_AGAIN"
	CodeProto          = "EPROTO"
	CodeSocketTimeout  = "SOCKET_TIMEOUT"
	CodeConnectTimeout = "CONNECT_TIMEOUT"
	CodeDataOverflow   = "DATA_OVERFLOW"
	CodeSizeMismatch   = "SIZE_MISMATCH"
)

// retryableCodes are the terminal codes that permit another attempt.
var retryableCodes = map[string]bool{
	CodeConnReset:      true,
	CodeConnRefused:    true,
	CodeTimedOut:       true,
	CodeNotFound:       true,
	CodeNetUnreach:     true,
	CodeHostUnreach:    true,
	CodePipe:           true,
	CodeDNSAgain:       true,
	CodeProto:          true,
	CodeSocketTimeout:  true,
	CodeConnectTimeout: true,
	CodeDataOverflow:   true,
	CodeSizeMismatch:   true,
}

// DownloadError is the terminal error of a fetch. It carries the code
// discriminant, the number of attempts made, whether another attempt was
// permitted, and the bytes written before failure.
type DownloadError struct {
	Code             string
	Attempts         int
	Retryable        bool
	BytesTransferred int64
	Err              error
}

func (e *DownloadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("download failed (%s after %d attempts): %v", e.Code, e.Attempts, e.Err)
	}
	return fmt.Sprintf("download failed (%s after %d attempts)", e.Code, e.Attempts)
}

func (e *DownloadError) Unwrap() error {
	return e.Err
}

// newDownloadError builds a DownloadError with retryability derived from the code.
func newDownloadError(code string, bytes int64, err error) *DownloadError {
	return &DownloadError{
		Code:             code,
		Retryable:        retryableCodes[code],
		BytesTransferred: bytes,
		Err:              err,
	}
}

// httpStatusCode returns the code and retryability for a non-success HTTP status.
func httpStatusCode(status int) (string, bool) {
	code := fmt.Sprintf("HTTP_%d", status)
	switch status {
	case 408, 429, 500, 502, 503, 504:
		return code, true
	default:
		return code, false
	}
}

// classify maps a transport error onto a terminal code. Unrecognised errors
// classify as EPROTO, which is retryable: mid-stream failures with an unknown
// cause are treated like any other broken connection.
func classify(err error) string {
	switch {
	case errors.Is(err, syscall.ECONNRESET):
		return CodeConnReset
	case errors.Is(err, syscall.ECONNREFUSED):
		return CodeConnRefused
	case errors.Is(err, syscall.ETIMEDOUT):
		return CodeTimedOut
	case errors.Is(err, syscall.ENETUNREACH):
		return CodeNetUnreach
	case errors.Is(err, syscall.EHOSTUNREACH):
		return CodeHostUnreach
	case errors.Is(err, syscall.EPIPE):
		return CodePipe
	case errors.Is(err, io.ErrUnexpectedEOF):
		// Transport closed before the advertised length arrived.
		return CodeConnReset
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsTemporary {
			return CodeDNSAgain
		}
		return CodeNotFound
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return CodeTimedOut
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return CodeTimedOut
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "connection reset"):
		return CodeConnReset
	case strings.Contains(msg, "broken pipe"):
		return CodePipe
	case strings.Contains(msg, "no such host"):
		return CodeNotFound
	case strings.Contains(msg, "network is unreachable"):
		return CodeNetUnreach
	}

	return CodeProto
}
