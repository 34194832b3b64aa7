package domain

import "errors"

var (
	// Fatal: the connection is closed, no retry.
	ErrProtocol   = errors.New("protocol error")
	ErrCredential = errors.New("credential error")

	// Recoverable: reported to the client, the session stays open.
	ErrWindow            = errors.New("window validation error")
	ErrExtraction        = errors.New("extraction error")
	ErrConcurrentRequest = errors.New("concurrent request")
	ErrProbe             = errors.New("probe error")

	ErrSessionClosed = errors.New("session closed")
)

// IsFatal reports whether err must terminate the connection.
func IsFatal(err error) bool {
	return errors.Is(err, ErrProtocol) || errors.Is(err, ErrCredential)
}

// ErrorCode maps a recoverable error to its wire code.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrWindow):
		return "window_invalid"
	case errors.Is(err, ErrExtraction):
		return "extraction_failed"
	case errors.Is(err, ErrConcurrentRequest):
		return "concurrent_request"
	case errors.Is(err, ErrProbe):
		return "probe_failed"
	default:
		return "internal"
	}
}

// PublicReason is the text sent to clients for err. Extraction and probe
// failures carry tool output and server paths, which stay in the log.
func PublicReason(err error) string {
	switch code := ErrorCode(err); code {
	case "window_invalid", "concurrent_request":
		return err.Error()
	case "extraction_failed":
		return "fragment could not be produced"
	case "probe_failed":
		return "source could not be probed"
	default:
		return code
	}
}
