package fetch

import "fmt"

// DownloadError is returned when a document cannot be fetched: the request failed,
// the server answered with a non-2xx status or the body was empty.
type DownloadError struct {
	URL        string // Document URL
	StatusCode int    // HTTP status code, 0 when no response was received
	Reason     string // Human-readable explanation
	Err        error  // Underlying error, if any
}

func (e *DownloadError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("download failed (HTTP %d): %s", e.StatusCode, e.Reason)
	}

	return "download failed: " + e.Reason
}

func (e *DownloadError) Unwrap() error {
	return e.Err
}
