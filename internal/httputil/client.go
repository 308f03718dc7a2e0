// Package httputil builds the HTTP client used for measurement uploads.
package httputil

import (
	"net"
	"net/http"
	"time"
)

// DefaultTimeout bounds one complete upload round trip. Payloads are a few
// megabytes at most, so a transfer stuck longer than this is dead.
const DefaultTimeout = 5 * time.Minute

// NewClient returns an HTTP client with explicit dial and TLS deadlines.
// Uploads run over mobile networks where connections stall silently; the
// zero-value client would hang such a transfer forever. A non-positive
// timeout falls back to DefaultTimeout.
func NewClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   15 * time.Second,
			ResponseHeaderTimeout: time.Minute,
			ExpectContinueTimeout: 5 * time.Second,
		},
	}
}
