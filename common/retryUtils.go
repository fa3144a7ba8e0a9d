package common

import (
	"net"
	"strings"
)

// IsRetryableNetworkError reports whether err looks like a transient
// network condition (as opposed to e.g. an auth failure or a malformed
// request) worth retrying. The fetcher consults this for any error the
// remote store capability returns that isn't already a *ClassifiedError or
// a *remotestore.RateLimitError.
func IsRetryableNetworkError(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())

	networkErrors := []string{
		"dial tcp",
		"timeout",
		"connection reset by peer",
		"connection refused",
		"network is unreachable",
		"connection timed out",
		"temporary failure in name resolution",
		"no route to host",
		"context deadline exceeded",
	}

	for _, netErr := range networkErrors {
		if strings.Contains(errStr, netErr) {
			return true
		}
	}

	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return true
	}

	return false
}
