// utils/http.go
package utils

import (
	"net/http"
	"time"
)

// HTTPClient is the shared client for outbound calls (chain RPC, GitHub).
// Individual requests carry their own context deadlines; this timeout is the
// hard upper bound.
var HTTPClient = &http.Client{
	Timeout: 30 * time.Second,
}
