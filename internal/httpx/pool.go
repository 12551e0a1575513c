// Package httpx provides a process-wide pooled HTTP client, shared by
// every adapter that talks HTTP directly, grounded verbatim on
// tools/si/internal/httpx.SharedClient: one http.Transport with
// connection-pool tuning built once, and one *http.Client per distinct
// timeout class memoized over that transport.
package httpx

import (
	"net"
	"net/http"
	"sync"
	"time"
)

var (
	transportOnce sync.Once
	transport     *http.Transport
	clientsMu     sync.Mutex
	clients       = map[time.Duration]*http.Client{}
)

// SharedClient returns the process-wide *http.Client for timeout,
// building it on first use and reusing it on every later call with the
// same timeout. A non-positive timeout defaults to 30s.
func SharedClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	clientsMu.Lock()
	defer clientsMu.Unlock()
	if client, ok := clients[timeout]; ok {
		return client
	}
	client := &http.Client{
		Timeout:   timeout,
		Transport: sharedTransport(),
	}
	clients[timeout] = client
	return client
}

// SharedTransport exposes the process-wide pooled http.RoundTripper for
// callers that need to wrap it (e.g. an OAuth/App-auth transport) rather
// than use SharedClient directly.
func SharedTransport() *http.Transport {
	return sharedTransport()
}

func sharedTransport() *http.Transport {
	transportOnce.Do(func() {
		transport = &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          256,
			MaxIdleConnsPerHost:   64,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		}
	})
	return transport
}
