package rpc

import (
	"crypto/x509"
	"fmt"
	"os"
	"runtime"
	"strings"
)

// TrustedCAEnv overrides the root-of-trust certificate search with an
// explicit path.
const TrustedCAEnv = "SEQMON_TRUSTED_CA"

// Certificate search order per platform, first readable file wins. Plain
// data, threaded explicitly: resolved once per connection attempt.
func defaultCertPaths() []string {
	if runtime.GOOS == "darwin" {
		return []string{"/Library/SeqInstrument/rpc-certs/ca.crt"}
	}
	return []string{
		"/data/rpc-certs/seq/ca.crt",
		"/var/lib/seqmon/rpc-certs/ca.crt",
	}
}

// IsLoopback reports whether host is a loopback-equivalent name. Only such
// hosts are permitted: the server's certificate is pinned to a local peer,
// so remote-host TLS validation is refused outright.
func IsLoopback(host string) bool {
	switch host {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}

// loadTrustAnchor resolves the TLS root-of-trust certificate for endpoint.
// Missing candidate files are skipped silently; other read errors are
// recorded but do not abort the search. Exhaustion fails with a
// ConnectionError listing every path tried.
func loadTrustAnchor(endpoint string) (*x509.CertPool, error) {
	tried := make([]string, 0, 3)

	var lastErr error
	if custom := os.Getenv(TrustedCAEnv); custom != "" {
		tried = append(tried, custom)
		pool, err := poolFromFile(custom)
		if err == nil {
			return pool, nil
		}
		if !os.IsNotExist(err) {
			lastErr = err
		}
	}

	for _, path := range defaultCertPaths() {
		tried = append(tried, path)
		pem, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				lastErr = err
			}
			continue
		}
		if pool := poolFromPEM(pem); pool != nil {
			return pool, nil
		}
		lastErr = fmt.Errorf("%s: no certificates in file", path)
	}

	detail := fmt.Sprintf("trust certificate not found, paths tried: %s (set %s to override)",
		strings.Join(tried, ", "), TrustedCAEnv)
	if lastErr != nil {
		detail = fmt.Sprintf("failed to load trust certificate: %v, paths tried: %s (set %s to override)",
			lastErr, strings.Join(tried, ", "), TrustedCAEnv)
	}
	return nil, &ConnectionError{Endpoint: endpoint, Err: fmt.Errorf("%s", detail)}
}

func poolFromFile(path string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if pool := poolFromPEM(pem); pool != nil {
		return pool, nil
	}
	return nil, fmt.Errorf("%s: no certificates in file", path)
}

func poolFromPEM(pem []byte) *x509.CertPool {
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil
	}
	return pool
}
