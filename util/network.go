package util

import (
	"fmt"
	"net"
	"strings"
)

// SplitURL splits "scheme://address" into its parts.  For unix URLs the
// address is the socket path ("unix:///run/dev.sock" → "/run/dev.sock").
func SplitURL(url string) (scheme, address string, err error) {
	i := strings.Index(url, "://")
	if i <= 0 {
		return "", "", fmt.Errorf("invalid endpoint %q: expected scheme://address", url)
	}
	scheme, address = url[:i], url[i+3:]
	if address == "" {
		return "", "", fmt.Errorf("invalid endpoint %q: empty address", url)
	}
	return scheme, address, nil
}

// FindFreePort returns an available TCP port on 127.0.0.1.
func FindFreePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("finding free port: %w", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
