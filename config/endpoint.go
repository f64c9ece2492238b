package config

import (
	"net"
	"strings"

	"spdev/internal/errors"
	"spdev/util"
)

// Transport schemes.
const (
	SchemeTCP  = "tcp"
	SchemeUnix = "unix"
	SchemeQUIC = "quic"
	SchemeWS   = "ws"
)

// Endpoint is one parsed endpoint.  A leading "@" means listen; without
// it the endpoint connects.
//
//	@tcp://0.0.0.0:5555      listen on TCP
//	tcp://broker:5555        connect over TCP
//	@unix:///run/spdev.sock  listen on a unix socket
//	quic://broker:5556       connect over QUIC
//	@ws://:8080/spdev        accept websockets on /spdev
type Endpoint struct {
	Listen  bool
	Scheme  string
	Address string // host:port, or a path for unix
	Path    string // ws only; "/" when unset
}

// ParseEndpoint parses one endpoint string.
func ParseEndpoint(raw string) (Endpoint, error) {
	var ep Endpoint
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "@") {
		ep.Listen = true
		s = s[1:]
	}

	scheme, addr, err := util.SplitURL(s)
	if err != nil {
		return Endpoint{}, errors.Invalid("endpoint", raw, err.Error())
	}
	ep.Scheme = strings.ToLower(scheme)

	switch ep.Scheme {
	case SchemeTCP, SchemeQUIC:
		ep.Address = addr
	case SchemeWS:
		host, path, _ := strings.Cut(addr, "/")
		ep.Address, ep.Path = host, "/"+path
	case SchemeUnix:
		if addr == "" {
			return Endpoint{}, errors.Invalid("endpoint", raw, "unix endpoint needs a path")
		}
		ep.Address = addr
		return ep, nil
	default:
		return Endpoint{}, &errors.ConfigError{
			Field:   "endpoint",
			Value:   raw,
			Message: "unknown scheme " + scheme,
			Hint:    "use tcp://, unix://, quic:// or ws://; prefix with @ to listen",
			Err:     errors.ErrInvalidConfig,
		}
	}

	host, port, err := net.SplitHostPort(ep.Address)
	if err != nil {
		return Endpoint{}, errors.Invalid("endpoint", raw, "expected host:port")
	}
	if port == "" || (!ep.Listen && host == "") {
		return Endpoint{}, errors.Invalid("endpoint", raw, "a connect endpoint needs host and port")
	}
	return ep, nil
}

// String renders ep in ParseEndpoint syntax.
func (ep Endpoint) String() string {
	s := ep.Scheme + "://" + ep.Address
	if ep.Scheme == SchemeWS && ep.Path != "" && ep.Path != "/" {
		s += ep.Path
	}
	if ep.Listen {
		s = "@" + s
	}
	return s
}
