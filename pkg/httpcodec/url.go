package httpcodec

import (
	"strconv"
	"strings"

	"github.com/HMasataka/conduit/pkg/network"
)

// URL is the decomposed form of an http/https URL: just enough to open a
// connection and build a request line.
type URL struct {
	Protocol network.Protocol
	Host     string
	Port     uint16
	Path     string
}

// ParseURL splits a URL into scheme, host, port and path. The scheme
// "https" maps to ProtocolHTTPS; every other scheme maps to ProtocolHTTP.
// The port defaults to 443 for https and 80 otherwise; the path defaults to
// "/". A string without "://" or with an unparsable port fails with
// CodeInvalidURL.
func ParseURL(raw string) (URL, error) {
	schemeEnd := strings.Index(raw, "://")
	if schemeEnd < 0 {
		return URL{}, network.NewError(network.CodeInvalidURL, "ParseURL", "invalid URL: missing scheme separator")
	}

	u := URL{Protocol: network.ProtocolHTTP}
	if raw[:schemeEnd] == "https" {
		u.Protocol = network.ProtocolHTTPS
	}

	rest := raw[schemeEnd+3:]
	pathStart := strings.Index(rest, "/")
	portStart := strings.Index(rest, ":")

	switch {
	case portStart >= 0 && (pathStart < 0 || portStart < pathStart):
		u.Host = rest[:portStart]

		portEnd := len(rest)
		if pathStart >= 0 {
			portEnd = pathStart
		}

		port, err := strconv.Atoi(rest[portStart+1 : portEnd])
		if err != nil || port < 0 || port > 65535 {
			return URL{}, network.NewError(network.CodeInvalidURL, "ParseURL", "invalid URL: bad port")
		}
		u.Port = uint16(port)
	case pathStart >= 0:
		u.Host = rest[:pathStart]
		u.Port = defaultPort(u.Protocol)
	default:
		u.Host = rest
		u.Port = defaultPort(u.Protocol)
	}

	if pathStart >= 0 {
		u.Path = rest[pathStart:]
	} else {
		u.Path = "/"
	}

	return u, nil
}

func defaultPort(p network.Protocol) uint16 {
	if p == network.ProtocolHTTPS {
		return 443
	}
	return 80
}
