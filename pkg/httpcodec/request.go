package httpcodec

import (
	"strconv"
	"strings"
)

// Header is one request header. Headers are an ordered slice rather than a
// map so the wire format follows the caller's order.
type Header struct {
	Key   string
	Value string
}

// Request is a manually assembled HTTP/1.1 request
type Request struct {
	Method  string
	Path    string
	Host    string
	Headers []Header
	Body    []byte
}

// Encode assembles the request into its wire form: request line, Host
// header, caller headers in order, then either a Content-Length header and
// the body or a bare terminator line when the body is empty.
func (r Request) Encode() []byte {
	var b strings.Builder

	b.WriteString(r.Method)
	b.WriteString(" ")
	b.WriteString(r.Path)
	b.WriteString(" HTTP/1.1\r\n")
	b.WriteString("Host: ")
	b.WriteString(r.Host)
	b.WriteString("\r\n")

	for _, h := range r.Headers {
		b.WriteString(h.Key)
		b.WriteString(": ")
		b.WriteString(h.Value)
		b.WriteString("\r\n")
	}

	if len(r.Body) > 0 {
		b.WriteString("Content-Length: ")
		b.WriteString(strconv.Itoa(len(r.Body)))
		b.WriteString("\r\n\r\n")
		b.Write(r.Body)
	} else {
		b.WriteString("\r\n")
	}

	return []byte(b.String())
}
