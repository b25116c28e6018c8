package httpcodec

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/HMasataka/conduit/pkg/network"
)

// Response is a parsed HTTP response. Headers is a JSON-object-shaped string
// in parse order; HeaderMap decodes it when structured access is needed.
//
// The parser assumes a single, complete, non-chunked response with
// Content-Length framing only. Transfer-Encoding: chunked and responses
// without an explicit length are not supported.
type Response struct {
	StatusCode int
	StatusText string
	Headers    string
	Body       []byte
}

// HeaderMap decodes the Headers JSON text into a map
func (r *Response) HeaderMap() (map[string]string, error) {
	headers := make(map[string]string)
	if err := json.Unmarshal([]byte(r.Headers), &headers); err != nil {
		return nil, err
	}
	return headers, nil
}

// ParseResponse decodes raw response bytes into status code, status text,
// headers and body. Malformed status lines and a missing header/body
// separator fail with CodeMalformedResponse.
func ParseResponse(raw []byte) (*Response, error) {
	text := string(raw)

	statusLineEnd := strings.Index(text, "\r\n")
	if statusLineEnd < 0 {
		return nil, network.NewError(network.CodeMalformedResponse, "ParseResponse", "invalid HTTP response")
	}

	statusLine := text[:statusLineEnd]
	versionEnd := strings.Index(statusLine, " ")
	if versionEnd < 0 {
		return nil, network.NewError(network.CodeMalformedResponse, "ParseResponse", "invalid HTTP status line")
	}

	codeEnd := strings.Index(statusLine[versionEnd+1:], " ")
	if codeEnd < 0 {
		return nil, network.NewError(network.CodeMalformedResponse, "ParseResponse", "invalid HTTP status line")
	}
	codeEnd += versionEnd + 1

	statusCode, err := strconv.Atoi(statusLine[versionEnd+1 : codeEnd])
	if err != nil {
		return nil, network.NewError(network.CodeMalformedResponse, "ParseResponse", "invalid HTTP status code")
	}

	headersEnd := strings.Index(text, "\r\n\r\n")
	if headersEnd < 0 {
		return nil, network.NewError(network.CodeMalformedResponse, "ParseResponse", "invalid HTTP response")
	}

	var headerBlock string
	if headersEnd > statusLineEnd+2 {
		headerBlock = text[statusLineEnd+2 : headersEnd]
	}

	return &Response{
		StatusCode: statusCode,
		StatusText: statusLine[codeEnd+1:],
		Headers:    encodeHeaders(headerBlock),
		Body:       []byte(text[headersEnd+4:]),
	}, nil
}

// encodeHeaders parses the raw header block and rebuilds it as a JSON object
// string, preserving parse order. Values are trimmed of surrounding spaces
// and tabs; lines without a colon are skipped.
func encodeHeaders(block string) string {
	var b strings.Builder
	b.WriteString("{")

	first := true
	for _, line := range strings.Split(block, "\r\n") {
		colon := strings.Index(line, ":")
		if colon < 0 {
			continue
		}

		key := line[:colon]
		value := strings.Trim(line[colon+1:], " \t")

		if !first {
			b.WriteString(",")
		}
		b.WriteString(strconv.Quote(key))
		b.WriteString(":")
		b.WriteString(strconv.Quote(value))
		first = false
	}

	b.WriteString("}")
	return b.String()
}
