package protocol

import (
	"io"
	"strings"
)

const (
	StatusOK       = "HTTP/1.0 200 OK"
	StatusNotFound = "HTTP/1.0 404 Not Found"
)

// WriteResponse writes the status line, headers and body for one exchange.
func WriteResponse(w io.Writer, ok bool, serverName, body string) error {
	var b strings.Builder
	if ok {
		b.WriteString(StatusOK)
	} else {
		b.WriteString(StatusNotFound)
	}
	b.WriteString("\r\nConnection: close\r\nServer: ")
	b.WriteString(serverName)
	b.WriteString("\r\n")
	if ok {
		b.WriteString("Content-Type: text/html\r\n")
	}
	b.WriteString("\r\n")
	b.WriteString(body)
	_, err := io.WriteString(w, b.String())
	return err
}
