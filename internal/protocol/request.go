package protocol

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

var ErrMalformedRequest = errors.New("malformed request line")

// ParseRequestLine extracts the hex payload from "GET /<HEX> HTTP/1.0".
// The keyword is matched case-insensitively and a trailing CR or LF is
// ignored.
func ParseRequestLine(line string) (string, error) {
	line = strings.ToUpper(strings.TrimRight(line, "\r\n"))
	if !strings.HasPrefix(line, "GET") {
		return "", ErrMalformedRequest
	}
	start := strings.IndexByte(line, '/')
	if start < 0 {
		return "", ErrMalformedRequest
	}
	start++
	end := strings.IndexByte(line[start:], ' ')
	if end < 0 {
		return "", ErrMalformedRequest
	}
	field := line[start : start+end]
	if field == "" {
		return "", ErrMalformedRequest
	}
	return field, nil
}

// DecodeRequest turns a request line into a packet.
func DecodeRequest(c *Cipher, line string) (Packet, error) {
	field, err := ParseRequestLine(line)
	if err != nil {
		return InvalidPacket, err
	}
	ct, err := hex.DecodeString(field)
	if err != nil {
		return InvalidPacket, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}
	plain, err := c.Decrypt(ct)
	if err != nil {
		return InvalidPacket, err
	}
	return Decode(plain), nil
}

// RequestLine builds the line a beacon sends for p, CRLF included.
func RequestLine(c *Cipher, p Packet) string {
	return "GET /" + strings.ToUpper(hex.EncodeToString(c.Encrypt(p.Encode()))) + " HTTP/1.0\r\n"
}
