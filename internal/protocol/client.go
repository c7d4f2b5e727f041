package protocol

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"time"
)

const defaultClientTimeout = 5 * time.Second

// Client sends beacons to an ingestion server, one connection per packet.
type Client struct {
	Addr    string
	Cipher  *Cipher
	Timeout time.Duration
}

func NewClient(addr string, c *Cipher) *Client {
	return &Client{Addr: addr, Cipher: c, Timeout: defaultClientTimeout}
}

// Send reports whether the server acknowledged p.
func (c *Client) Send(ctx context.Context, p Packet) (bool, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = defaultClientTimeout
	}
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", c.Addr)
	if err != nil {
		return false, fmt.Errorf("dial %s: %w", c.Addr, err)
	}
	defer conn.Close()

	deadline := time.Now().Add(timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	_ = conn.SetDeadline(deadline)

	if _, err := io.WriteString(conn, RequestLine(c.Cipher, p)); err != nil {
		return false, fmt.Errorf("write request: %w", err)
	}
	status, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil && status == "" {
		return false, fmt.Errorf("read status: %w", err)
	}
	return strings.TrimRight(status, "\r\n") == StatusOK, nil
}
