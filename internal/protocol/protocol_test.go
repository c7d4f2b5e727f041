package protocol

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"math"
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCipher(t *testing.T) *Cipher {
	t.Helper()
	c, err := NewCipher("s3cret")
	require.NoError(t, err)
	return c
}

func TestPacketRoundTrip(t *testing.T) {
	c := newTestCipher(t)
	in := Packet{ID: 7, Lat: 43.5, Lon: -70.2}

	line := RequestLine(c, in)
	require.True(t, strings.HasPrefix(line, "GET /"))
	require.True(t, strings.HasSuffix(line, " HTTP/1.0\r\n"))

	out, err := DecodeRequest(c, line)
	require.NoError(t, err)
	assert.Equal(t, int16(7), out.ID)
	assert.Equal(t, math.Float32bits(in.Lat), math.Float32bits(out.Lat))
	assert.Equal(t, math.Float32bits(in.Lon), math.Float32bits(out.Lon))
}

func TestPacketLayout(t *testing.T) {
	b := Packet{ID: -2, Lat: 1, Lon: -1}.Encode()
	want := []byte{'B', '@', 0xff, 0xfe, 0x3f, 0x80, 0x00, 0x00, 0xbf, 0x80, 0x00, 0x00}
	assert.Equal(t, want, b)
}

func TestDecodeInvalid(t *testing.T) {
	good := Packet{ID: 7, Lat: 43.5, Lon: -70.2}.Encode()

	badSig := append([]byte(nil), good...)
	badSig[0] = 'X'

	tests := map[string][]byte{
		"bad signature": badSig,
		"short":         good[:11],
		"long":          append(append([]byte(nil), good...), 0),
		"empty":         nil,
	}
	for name, b := range tests {
		t.Run(name, func(t *testing.T) {
			p := Decode(b)
			assert.Equal(t, Packet{ID: -1, Lat: 0, Lon: 0}, p)
			assert.False(t, p.Valid())
		})
	}
}

func TestCipherMatchesKeyDerivation(t *testing.T) {
	sum := sha1.Sum([]byte("s3cret"))
	assert.Equal(t, sum[:16], DeriveKey("s3cret"))

	c := newTestCipher(t)
	ct := c.Encrypt(make([]byte, 12))
	assert.Len(t, ct, 16, "12 bytes pad to one block")
	full := c.Encrypt(make([]byte, 16))
	assert.Len(t, full, 32, "a full block gets a whole padding block")

	plain, err := c.Decrypt(full)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 16), plain)
}

func TestDecryptErrors(t *testing.T) {
	c := newTestCipher(t)

	_, err := c.Decrypt([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrBlockSize)
	_, err = c.Decrypt(nil)
	assert.ErrorIs(t, err, ErrBlockSize)

	other, err := NewCipher("other")
	require.NoError(t, err)
	ct := other.Encrypt(Packet{ID: 7}.Encode())
	plain, err := c.Decrypt(ct)
	if err == nil {
		// a wrong key can still end in valid-looking padding
		assert.False(t, Decode(plain).Valid())
	} else {
		assert.ErrorIs(t, err, ErrBadPadding)
	}

	// encrypt a block whose last byte is 0, an impossible pad
	raw := make([]byte, 16)
	c.block.Encrypt(raw, raw)
	_, err = c.Decrypt(raw)
	assert.ErrorIs(t, err, ErrBadPadding)
}

func TestParseRequestLine(t *testing.T) {
	tests := []struct {
		name string
		line string
		want string
		err  bool
	}{
		{"crlf", "GET /3F2AC9 HTTP/1.0\r\n", "3F2AC9", false},
		{"lf only", "GET /3F2AC9 HTTP/1.0\n", "3F2AC9", false},
		{"lowercase", "get /3f2ac9 http/1.0\r\n", "3F2AC9", false},
		{"no terminator", "GET /AB HTTP/1.1", "AB", false},
		{"post", "POST /AB HTTP/1.0\r\n", "", true},
		{"no slash", "GET AB HTTP/1.0\r\n", "", true},
		{"no protocol", "GET /AB\r\n", "", true},
		{"empty field", "GET / HTTP/1.0\r\n", "", true},
		{"blank", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRequestLine(tt.line)
			if tt.err {
				assert.ErrorIs(t, err, ErrMalformedRequest)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeRequestRejectsBadHex(t *testing.T) {
	c := newTestCipher(t)
	_, err := DecodeRequest(c, "GET /XYZ HTTP/1.0\r\n")
	assert.ErrorIs(t, err, ErrMalformedRequest)

	lower := "get /" + hex.EncodeToString(c.Encrypt(Packet{ID: 3, Lat: 1, Lon: 2}.Encode())) + " http/1.0\n"
	p, err := DecodeRequest(c, lower)
	require.NoError(t, err)
	assert.Equal(t, Packet{ID: 3, Lat: 1, Lon: 2}, p)
}

func TestWriteResponse(t *testing.T) {
	var ok bytes.Buffer
	require.NoError(t, WriteResponse(&ok, true, "transit-tracker", "OK"))
	assert.Equal(t, "HTTP/1.0 200 OK\r\nConnection: close\r\nServer: transit-tracker\r\nContent-Type: text/html\r\n\r\nOK", ok.String())

	var bad bytes.Buffer
	require.NoError(t, WriteResponse(&bad, false, "transit-tracker", "BAD"))
	assert.Equal(t, "HTTP/1.0 404 Not Found\r\nConnection: close\r\nServer: transit-tracker\r\n\r\nBAD", bad.String())
}

func TestClientSend(t *testing.T) {
	c := newTestCipher(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	got := make(chan Packet, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		line, _ := bufio.NewReader(conn).ReadString('\n')
		p, err := DecodeRequest(c, line)
		got <- p
		_ = WriteResponse(conn, err == nil, "test", "OK")
	}()

	client := NewClient(ln.Addr().String(), c)
	acked, err := client.Send(context.Background(), Packet{ID: 12, Lat: 43.5, Lon: -70.2})
	require.NoError(t, err)
	assert.True(t, acked)
	assert.Equal(t, Packet{ID: 12, Lat: 43.5, Lon: -70.2}, <-got)
}

func TestClientSendDialError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	_, err = NewClient(addr, newTestCipher(t)).Send(context.Background(), Packet{ID: 1})
	assert.Error(t, err)
}
