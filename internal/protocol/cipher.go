package protocol

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha1"
	"errors"
	"fmt"
)

var (
	ErrBlockSize  = errors.New("ciphertext is not a whole number of blocks")
	ErrBadPadding = errors.New("bad padding")
)

// Cipher is AES-128 in ECB mode with PKCS#5 padding. The key is the first
// 16 bytes of SHA-1(password). Safe for concurrent use.
type Cipher struct {
	block cipher.Block
}

func DeriveKey(password string) []byte {
	sum := sha1.Sum([]byte(password))
	return sum[:16]
}

func NewCipher(password string) (*Cipher, error) {
	block, err := aes.NewCipher(DeriveKey(password))
	if err != nil {
		return nil, fmt.Errorf("aes: %w", err)
	}
	return &Cipher{block: block}, nil
}

func (c *Cipher) Encrypt(plain []byte) []byte {
	bs := c.block.BlockSize()
	pad := bs - len(plain)%bs
	buf := append(append([]byte(nil), plain...), bytes.Repeat([]byte{byte(pad)}, pad)...)
	for i := 0; i < len(buf); i += bs {
		c.block.Encrypt(buf[i:i+bs], buf[i:i+bs])
	}
	return buf
}

func (c *Cipher) Decrypt(ct []byte) ([]byte, error) {
	bs := c.block.BlockSize()
	if len(ct) == 0 || len(ct)%bs != 0 {
		return nil, ErrBlockSize
	}
	out := make([]byte, len(ct))
	for i := 0; i < len(ct); i += bs {
		c.block.Decrypt(out[i:i+bs], ct[i:i+bs])
	}
	pad := int(out[len(out)-1])
	if pad == 0 || pad > bs {
		return nil, ErrBadPadding
	}
	for _, b := range out[len(out)-pad:] {
		if int(b) != pad {
			return nil, ErrBadPadding
		}
	}
	return out[:len(out)-pad], nil
}
