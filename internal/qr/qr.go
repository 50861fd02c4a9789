// Package qr renders driver credentials as printable QR codes.
package qr

import (
	"bytes"
	"fmt"
	"image/png"

	"github.com/skip2/go-qrcode"

	"parkpeek-guard/internal/parse"
)

// PNG encodes content as a size x size PNG at medium error correction.
func PNG(content string, size int) ([]byte, error) {
	code, err := qrcode.New(content, qrcode.Medium)
	if err != nil {
		return nil, fmt.Errorf("failed to build qr code: %w", err)
	}

	buf := new(bytes.Buffer)
	if err := png.Encode(buf, code.Image(size)); err != nil {
		return nil, fmt.Errorf("failed to encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// Credential renders the canonical payload of c.
func Credential(c parse.Credential, size int) ([]byte, error) {
	content, err := parse.Encode(c)
	if err != nil {
		return nil, err
	}
	return PNG(content, size)
}
