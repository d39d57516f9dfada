package xmlcodec

import (
	"bytes"
	"compress/flate"
	"encoding/base64"
	"io"
)

// Deflate compresses data using raw DEFLATE, the compression EBICS order
// data and signature blocks are wrapped in before encryption.
func Deflate(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Inflate reverses Deflate.
func Inflate(data []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(data))
	defer r.Close()
	return io.ReadAll(r)
}

// B64Encode and B64Decode are the Base64 convenience wrappers spec.md
// §4.A asks for, kept separate from Element.SetBase64 so non-XML callers
// (the crypto package) can reuse them.
func B64Encode(data []byte) string { return base64.StdEncoding.EncodeToString(data) }

func B64Decode(s string) ([]byte, error) { return base64.StdEncoding.DecodeString(s) }
