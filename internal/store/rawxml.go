package store

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
)

// EncodeRawXML compresses the verbatim report XML and base64-encodes
// it so it can live in the mediumtext raw_xml column.
func EncodeRawXML(raw []byte) (string, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(raw); err != nil {
		return "", fmt.Errorf("could not gzip raw xml: %w", err)
	}
	if err := gz.Close(); err != nil {
		return "", fmt.Errorf("could not close gzip writer: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// DecodeRawXML reverses EncodeRawXML, used when replaying a stored
// report.
func DecodeRawXML(encoded string) ([]byte, error) {
	compressed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("could not base64 decode raw xml: %w", err)
	}
	gz, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("could not gzip read raw xml: %w", err)
	}
	defer gz.Close()
	raw, err := io.ReadAll(gz)
	if err != nil {
		return nil, fmt.Errorf("could not read raw xml: %w", err)
	}
	return raw, nil
}
