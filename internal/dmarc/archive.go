package dmarc

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// SourceMode selects how zip containers are unpacked. Mail providers
// are assumed to never double-compress, so mailbox mode only looks at
// the first zip entry and never gunzips it. Directory mode scans all
// entries and handles gz-inside-zip.
type SourceMode int

const (
	ModeMailbox SourceMode = iota
	ModeDirectory
)

// Entry is one XML candidate extracted from an input blob.
type Entry struct {
	Name string
	XML  []byte
}

// ErrUnsupportedType marks filenames that are neither xml, gz nor
// zip. Callers log these at debug level and move on.
var ErrUnsupportedType = errors.New("unsupported file type")

// DecodeError means a gzip payload could not be decompressed. The
// caller reports it through the same counter as an XML parse failure.
type DecodeError struct {
	Name string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("could not decode %s: %v", e.Name, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ArchiveError means a zip container could not be opened or holds no
// usable entry.
type ArchiveError struct {
	Name string
	Err  error
}

func (e *ArchiveError) Error() string {
	return fmt.Sprintf("unable to open zip %s: %v", e.Name, e.Err)
}

func (e *ArchiveError) Unwrap() error { return e.Err }

// Resolve classifies content by filename extension and returns the
// raw XML documents contained in it. Reports arrive as plain xml,
// gzipped xml or zip archives depending on the sending organization.
func Resolve(mode SourceMode, filename string, content []byte) ([]Entry, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xml":
		return []Entry{{Name: filename, XML: content}}, nil
	case ".gz":
		xmlContent, err := readGZ(content)
		if err != nil {
			return nil, &DecodeError{Name: filename, Err: err}
		}
		return []Entry{{Name: filename, XML: xmlContent}}, nil
	case ".zip":
		return readZIP(mode, filename, content)
	default:
		return nil, ErrUnsupportedType
	}
}

func readGZ(content []byte) ([]byte, error) {
	gz, err := gzip.NewReader(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("could not gzip read: %w", err)
	}
	defer gz.Close()

	xmlContent, err := io.ReadAll(gz)
	if err != nil {
		return nil, fmt.Errorf("could not read: %w", err)
	}
	return xmlContent, nil
}

func readZIP(mode SourceMode, filename string, content []byte) ([]Entry, error) {
	r, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, &ArchiveError{Name: filename, Err: err}
	}

	if mode == ModeMailbox {
		// only use the first file in the zip and assume it is
		// already XML
		for _, f := range r.File {
			if f.FileInfo().IsDir() {
				continue
			}
			raw, err := readZipEntry(f)
			if err != nil {
				return nil, &ArchiveError{Name: filename, Err: err}
			}
			return []Entry{{Name: f.FileInfo().Name(), XML: raw}}, nil
		}
		return nil, &ArchiveError{Name: filename, Err: errors.New("no valid file found within zip archive")}
	}

	var entries []Entry
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(f.Name)) {
		case ".xml":
			raw, err := readZipEntry(f)
			if err != nil {
				continue
			}
			entries = append(entries, Entry{Name: f.Name, XML: raw})
		case ".gz":
			raw, err := readZipEntry(f)
			if err != nil {
				continue
			}
			xmlContent, err := readGZ(raw)
			if err != nil {
				// a broken nested gz skips only this entry
				continue
			}
			entries = append(entries, Entry{Name: f.Name, XML: xmlContent})
		}
	}
	// a zip without any xml or gz entries resolves to nothing, it
	// is not an error in directory mode
	return entries, nil
}

func readZipEntry(f *zip.File) ([]byte, error) {
	x, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("could not open file %s inside zip: %w", f.Name, err)
	}
	defer x.Close()
	raw, err := io.ReadAll(x)
	if err != nil {
		return nil, fmt.Errorf("could not read file %s inside zip: %w", f.Name, err)
	}
	return raw, nil
}
