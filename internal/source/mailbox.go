package source

import (
	"bytes"
	"fmt"
	"io"

	"github.com/emersion/go-message/mail"
	"github.com/sirupsen/logrus"

	// needed to handle other charsets too
	_ "github.com/emersion/go-message/charset"
)

// https://en.wikipedia.org/wiki/List_of_file_signatures
var magicTable = [][]byte{
	{31, 139},      // .gz "\x1f\x8b"
	{80, 75, 3, 4}, // .zip "\x50\x4B\x03\x04"
	{80, 75, 5, 6}, // .zip "\x50\x4B\x05\x06"
	{80, 75, 7, 8}, // .zip "\x50\x4B\x07\x08"
}

func isSupportedArchive(content []byte) bool {
	for _, magic := range magicTable {
		if bytes.HasPrefix(content, magic) {
			return true
		}
	}
	return false
}

// ExtractAttachments walks all MIME parts of a raw message and
// returns the attachments. Some providers inline the report instead
// of attaching it, so inline parts that carry archive magic bytes are
// treated as attachments too.
func ExtractAttachments(log *logrus.Logger, r io.Reader) ([]File, error) {
	m, err := mail.CreateReader(r)
	if err != nil {
		return nil, fmt.Errorf("could not create mail reader: %w", err)
	}
	defer m.Close()

	var attachments []File
	for {
		p, err := m.NextPart()
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, fmt.Errorf("could not get next part: %w", err)
		}

		switch h := p.Header.(type) {
		case *mail.InlineHeader:
			b, err := io.ReadAll(p.Body)
			if err != nil {
				return nil, fmt.Errorf("could not read inline body: %w", err)
			}
			if !isSupportedArchive(b) {
				log.Debugf("skipping inline part, %d bytes", len(b))
				continue
			}
			log.Debug("found inline attachment")
			_, params, err := h.ContentDisposition()
			if err != nil {
				return nil, fmt.Errorf("could not get content disposition: %w", err)
			}
			filename, ok := params["filename"]
			if !ok {
				return nil, fmt.Errorf("could not determine inline attachment filename")
			}
			attachments = append(attachments, File{Name: filename, Content: b})
		case *mail.AttachmentHeader:
			filename, err := h.Filename()
			if err != nil {
				return nil, fmt.Errorf("could not get attachment filename: %w", err)
			}
			if filename == "" {
				filename = "attachment.bin"
			}
			b, err := io.ReadAll(p.Body)
			if err != nil {
				return nil, fmt.Errorf("could not read attachment: %w", err)
			}
			attachments = append(attachments, File{Name: filename, Content: b})
		default:
			log.Debugf("no header type implemented: %v", p.Header)
		}
	}
	return attachments, nil
}
