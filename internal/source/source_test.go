package source

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestListDirectory(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "report.xml"), []byte("<a/>"), 0o600); err != nil {
		t.Fatalf("could not write file: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hi"), 0o600); err != nil {
		t.Fatalf("could not write file: %v", err)
	}
	if err := os.Mkdir(filepath.Join(dir, "subdir"), 0o700); err != nil {
		t.Fatalf("could not create subdir: %v", err)
	}

	files, err := ListDirectory(dir)
	if err != nil {
		t.Fatalf("got error: %v", err)
	}
	// subdirectories are skipped, extension filtering is not the
	// source's job
	if len(files) != 2 {
		t.Fatalf("expected 2 files, got %d", len(files))
	}
}

func TestListDirectoryMissing(t *testing.T) {
	t.Parallel()

	if _, err := ListDirectory("/does/not/exist"); err == nil {
		t.Fatal("expected error on missing directory")
	}
}

func TestExtractAttachments(t *testing.T) {
	t.Parallel()

	msg := strings.Join([]string{
		"From: reporter@example.net",
		"To: dmarc@example.com",
		"Subject: Report Domain: example.com",
		"MIME-Version: 1.0",
		`Content-Type: multipart/mixed; boundary="b1"`,
		"",
		"--b1",
		"Content-Type: text/plain",
		"",
		"see attached",
		"--b1",
		"Content-Type: application/zip",
		`Content-Disposition: attachment; filename="report.zip"`,
		"Content-Transfer-Encoding: base64",
		"",
		"UEsDBA==",
		"--b1--",
		"",
	}, "\r\n")

	log := logrus.New()
	log.SetOutput(io.Discard)

	attachments, err := ExtractAttachments(log, strings.NewReader(msg))
	if err != nil {
		t.Fatalf("got error: %v", err)
	}
	if len(attachments) != 1 {
		t.Fatalf("expected 1 attachment, got %d", len(attachments))
	}
	if attachments[0].Name != "report.zip" {
		t.Errorf("wrong filename: %s", attachments[0].Name)
	}
	// "UEsDBA==" is the zip magic PK\x03\x04
	if !bytes.Equal(attachments[0].Content, []byte{80, 75, 3, 4}) {
		t.Errorf("wrong content: %v", attachments[0].Content)
	}
}

func TestExtractAttachmentsInlineArchive(t *testing.T) {
	t.Parallel()

	// gzip magic bytes delivered inline instead of as an attachment
	msg := strings.Join([]string{
		"From: reporter@example.net",
		"To: dmarc@example.com",
		"Subject: Report",
		"MIME-Version: 1.0",
		"Content-Type: application/gzip",
		`Content-Disposition: inline; filename="report.xml.gz"`,
		"Content-Transfer-Encoding: base64",
		"",
		"H4sIAA==",
		"",
	}, "\r\n")

	log := logrus.New()
	log.SetOutput(io.Discard)

	attachments, err := ExtractAttachments(log, strings.NewReader(msg))
	if err != nil {
		t.Fatalf("got error: %v", err)
	}
	if len(attachments) != 1 {
		t.Fatalf("expected 1 attachment, got %d", len(attachments))
	}
	if attachments[0].Name != "report.xml.gz" {
		t.Errorf("wrong filename: %s", attachments[0].Name)
	}
}

func TestExtractAttachmentsInvalid(t *testing.T) {
	t.Parallel()

	log := logrus.New()
	log.SetOutput(io.Discard)

	if _, err := ExtractAttachments(log, strings.NewReader("not a mail message")); err == nil {
		t.Fatal("expected error on invalid message")
	}
}
