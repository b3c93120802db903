package runner

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dmarcimport/internal/config"
	"dmarcimport/internal/dmarc"
	"dmarcimport/internal/store"
)

const sampleXML = `<feedback>
  <report_metadata>
    <org_name>acme</org_name>
    <report_id>abc</report_id>
    <date_range><begin>1538092800</begin><end>1538179199</end></date_range>
  </report_metadata>
  <policy_published>
    <domain>example.com</domain>
    <p>none</p>
  </policy_published>
  <record>
    <row>
      <source_ip>203.0.113.7</source_ip>
      <count>5</count>
      <policy_evaluated>
        <disposition>pass</disposition>
        <dkim>pass</dkim>
        <spf>pass</spf>
      </policy_evaluated>
    </row>
    <identifiers><header_from>example.com</header_from></identifiers>
  </record>
  <record>
    <row>
      <source_ip>2001:db8::25</source_ip>
      <count>2</count>
      <policy_evaluated>
        <disposition>reject</disposition>
        <dkim>fail</dkim>
        <spf>fail</spf>
      </policy_evaluated>
    </row>
    <identifiers><header_from>example.com</header_from></identifiers>
  </record>
</feedback>`

type fakeStore struct {
	reports map[string]*dmarc.AggregateReport
	failAll bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{reports: make(map[string]*dmarc.AggregateReport)}
}

func (f *fakeStore) Store(_ context.Context, report *dmarc.AggregateReport, _ []byte) (*store.Outcome, error) {
	if f.failAll {
		return nil, errors.New("database gone")
	}
	key := report.ReportID + "\x00" + report.Domain
	if _, ok := f.reports[key]; ok {
		return &store.Outcome{Skipped: true}, nil
	}
	f.reports[key] = report
	return &store.Outcome{Serial: uint32(len(f.reports)), RecordsInserted: len(report.Records)}, nil
}

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func newDirectoryRunner(t *testing.T, fs *fakeStore, files map[string][]byte) *Runner {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), content, 0o600))
	}
	cfg := &config.Configuration{Source: "local", LocalPath: dir}
	return New(testLogger(), fs, cfg, &Stats{})
}

func TestRunDirectoryEndToEnd(t *testing.T) {
	t.Parallel()

	fs := newFakeStore()
	r := newDirectoryRunner(t, fs, map[string][]byte{"sample.xml": []byte(sampleXML)})
	require.NoError(t, r.Run(context.Background()))

	stats := r.Stats()
	assert.Equal(t, "local", stats.Mode)
	assert.Equal(t, 1, stats.AttachmentsSeen)
	assert.Equal(t, 1, stats.XMLParsed)
	assert.Equal(t, 0, stats.XMLFailed)
	assert.Equal(t, 1, stats.ReportsInserted)
	assert.Equal(t, 0, stats.ReportsSkipped)
	assert.Equal(t, 2, stats.RecordsInserted)
	assert.Equal(t, 0, stats.Errors)

	stored := fs.reports["abc\x00example.com"]
	require.NotNil(t, stored)
	require.Len(t, stored.Records, 2)
	assert.Equal(t, dmarc.DispositionNone, stored.Records[0].Disposition)
	assert.Equal(t, dmarc.DispositionReject, stored.Records[1].Disposition)

	// the same directory again: report is skipped, nothing inserted
	again := New(testLogger(), fs, &config.Configuration{Source: "local", LocalPath: r.cfg.LocalPath}, &Stats{})
	require.NoError(t, again.Run(context.Background()))
	assert.Equal(t, 1, again.Stats().ReportsSkipped)
	assert.Equal(t, 0, again.Stats().ReportsInserted)
	assert.Equal(t, 0, again.Stats().RecordsInserted)
}

func TestRunDirectoryInvalidIPIsolation(t *testing.T) {
	t.Parallel()

	withBadIP := `<feedback>
  <report_metadata><report_id>bad-ip</report_id><date_range><begin>1</begin></date_range></report_metadata>
  <policy_published><domain>example.com</domain></policy_published>
  <record><row><source_ip>bogus</source_ip><count>1</count></row></record>
  <record><row><source_ip>192.0.2.1</source_ip><count>1</count></row></record>
  <record><row><source_ip>192.0.2.2</source_ip><count>1</count></row></record>
</feedback>`

	fs := newFakeStore()
	r := newDirectoryRunner(t, fs, map[string][]byte{"sample.xml": []byte(withBadIP)})
	require.NoError(t, r.Run(context.Background()))

	assert.Equal(t, 1, r.Stats().ReportsInserted)
	assert.Equal(t, 2, r.Stats().RecordsInserted)
	assert.Equal(t, 0, r.Stats().XMLFailed)
	assert.Equal(t, 0, r.Stats().Errors)
}

func TestRunDirectoryZipAndJunk(t *testing.T) {
	t.Parallel()

	a := `<feedback><report_metadata><report_id>a</report_id></report_metadata><policy_published><domain>d1</domain></policy_published></feedback>`
	b := `<feedback><report_metadata><report_id>b</report_id></report_metadata><policy_published><domain>d2</domain></policy_published></feedback>`

	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range map[string]string{"a.xml": a, "b.xml": b, "ignored.txt": "junk"} {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	fs := newFakeStore()
	r := newDirectoryRunner(t, fs, map[string][]byte{
		"reports.zip": buf.Bytes(),
		"notes.txt":   []byte("not a report"),
		"broken.gz":   []byte("not gzip"),
	})
	require.NoError(t, r.Run(context.Background()))

	stats := r.Stats()
	// the two xml entries inside the zip, junk entries ignored
	assert.Equal(t, 2, stats.AttachmentsSeen)
	assert.Equal(t, 2, stats.XMLParsed)
	assert.Equal(t, 2, stats.ReportsInserted)
	// the broken gz surfaces through the xml failure counter
	assert.Equal(t, 1, stats.XMLFailed)
	assert.Equal(t, 0, stats.Errors)
}

func TestRunDirectoryStoreFailure(t *testing.T) {
	t.Parallel()

	fs := newFakeStore()
	fs.failAll = true
	r := newDirectoryRunner(t, fs, map[string][]byte{"sample.xml": []byte(sampleXML)})

	// a store failure is a per-item error, the run still completes
	require.NoError(t, r.Run(context.Background()))
	assert.Equal(t, 1, r.Stats().Errors)
	assert.Equal(t, 1, r.Stats().XMLParsed)
	assert.Equal(t, 0, r.Stats().ReportsInserted)
}

func TestRunDirectoryMissingPath(t *testing.T) {
	t.Parallel()

	cfg := &config.Configuration{Source: "local", LocalPath: "/this/does/not/exist"}
	r := New(testLogger(), newFakeStore(), cfg, &Stats{})
	require.Error(t, r.Run(context.Background()))
}

func TestStatsSummary(t *testing.T) {
	t.Parallel()

	s := &Stats{Mode: "local", MessagesSeen: 1, AttachmentsSeen: 2, XMLParsed: 2, ReportsInserted: 1, ReportsSkipped: 1, RecordsInserted: 5}
	assert.Equal(t,
		"done. summary: mode=local messages=1 attachments=2 xml_parsed=2 xml_failed=0 reports_inserted=1 reports_skipped=1 records_inserted=5 messages_moved=0 errors=0",
		s.Summary())

	empty := &Stats{}
	assert.Contains(t, empty.Summary(), "mode=unknown")
}
