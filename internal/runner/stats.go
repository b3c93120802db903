package runner

import "fmt"

// Stats collects the counters for one run. It is owned by the caller,
// threaded explicitly through every stage and rendered once into the
// final summary line; nothing is ever persisted from it.
type Stats struct {
	Mode            string
	MessagesSeen    int
	AttachmentsSeen int
	XMLParsed       int
	XMLFailed       int
	ReportsInserted int
	ReportsSkipped  int
	RecordsInserted int
	MessagesMoved   int
	Errors          int
}

// Summary renders the one-line end-of-run summary.
func (s *Stats) Summary() string {
	mode := s.Mode
	if mode == "" {
		mode = "unknown"
	}
	return fmt.Sprintf("done. summary: mode=%s messages=%d attachments=%d xml_parsed=%d xml_failed=%d reports_inserted=%d reports_skipped=%d records_inserted=%d messages_moved=%d errors=%d",
		mode, s.MessagesSeen, s.AttachmentsSeen, s.XMLParsed, s.XMLFailed,
		s.ReportsInserted, s.ReportsSkipped, s.RecordsInserted, s.MessagesMoved, s.Errors)
}
