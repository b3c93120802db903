package runner

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"dmarcimport/internal/config"
	"dmarcimport/internal/dmarc"
	"dmarcimport/internal/store"
)

// ReportStore is the persistence half of the pipeline. Implemented by
// store.ReportStore, faked in tests.
type ReportStore interface {
	Store(ctx context.Context, report *dmarc.AggregateReport, rawXML []byte) (*store.Outcome, error)
}

// Runner drives one import run end to end, from the source adapter
// through the archive resolver and parser into the store, accumulating
// statistics at every stage.
// Processing is strictly sequential, one item is fully handled before
// the next is considered.
type Runner struct {
	log   *logrus.Logger
	store ReportStore
	cfg   *config.Configuration
	stats *Stats
}

// New builds a runner around an externally owned Stats so the caller
// can render the summary even when the run never starts.
func New(log *logrus.Logger, reportStore ReportStore, cfg *config.Configuration, stats *Stats) *Runner {
	return &Runner{
		log:   log,
		store: reportStore,
		cfg:   cfg,
		stats: stats,
	}
}

// Stats returns the counters of the current run. The summary line is
// emitted by the caller on every exit path, terminal failures
// included.
func (r *Runner) Stats() *Stats {
	return r.stats
}

// Run dispatches to the configured source. A returned error is a
// terminal failure; per-item failures are logged, counted and never
// escape a single item's processing.
func (r *Runner) Run(ctx context.Context) error {
	switch r.cfg.Source {
	case "local":
		return r.runDirectory(ctx)
	case "imap":
		return r.runMailbox(ctx)
	default:
		return errors.New("unknown source " + r.cfg.Source)
	}
}

// resolveAndProcess feeds one raw blob through the resolver and every
// resolved XML candidate through parse and store.
// countEntries controls when the attachment counter ticks: the
// mailbox driver counts real attachments before resolution, the
// directory driver counts resolved candidates.
func (r *Runner) resolveAndProcess(ctx context.Context, mode dmarc.SourceMode, name string, content []byte, countEntries bool) {
	entries, err := dmarc.Resolve(mode, name, content)
	if err != nil {
		var decodeErr *dmarc.DecodeError
		var archiveErr *dmarc.ArchiveError
		switch {
		case errors.Is(err, dmarc.ErrUnsupportedType):
			r.log.Debugf("    Skipping unsupported file: %s", name)
		case errors.As(err, &decodeErr):
			// a gzip decode failure counts as an xml load failure
			r.stats.XMLFailed++
			r.log.Warnf("    Xml load failed in %s skipping...", name)
		case errors.As(err, &archiveErr):
			r.log.Warnf("    Unable to open zip: %s", name)
		default:
			r.stats.Errors++
			r.log.Errorf("    Could not resolve %s: %v", name, err)
		}
		return
	}

	for _, entry := range entries {
		if countEntries {
			r.stats.AttachmentsSeen++
		}
		r.processEntry(ctx, entry)
	}
}

func (r *Runner) processEntry(ctx context.Context, entry dmarc.Entry) {
	report, err := dmarc.Parse(entry.XML)
	if err != nil {
		r.stats.XMLFailed++
		r.log.Warnf("    Xml load failed in %s skipping...", entry.Name)
		return
	}

	for _, ip := range report.InvalidIPs {
		r.log.Infof("    Invalid IP address: %s", ip)
	}

	outcome, err := r.store.Store(ctx, report, entry.XML)
	r.stats.XMLParsed++
	if err != nil {
		r.stats.Errors++
		r.log.Errorf("    Could not store report %s: %v", report.ReportID, err)
		return
	}
	if outcome.Skipped {
		r.stats.ReportsSkipped++
		return
	}
	r.stats.ReportsInserted++
	r.stats.RecordsInserted += outcome.RecordsInserted
}
