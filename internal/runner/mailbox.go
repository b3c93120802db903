package runner

import (
	"context"
	"fmt"

	goimap "github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"

	"dmarcimport/internal/dmarc"
	"dmarcimport/internal/imap"
	"dmarcimport/internal/source"
)

func (r *Runner) runMailbox(ctx context.Context) error {
	r.stats.Mode = "imap"
	conf := r.cfg.ImapConfig
	r.log.Infof("Connecting to %s:%d protocol=%s enc=%s", conf.Host, conf.Port, conf.Protocol, conf.Encryption)

	c, err := imap.Connect(conf, r.log)
	if err != nil {
		return fmt.Errorf("cannot connect to email: %w", err)
	}
	defer func() {
		if err := c.Logout(); err != nil {
			r.log.Debugf("error on logout: %v", err)
		}
	}()

	if err := c.Login(conf.User, conf.Pass); err != nil {
		return fmt.Errorf("could not login: %w", err)
	}

	hasFolder, err := imap.HasImapFolder(c, conf.FolderInbox)
	if err != nil {
		return fmt.Errorf("cannot open folder %s: %w", conf.FolderInbox, err)
	}
	if !hasFolder {
		return fmt.Errorf("cannot open folder %s: not found in account", conf.FolderInbox)
	}

	mbox, err := c.Select(conf.FolderInbox, false)
	if err != nil {
		return fmt.Errorf("cannot open folder %s: %w", conf.FolderInbox, err)
	}

	r.log.Infof("IMAP message count: %d", mbox.Messages)
	if mbox.Messages == 0 {
		return nil
	}

	seqset := new(goimap.SeqSet)
	seqset.AddRange(1, mbox.Messages)

	section := &goimap.BodySectionName{}
	items := []goimap.FetchItem{
		section.FetchItem(),
		goimap.FetchEnvelope,
		goimap.FetchUid,
	}

	messages := make(chan *goimap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- c.Fetch(seqset, items, messages)
	}()

	var msgs []*goimap.Message
	for msg := range messages {
		msgs = append(msgs, msg)
	}
	if err := <-done; err != nil {
		return fmt.Errorf("error on fetch: %w", err)
	}

	// newest first
	moved := false
	for i := len(msgs) - 1; i >= 0; i-- {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if r.processMessage(ctx, c, section, msgs[i]) {
			moved = true
		}
	}

	if moved {
		r.log.Debug("running expunge (delete all moved messages)")
		if err := c.Expunge(nil); err != nil {
			r.log.Warnf("could not expunge: %v", err)
		}
	}

	return nil
}

// processMessage handles all attachments of one message and relocates
// it to the processed folder when one is configured. The return value
// says whether the message was flagged for expunge.
func (r *Runner) processMessage(ctx context.Context, c *client.Client, section *goimap.BodySectionName, msg *goimap.Message) bool {
	r.stats.MessagesSeen++
	r.log.Infof("Processing message...  Subject:\"%s\"", msg.Envelope.Subject)

	body := msg.GetBody(section)
	if body == nil {
		r.stats.Errors++
		r.log.Error("    server did not return the message body")
		return false
	}

	attachments, err := source.ExtractAttachments(r.log, body)
	if err != nil {
		r.stats.Errors++
		r.log.Errorf("    could not read message: %v", err)
		return false
	}

	for _, att := range attachments {
		r.stats.AttachmentsSeen++
		r.log.Infof("  Processing attachment: %s", att.Name)
		r.resolveAndProcess(ctx, dmarc.ModeMailbox, att.Name, att.Content, false)
	}

	if r.cfg.ImapConfig.FolderProcessed == "" {
		return false
	}
	if err := imap.MoveMessage(c, msg.Uid, r.cfg.ImapConfig.FolderProcessed); err != nil {
		// the reports are already stored, a leftover message in the
		// inbox is only a warning
		r.log.Warnf("    Unable to move message to %s: %v", r.cfg.ImapConfig.FolderProcessed, err)
		return false
	}
	r.stats.MessagesMoved++
	return true
}
