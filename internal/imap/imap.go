package imap

import (
	"crypto/tls"
	"fmt"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"

	"dmarcimport/internal/config"
)

// Connect dials the mail server according to the configured
// encryption mode: ssl is implicit TLS, tls forces STARTTLS, none
// upgrades opportunistically when the server offers it.
func Connect(conf config.IMAPConfig, logger imap.Logger) (*client.Client, error) {
	if conf.Protocol != "imap" {
		return nil, fmt.Errorf("protocol %s is not supported, only imap is", conf.Protocol)
	}

	addr := fmt.Sprintf("%s:%d", conf.Host, conf.Port)
	tlsConfig := tls.Config{} // nolint: gosec
	if conf.IgnoreCert {
		tlsConfig.InsecureSkipVerify = true // nolint:gosec
	}

	if conf.Encryption == "ssl" {
		c, err := client.DialTLS(addr, &tlsConfig)
		if err != nil {
			return nil, err
		}
		c.Timeout = conf.Timeout.Duration
		c.ErrorLog = logger
		return c, nil
	}

	c, err := client.Dial(addr)
	if err != nil {
		return nil, err
	}
	c.ErrorLog = logger
	c.Timeout = conf.Timeout.Duration

	support, err := c.SupportStartTLS()
	if err != nil {
		return nil, err
	}
	if conf.Encryption == "tls" && !support {
		return nil, fmt.Errorf("tls encryption requested but server does not support starttls")
	}
	if support {
		if err := c.StartTLS(&tlsConfig); err != nil {
			return nil, err
		}
	}

	return c, nil
}

func HasImapFolder(c *client.Client, folderName string) (bool, error) {
	mailboxes := make(chan *imap.MailboxInfo, 10)
	done := make(chan error, 1)
	go func() {
		done <- c.List("", "*", mailboxes)
	}()

	hasFolder := false
	for m := range mailboxes {
		if m.Name == folderName {
			hasFolder = true
			break
		}
	}

	if err := <-done; err != nil {
		return false, err
	}

	return hasFolder, nil
}

// MoveMessage copies a message to the destination folder and flags
// the original as deleted; the caller expunges once at the end of the
// run. If the copy fails because the folder does not exist yet, the
// folder is created once and the copy retried exactly once more.
func MoveMessage(c *client.Client, msgUID uint32, destination string) error {
	seq := new(imap.SeqSet)
	seq.AddNum(msgUID)

	if err := c.UidCopy(seq, destination); err != nil {
		if createErr := c.Create(destination); createErr != nil {
			return fmt.Errorf("could not copy (%w) and could not create folder %s: %v", err, destination, createErr)
		}
		if err := c.UidCopy(seq, destination); err != nil {
			return fmt.Errorf("could not copy message after creating folder %s: %w", destination, err)
		}
	}

	return MarkMessageAsDeleted(c, msgUID)
}

func MarkMessageAsDeleted(c *client.Client, msgUID uint32) error {
	seq := new(imap.SeqSet)
	seq.AddNum(msgUID)
	item := imap.FormatFlagsOp(imap.AddFlags, true)
	flags := []interface{}{imap.DeletedFlag}
	if err := c.UidStore(seq, item, flags, nil); err != nil {
		return err
	}
	return nil
}
