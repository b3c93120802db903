package runner

import (
	"context"
	"errors"

	"dmarcimport/internal/dmarc"
	"dmarcimport/internal/source"
)

func (r *Runner) runDirectory(ctx context.Context) error {
	r.stats.Mode = "local"
	r.log.Info("Starting import in LOCAL mode")
	r.log.Debugf("localPath=%s", r.cfg.LocalPath)

	if r.cfg.LocalPath == "" {
		return errors.New("local import path not configured")
	}

	files, err := source.ListDirectory(r.cfg.LocalPath)
	if err != nil {
		return err
	}

	for _, f := range files {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		r.log.Infof("Processing local file: %s", f.Name)
		r.resolveAndProcess(ctx, dmarc.ModeDirectory, f.Name, f.Content, true)
	}
	return nil
}
