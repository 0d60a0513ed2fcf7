package controller

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/dd0wney/cluso-sdn/pkg/logging"
)

// CheckForUpdates reloads the topology when the file's modification time
// differs from the one seen at the last load, including the file
// appearing or disappearing.
func (c *Controller) CheckForUpdates(ctx context.Context) (bool, error) {
	mtime := c.stat()
	c.mu.Lock()
	unchanged := c.loaded && mtime.Equal(c.modTime)
	c.mu.Unlock()
	if unchanged {
		return false, nil
	}
	c.logger.Info("topology file changed", logging.Path(c.cfg.File))
	return true, c.Load(ctx)
}

// Watch polls the file every PollInterval and, with Watch set, reacts to
// file system notifications on its directory. It returns when ctx ends.
func (c *Controller) Watch(ctx context.Context) error {
	var tick <-chan time.Time
	if c.cfg.PollInterval > 0 {
		ticker := c.loop.Clock().NewTicker(c.cfg.PollInterval)
		defer ticker.Stop()
		tick = ticker.Chan()
	}

	var (
		events <-chan fsnotify.Event
		errs   <-chan error
	)
	file := filepath.Clean(c.cfg.File)
	if c.cfg.Watch {
		w, err := fsnotify.NewWatcher()
		if err == nil {
			err = w.Add(filepath.Dir(file))
		}
		if err != nil {
			c.logger.Warn("file notifications unavailable, polling only", logging.Error(err))
		} else {
			defer w.Close()
			events, errs = w.Events, w.Errors
		}
	}

	check := func() {
		if _, err := c.CheckForUpdates(ctx); err != nil && ctx.Err() == nil {
			c.logger.Error("topology reload failed", logging.Error(err))
		}
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick:
			check()
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Clean(ev.Name) == file && ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) {
				check()
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			c.logger.Warn("file notification error", logging.Error(err))
		}
	}
}
