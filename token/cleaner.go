package token

import (
	"context"
	"sync"
	"time"
)

// CleanerConfig controls the background sweep of expired rows.
type CleanerConfig struct {
	// Interval between sweeps. Defaults to one hour.
	Interval time.Duration

	// SweepTimeout bounds a single sweep. Defaults to 30 seconds.
	SweepTimeout time.Duration

	// OnSweep, when set, is called after every sweep with the number of
	// rows deleted and any error.
	OnSweep func(deleted int64, err error)
}

// Cleaner periodically deletes expired refresh tokens. It sweeps once
// immediately on Start so a long-stopped deployment catches up without
// waiting a full interval.
type Cleaner struct {
	store *Store
	cfg   CleanerConfig

	startOnce sync.Once
	closeOnce sync.Once
	started   bool
	stop      chan struct{}
	done      chan struct{}
}

// NewCleaner returns an unstarted Cleaner.
func NewCleaner(store *Store, cfg CleanerConfig) *Cleaner {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.SweepTimeout <= 0 {
		cfg.SweepTimeout = 30 * time.Second
	}
	return &Cleaner{
		store: store,
		cfg:   cfg,
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// Start launches the sweep loop. Calling Start more than once has no effect.
func (c *Cleaner) Start() {
	c.startOnce.Do(func() {
		c.started = true
		go c.run()
	})
}

func (c *Cleaner) run() {
	defer close(c.done)

	c.sweep()

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.stop:
			return
		}
	}
}

func (c *Cleaner) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.SweepTimeout)
	defer cancel()

	deleted, err := c.store.DeleteExpired(ctx)
	if c.cfg.OnSweep != nil {
		c.cfg.OnSweep(deleted, err)
	}
}

// Close stops the loop and waits for an in-flight sweep to finish. Closing
// a never-started Cleaner is a no-op.
func (c *Cleaner) Close() {
	c.closeOnce.Do(func() {
		close(c.stop)
		if c.started {
			<-c.done
		}
	})
}
