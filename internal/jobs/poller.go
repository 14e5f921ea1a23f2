// Copyright (c) 2025, the tinytorrent panel contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/avast/retry-go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	refreshAttempts = 3
	refreshDelay    = 250 * time.Millisecond

	// Backoff applied when the engine keeps failing refreshes, so a dead
	// engine does not get hammered every tick.
	initialBackoff = 10 * time.Second
	maxBackoff     = 2 * time.Minute
)

// Source yields the current job list from the engine.
type Source interface {
	JobList(ctx context.Context) ([]Record, error)
}

// Listener is invoked with the fresh job list after every successful refresh.
type Listener func(records []Record)

// Poller keeps a periodically refreshed snapshot of the engine's job list and
// fans each fresh list out to registered listeners. Consumers that need the
// list synchronously read the last snapshot via Records.
type Poller struct {
	source   Source
	interval time.Duration
	logger   zerolog.Logger

	mu        sync.RWMutex
	records   []Record
	listeners []Listener

	failures  int
	nextRetry time.Time

	started  bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func NewPoller(source Source, interval time.Duration) *Poller {
	return &Poller{
		source:   source,
		interval: interval,
		logger:   log.Logger.With().Str("module", "jobs").Logger(),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// OnRefresh registers a listener. Registration is expected to happen during
// wiring, before Start.
func (p *Poller) OnRefresh(fn Listener) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, fn)
}

// Records returns the last refreshed job list.
func (p *Poller) Records() []Record {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]Record, len(p.records))
	copy(out, p.records)
	return out
}

// Refresh fetches the job list now, retrying transient failures, and
// publishes the result to listeners. Safe to call concurrently with the
// background loop.
func (p *Poller) Refresh(ctx context.Context) error {
	var records []Record

	err := retry.Do(
		func() error {
			var err error
			records, err = p.source.JobList(ctx)
			return err
		},
		retry.Attempts(refreshAttempts),
		retry.Delay(refreshDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		p.trackFailure()
		return err
	}

	p.publish(records)
	return nil
}

func (p *Poller) publish(records []Record) {
	p.mu.Lock()
	p.records = records
	p.failures = 0
	p.nextRetry = time.Time{}
	listeners := make([]Listener, len(p.listeners))
	copy(listeners, p.listeners)
	p.mu.Unlock()

	for _, fn := range listeners {
		fn(records)
	}
}

func (p *Poller) trackFailure() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.failures++
	backoff := min(time.Duration(1<<(p.failures-1))*initialBackoff, maxBackoff)
	p.nextRetry = time.Now().Add(backoff)

	p.logger.Debug().Int("failures", p.failures).Dur("backoff", backoff).Msg("Job list refresh failed, applying backoff")
}

func (p *Poller) inBackoff() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return time.Now().Before(p.nextRetry)
}

// Start launches the background refresh loop. An initial refresh runs
// immediately so consumers have a snapshot before the first tick.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	go p.loop(ctx)
}

func (p *Poller) loop(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	if err := p.Refresh(ctx); err != nil {
		p.logger.Warn().Err(err).Msg("Initial job list refresh failed")
	}

	for {
		select {
		case <-ticker.C:
			if p.inBackoff() {
				continue
			}
			if err := p.Refresh(ctx); err != nil {
				p.logger.Warn().Err(err).Msg("Job list refresh failed")
			}
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		}
	}
}

// Close stops the background loop and waits for it to exit.
func (p *Poller) Close() {
	p.stopOnce.Do(func() { close(p.stop) })

	p.mu.RLock()
	started := p.started
	p.mu.RUnlock()

	if started {
		<-p.done
	}
}
