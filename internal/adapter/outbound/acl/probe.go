// Package acl implements the Access-Control Probe: a process-wide cached
// view of privileged-group membership, refreshed in the background so the
// evaluation hot path never blocks on the upstream identity service.
package acl

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/scmhooks/hookengine/internal/domain/hook"
)

// MembershipSource is the upstream identity/group service the probe polls.
// A real adapter implements this against whatever directory service the
// deployment uses; tests and the reference CLI use a fixed-set fake.
type MembershipSource interface {
	Members(ctx context.Context) (map[string]bool, error)
}

// initialSyncDeadline bounds how long NewProbe waits for the first refresh
// before giving up and starting with an empty (always-false) membership set.
// Construction never fails on a slow or unreachable upstream.
const initialSyncDeadline = 10 * time.Second

// Probe implements hook.AclChecker with a cached, periodically refreshed
// membership set.
type Probe struct {
	source MembershipSource
	logger *slog.Logger

	mu          sync.RWMutex
	members     map[string]bool
	lastRefresh time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// ProbeOption configures a Probe.
type ProbeOption func(*Probe)

// WithProbeLogger overrides the default slog.Default() logger.
func WithProbeLogger(l *slog.Logger) ProbeOption {
	return func(p *Probe) { p.logger = l }
}

// NewProbe constructs a Probe and performs one synchronous refresh, bounded
// by initialSyncDeadline. If the deadline is missed or the source errors,
// construction still succeeds with IsMember defaulting to false for every
// identity until a background refresh succeeds. refreshInterval controls
// the steady-state polling period; a background goroutine runs until ctx is
// done or Close is called.
func NewProbe(ctx context.Context, source MembershipSource, refreshInterval time.Duration, opts ...ProbeOption) *Probe {
	p := &Probe{
		source:  source,
		logger:  slog.Default(),
		members: make(map[string]bool),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}

	initCtx, cancelInit := context.WithTimeout(ctx, initialSyncDeadline)
	if err := p.refresh(initCtx); err != nil {
		p.logger.Warn("acl probe: initial sync failed, starting with empty membership set", "error", err)
	}
	cancelInit()

	bgCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	go p.refreshLoop(bgCtx, refreshInterval)

	return p
}

func (p *Probe) refresh(ctx context.Context) error {
	members, err := p.source.Members(ctx)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.members = members
	p.lastRefresh = time.Now()
	p.mu.Unlock()
	return nil
}

// LastRefresh returns the time of the most recent successful membership
// refresh, the zero Time if none has ever succeeded. Exposed so the health
// endpoint can flag a probe that has gone stale.
func (p *Probe) LastRefresh() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastRefresh
}

func (p *Probe) refreshLoop(ctx context.Context, interval time.Duration) {
	defer close(p.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.refresh(ctx); err != nil {
				p.logger.Warn("acl probe: background refresh failed, keeping last known membership set", "error", err)
			}
		}
	}
}

// IsMember implements hook.AclChecker against the most recently refreshed
// membership set. It never blocks on the upstream source.
func (p *Probe) IsMember(ctx context.Context, identity string) (bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.members[identity], nil
}

// Close stops the background refresh goroutine and waits for it to exit.
func (p *Probe) Close() {
	p.cancel()
	<-p.done
}

// Compile-time interface verification.
var _ hook.AclChecker = (*Probe)(nil)
