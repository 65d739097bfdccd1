package engine

import (
	"context"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"
)

// ConnectivityProbe abstracts the platform's online/offline signal so it
// can be faked in tests and swapped per platform.
type ConnectivityProbe interface {
	// Online reports current connectivity.
	Online() bool

	// Changes delivers a value on every connectivity transition. The
	// value is the new online state.
	Changes() <-chan bool
}

// defaultProbeInterval is how often PollingProbe re-checks reachability.
const defaultProbeInterval = 30 * time.Second

// PollingProbe implements ConnectivityProbe by periodically issuing a HEAD
// request against the remote API root. Any HTTP response, including an
// error status, proves reachability; only transport failures count as
// offline.
type PollingProbe struct {
	url        string
	httpClient *http.Client
	interval   time.Duration
	logger     *slog.Logger

	online  atomic.Bool
	changes chan bool

	// checkFunc performs one reachability check; injectable for tests.
	checkFunc func(ctx context.Context) bool
}

// NewPollingProbe creates a probe for the given URL. A zero interval uses
// the default.
func NewPollingProbe(url string, httpClient *http.Client, interval time.Duration, logger *slog.Logger) *PollingProbe {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if interval <= 0 {
		interval = defaultProbeInterval
	}

	if logger == nil {
		logger = slog.Default()
	}

	p := &PollingProbe{
		url:        url,
		httpClient: httpClient,
		interval:   interval,
		logger:     logger,
		changes:    make(chan bool, 1),
	}
	p.checkFunc = p.headCheck

	// Assume online until the first check says otherwise; starting a
	// fresh engine in offline state on a healthy network would delay the
	// first sync by a full probe interval.
	p.online.Store(true)

	return p
}

// Online reports the last observed connectivity.
func (p *PollingProbe) Online() bool {
	return p.online.Load()
}

// Changes delivers connectivity transitions. Buffered by one and coalesced:
// a flap that reverts before the consumer reads is collapsed.
func (p *PollingProbe) Changes() <-chan bool {
	return p.changes
}

// Run polls until the context is canceled. It checks immediately on start,
// so a device that boots offline is observed before the first tick rather
// than a full interval later.
func (p *PollingProbe) Run(ctx context.Context) {
	p.checkOnce(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.checkOnce(ctx)
		}
	}
}

// checkOnce performs a single reachability check and publishes a change
// event on transitions.
func (p *PollingProbe) checkOnce(ctx context.Context) {
	online := p.checkFunc(ctx)

	if p.online.Swap(online) == online {
		return
	}

	p.logger.Info("connectivity changed", slog.Bool("online", online))

	select {
	case p.changes <- online:
	default:
		// Consumer hasn't read the previous transition; drain and
		// replace so it sees the latest state.
		select {
		case <-p.changes:
		default:
		}

		p.changes <- online
	}
}

func (p *PollingProbe) headCheck(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, nil)
	if err != nil {
		return false
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return false
	}

	resp.Body.Close()

	return true
}

// Compile-time interface check.
var _ ConnectivityProbe = (*PollingProbe)(nil)
