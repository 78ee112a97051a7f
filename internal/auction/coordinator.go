// Package auction runs timed multi-bidder auction rounds: it fans bid
// requests out to every active adapter, races their settlement against a
// global timeout, and calls the primary ad server exactly once per round.
package auction

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thenexusengine/tne_adlib/internal/adstore"
	"github.com/thenexusengine/tne_adlib/internal/metrics"
	"github.com/thenexusengine/tne_adlib/internal/report"
)

// Status describes how a round ended.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusDisabled  Status = "disabled"
	StatusEmpty     Status = "empty"
)

// Trigger names the condition that fired the terminal action.
type Trigger string

const (
	TriggerSettled Trigger = "settled"
	TriggerTimeout Trigger = "timeout"
	TriggerNone    Trigger = "none"
)

// BidderOutcome is the per-bidder diagnostic record of a round, as known
// at the instant the terminal action completed.
type BidderOutcome struct {
	Name     string        `json:"name"`
	Settled  bool          `json:"settled"`
	Included bool          `json:"included"`
	Failed   bool          `json:"failed,omitempty"`
	Latency  time.Duration `json:"latencyMs"`
}

// Result is the terminal state of one auction round.
type Result struct {
	Status   Status          `json:"status"`
	Trigger  Trigger         `json:"trigger"`
	Duration time.Duration   `json:"durationMs"`
	Included []string        `json:"included"`
	Bidders  []BidderOutcome `json:"bidders"`
}

// Coordinator drives auction rounds. It is long-lived and safe for
// concurrent rounds as long as each round gets its own store.
type Coordinator struct {
	adServer AdServer
	bidders  BidderSource
	reporter report.Reporter
	metrics  *metrics.Metrics
}

// NewCoordinator wires a coordinator. metrics may be nil.
func NewCoordinator(adServer AdServer, bidders BidderSource, reporter report.Reporter, m *metrics.Metrics) *Coordinator {
	if reporter == nil {
		reporter = report.NewLogReporter(nil)
	}
	return &Coordinator{
		adServer: adServer,
		bidders:  bidders,
		reporter: reporter,
		metrics:  m,
	}
}

type bidderOutcome struct {
	name    string
	failed  bool
	latency time.Duration
}

// Run executes exactly one auction round against the given store. It
// returns once the terminal action has completed (or was skipped). Bidders
// that are still in flight at that point continue in the background and
// write their data into the store when they settle, but can no longer
// influence the round.
func (c *Coordinator) Run(ctx context.Context, cfg *Config, store *adstore.Store) (*Result, error) {
	if cfg.DisableAds {
		log.Debug().Msg("ads disabled, skipping auction round")
		c.recordAuction(StatusDisabled, TriggerNone, 0, 0, 0)
		return &Result{Status: StatusDisabled, Trigger: TriggerNone}, nil
	}
	if len(cfg.AdUnits) == 0 {
		log.Debug().Msg("no ad units configured, skipping auction round")
		c.recordAuction(StatusEmpty, TriggerNone, 0, 0, 0)
		return &Result{Status: StatusEmpty, Trigger: TriggerNone}, nil
	}

	start := time.Now()
	bidders := c.bidders.ListActiveBidders()

	if err := c.adServer.DefineSlots(ctx, cfg.AdUnits); err != nil {
		// Slot setup failures are reported but never abort the round; the
		// refresh call is still the single best-effort attempt.
		c.reporter.Report(fmt.Errorf("define slots: %w", err))
	}
	c.adServer.EnableServices()

	// The fetch context deliberately outlives the round: the timeout
	// cancels waiting, not the in-flight vendor calls, so late bidders can
	// still record their data for diagnostics.
	fetchCtx := context.WithoutCancel(ctx)

	settled := make(chan bidderOutcome, len(bidders))
	for _, b := range bidders {
		go c.runBidder(fetchCtx, b, cfg, store, settled)
	}

	var latch Latch
	terminalDone := make(chan Trigger, 1)
	outcomes := newOutcomeRecorder()

	fireTerminal := func(trigger Trigger) {
		if !latch.TryFire() {
			return
		}
		c.runTerminal(ctx, bidders, store, trigger)
		terminalDone <- trigger
	}

	timer := time.AfterFunc(cfg.AuctionTimeout, func() {
		fireTerminal(TriggerTimeout)
	})
	defer timer.Stop()

	go func() {
		for i := 0; i < len(bidders); i++ {
			oc := <-settled
			outcomes.record(oc)
		}
		fireTerminal(TriggerSettled)
	}()

	trigger := <-terminalDone
	elapsed := time.Since(start)

	result := c.buildResult(bidders, store, trigger, elapsed, outcomes)
	c.recordAuction(StatusCompleted, trigger, elapsed, len(result.Included), len(bidders)-len(result.Included))

	log.Info().
		Str("trigger", string(trigger)).
		Dur("duration", elapsed).
		Int("bidders", len(bidders)).
		Strs("included", result.Included).
		Msg("auction round complete")
	return result, nil
}

// runBidder isolates one bidder call: a panic or error is reported and
// recorded as "settled with no data", and can never stall the round or
// the other bidders.
func (c *Coordinator) runBidder(ctx context.Context, b Bidder, cfg *Config, store *adstore.Store, settled chan<- bidderOutcome) {
	name := b.Name()
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			c.reporter.Report(fmt.Errorf("bidder %s panicked: %v\n%s", name, r, debug.Stack()))
			store.RecordBidResponses(name, nil)
			settled <- bidderOutcome{name: name, failed: true, latency: time.Since(start)}
		}
	}()

	data, err := b.FetchBids(ctx, cfg)
	latency := time.Since(start)
	if err != nil {
		c.reporter.Report(fmt.Errorf("bidder %s: fetch bids: %w", name, err))
		data = nil
	}
	store.RecordBidResponses(name, data)

	if c.metrics != nil {
		c.metrics.RecordBidderRequest(name, latency, err != nil, errors.Is(err, context.DeadlineExceeded))
		if data != nil {
			for _, bids := range data.BidResponses {
				for _, br := range bids {
					if br.Revenue != nil {
						c.metrics.RecordBid(name, *br.Revenue*1000) // per-impression back to CPM
					} else {
						c.metrics.RecordBid(name, 0)
					}
				}
			}
		}
	}
	settled <- bidderOutcome{name: name, failed: err != nil, latency: latency}
}

// runTerminal is the one-shot "call the ad server now" action. The latch
// guarantees a single execution per round; within it, every bidder already
// present in the store is marked included and has its targeting pushed
// before the refresh goes out.
func (c *Coordinator) runTerminal(ctx context.Context, bidders []Bidder, store *adstore.Store, trigger Trigger) {
	included := store.MarkPresentIncluded()
	includedSet := make(map[string]bool, len(included))
	for _, name := range included {
		includedSet[name] = true
	}

	for _, b := range bidders {
		if includedSet[b.Name()] {
			c.safeSetTargeting(b)
		}
	}

	start := time.Now()
	err := c.adServer.SetTargetingAndRefresh(ctx)
	if c.metrics != nil {
		c.metrics.RecordAdServerCall("refresh", time.Since(start), err)
	}
	if err != nil {
		c.reporter.Report(fmt.Errorf("ad server refresh: %w", err))
	}
}

func (c *Coordinator) safeSetTargeting(b Bidder) {
	defer func() {
		if r := recover(); r != nil {
			c.reporter.Report(fmt.Errorf("bidder %s: set targeting panicked: %v", b.Name(), r))
		}
	}()
	b.SetTargeting()
}

func (c *Coordinator) buildResult(bidders []Bidder, store *adstore.Store, trigger Trigger, elapsed time.Duration, outcomes *outcomeRecorder) *Result {
	records := store.BidderRecords()
	included := make([]string, 0, len(records))

	result := &Result{
		Status:   StatusCompleted,
		Trigger:  trigger,
		Duration: elapsed,
	}
	for _, b := range bidders {
		name := b.Name()
		out := BidderOutcome{Name: name}
		if oc, ok := outcomes.get(name); ok {
			out.Settled = true
			out.Failed = oc.failed
			out.Latency = oc.latency
		}
		if rec, ok := records[name]; ok && rec.IncludedInAdRequest {
			out.Included = true
			included = append(included, name)
		}
		result.Bidders = append(result.Bidders, out)
	}
	sort.Strings(included)
	result.Included = included
	return result
}

func (c *Coordinator) recordAuction(status Status, trigger Trigger, d time.Duration, included, excluded int) {
	if c.metrics != nil {
		c.metrics.RecordAuction(string(status), string(trigger), d, included, excluded)
	}
}

type outcomeRecorder struct {
	mu sync.Mutex
	m  map[string]bidderOutcome
}

func newOutcomeRecorder() *outcomeRecorder {
	return &outcomeRecorder{m: make(map[string]bidderOutcome)}
}

func (r *outcomeRecorder) record(oc bidderOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.m[oc.name] = oc
}

func (r *outcomeRecorder) get(name string) (bidderOutcome, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	oc, ok := r.m[name]
	return oc, ok
}
