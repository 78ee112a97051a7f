package auction

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thenexusengine/tne_adlib/internal/adstore"
	"github.com/thenexusengine/tne_adlib/internal/bid"
	"github.com/thenexusengine/tne_adlib/internal/report"
)

// eventLog records the order of targeting and ad server calls so tests
// can assert the terminal action's internal ordering.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(ev string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.events))
	copy(out, l.events)
	return out
}

type fakeBidder struct {
	name   string
	delay  time.Duration
	data   *bid.ResponseData
	err    error
	panics bool
	log    *eventLog

	mu             sync.Mutex
	fetchCalls     int
	targetingCalls int
}

func (f *fakeBidder) Name() string { return f.name }

func (f *fakeBidder) FetchBids(ctx context.Context, cfg *Config) (*bid.ResponseData, error) {
	f.mu.Lock()
	f.fetchCalls++
	f.mu.Unlock()
	if f.panics {
		panic("vendor SDK exploded")
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.data != nil {
		return f.data, nil
	}
	return bid.EmptyResponseData(), nil
}

func (f *fakeBidder) SetTargeting() {
	f.mu.Lock()
	f.targetingCalls++
	f.mu.Unlock()
	if f.log != nil {
		f.log.add("targeting:" + f.name)
	}
}

func (f *fakeBidder) FetchCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetchCalls
}

func (f *fakeBidder) TargetingCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.targetingCalls
}

type fakeAdServer struct {
	log        *eventLog
	refreshErr error
	defineErr  error

	mu           sync.Mutex
	defineCalls  int
	enableCalls  int
	refreshCalls int
}

func (f *fakeAdServer) DefineSlots(ctx context.Context, adUnits []AdUnit) error {
	f.mu.Lock()
	f.defineCalls++
	f.mu.Unlock()
	return f.defineErr
}

func (f *fakeAdServer) EnableServices() {
	f.mu.Lock()
	f.enableCalls++
	f.mu.Unlock()
}

func (f *fakeAdServer) SetTargetingAndRefresh(ctx context.Context) error {
	f.mu.Lock()
	f.refreshCalls++
	f.mu.Unlock()
	if f.log != nil {
		f.log.add("refresh")
	}
	return f.refreshErr
}

func (f *fakeAdServer) RefreshCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshCalls
}

type staticSource struct{ bidders []Bidder }

func (s staticSource) ListActiveBidders() []Bidder { return s.bidders }

func bidsFor(slot, advertiser string, revenue float64) *bid.ResponseData {
	return &bid.ResponseData{
		BidResponses: map[string][]bid.BidResponse{
			slot: {{Revenue: bid.Float(revenue), AdvertiserName: advertiser, AdSize: "300x250"}},
		},
	}
}

func roundConfig(auctionTimeout time.Duration) *Config {
	return &Config{
		AdUnits:        []AdUnit{{Code: "div-1", Path: "/1234/top", Sizes: []string{"300x250"}}},
		AuctionTimeout: auctionTimeout,
		BidderTimeout:  auctionTimeout,
	}
}

func TestRun_AllSettleBeforeTimeout(t *testing.T) {
	log := &eventLog{}
	bidders := []Bidder{
		&fakeBidder{name: "a", delay: 40 * time.Millisecond, data: bidsFor("div-1", "A", 0.0012), log: log},
		&fakeBidder{name: "b", delay: 40 * time.Millisecond, data: bidsFor("div-1", "B", 0.0045), log: log},
		&fakeBidder{name: "c", delay: 40 * time.Millisecond, data: bidsFor("div-1", "C", 0.0003), log: log},
	}
	ads := &fakeAdServer{log: log}
	store := adstore.New()
	c := NewCoordinator(ads, staticSource{bidders}, &report.Capture{}, nil)

	start := time.Now()
	result, err := c.Run(context.Background(), roundConfig(2*time.Second), store)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, TriggerSettled, result.Trigger)
	assert.Less(t, time.Since(start), 500*time.Millisecond, "must not wait for the full timeout")
	assert.Equal(t, 1, ads.RefreshCalls())
	assert.ElementsMatch(t, []string{"a", "b", "c"}, result.Included)

	// Every bidder's targeting ran before the refresh.
	events := log.snapshot()
	require.Len(t, events, 4)
	assert.Equal(t, "refresh", events[3])
}

func TestRun_TimeoutFiresWithSlowBidders(t *testing.T) {
	bidders := []Bidder{
		&fakeBidder{name: "a", delay: 400 * time.Millisecond, data: bidsFor("div-1", "A", 0.001)},
		&fakeBidder{name: "b", delay: 400 * time.Millisecond, data: bidsFor("div-1", "B", 0.002)},
		&fakeBidder{name: "c", delay: 400 * time.Millisecond, data: bidsFor("div-1", "C", 0.003)},
	}
	ads := &fakeAdServer{}
	store := adstore.New()
	c := NewCoordinator(ads, staticSource{bidders}, &report.Capture{}, nil)

	start := time.Now()
	result, err := c.Run(context.Background(), roundConfig(60*time.Millisecond), store)
	require.NoError(t, err)

	assert.Equal(t, TriggerTimeout, result.Trigger)
	assert.Less(t, time.Since(start), 300*time.Millisecond)
	assert.Equal(t, 1, ads.RefreshCalls())
	assert.Empty(t, result.Included)

	// The slow bidders still land in the store, permanently excluded.
	assert.Eventually(t, func() bool {
		return len(store.BidderRecords()) == 3
	}, time.Second, 10*time.Millisecond)
	for name, rec := range store.BidderRecords() {
		assert.False(t, rec.IncludedInAdRequest, "bidder %s must stay excluded", name)
	}
	assert.Equal(t, 1, ads.RefreshCalls(), "late settlement must not re-trigger the refresh")
}

func TestRun_MixedLateness(t *testing.T) {
	fast := &fakeBidder{name: "a", delay: 20 * time.Millisecond, data: bidsFor("div-1", "A", 0.001)}
	slow := &fakeBidder{name: "b", delay: 300 * time.Millisecond, data: bidsFor("div-1", "B", 0.009)}
	ads := &fakeAdServer{}
	store := adstore.New()
	c := NewCoordinator(ads, staticSource{[]Bidder{fast, slow}}, &report.Capture{}, nil)

	type runResult struct {
		result *Result
		err    error
	}
	resultCh := make(chan runResult, 1)
	go func() {
		r, err := c.Run(context.Background(), roundConfig(100*time.Millisecond), store)
		resultCh <- runResult{r, err}
	}()

	// Mid-round: the fast bidder has written, nothing is included yet and
	// the ad server has not been called.
	time.Sleep(60 * time.Millisecond)
	rec, ok := store.BidderRecord("a")
	require.True(t, ok)
	assert.False(t, rec.IncludedInAdRequest)
	_, ok = store.BidderRecord("b")
	assert.False(t, ok)
	assert.Equal(t, 0, ads.RefreshCalls())

	rr := <-resultCh
	require.NoError(t, rr.err)
	assert.Equal(t, TriggerTimeout, rr.result.Trigger)
	assert.Equal(t, []string{"a"}, rr.result.Included)

	rec, _ = store.BidderRecord("a")
	assert.True(t, rec.IncludedInAdRequest)

	assert.Eventually(t, func() bool {
		rec, ok := store.BidderRecord("b")
		return ok && !rec.IncludedInAdRequest
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, slow.TargetingCalls())
}

func TestRun_TerminalActionIdempotent(t *testing.T) {
	// Bidder settlement and timeout land at essentially the same instant,
	// repeatedly; the refresh must fire exactly once per round.
	for i := 0; i < 10; i++ {
		delay := 10 * time.Millisecond
		bidders := []Bidder{
			&fakeBidder{name: "a", delay: delay},
			&fakeBidder{name: "b", delay: delay},
		}
		ads := &fakeAdServer{}
		c := NewCoordinator(ads, staticSource{bidders}, &report.Capture{}, nil)

		_, err := c.Run(context.Background(), roundConfig(delay), adstore.New())
		require.NoError(t, err)
		time.Sleep(30 * time.Millisecond)
		assert.Equal(t, 1, ads.RefreshCalls(), "iteration %d", i)
	}
}

func TestRun_ZeroTimeout(t *testing.T) {
	bidders := []Bidder{&fakeBidder{name: "a"}}
	ads := &fakeAdServer{}
	c := NewCoordinator(ads, staticSource{bidders}, &report.Capture{}, nil)

	result, err := c.Run(context.Background(), roundConfig(0), adstore.New())
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, 1, ads.RefreshCalls())
}

func TestRun_DisableAds(t *testing.T) {
	b := &fakeBidder{name: "a"}
	ads := &fakeAdServer{}
	c := NewCoordinator(ads, staticSource{[]Bidder{b}}, &report.Capture{}, nil)

	cfg := roundConfig(time.Second)
	cfg.DisableAds = true
	result, err := c.Run(context.Background(), cfg, adstore.New())
	require.NoError(t, err)

	assert.Equal(t, StatusDisabled, result.Status)
	assert.Equal(t, 0, b.FetchCalls())
	assert.Equal(t, 0, ads.RefreshCalls())
	assert.Equal(t, 0, ads.defineCalls)
}

func TestRun_EmptyAdUnits(t *testing.T) {
	b := &fakeBidder{name: "a"}
	ads := &fakeAdServer{}
	c := NewCoordinator(ads, staticSource{[]Bidder{b}}, &report.Capture{}, nil)

	cfg := roundConfig(time.Second)
	cfg.AdUnits = nil
	result, err := c.Run(context.Background(), cfg, adstore.New())
	require.NoError(t, err)

	assert.Equal(t, StatusEmpty, result.Status)
	assert.Equal(t, 0, b.FetchCalls())
	assert.Equal(t, 0, ads.RefreshCalls())
}

func TestRun_ZeroBiddersSettlesImmediately(t *testing.T) {
	ads := &fakeAdServer{}
	c := NewCoordinator(ads, staticSource{nil}, &report.Capture{}, nil)

	start := time.Now()
	result, err := c.Run(context.Background(), roundConfig(2*time.Second), adstore.New())
	require.NoError(t, err)

	assert.Equal(t, TriggerSettled, result.Trigger)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, 1, ads.RefreshCalls())
}

func TestRun_BidderFailuresAreIsolated(t *testing.T) {
	reporter := &report.Capture{}
	ok := &fakeBidder{name: "ok", data: bidsFor("div-1", "OK", 0.002)}
	failing := &fakeBidder{name: "failing", err: errors.New("vendor 500")}
	panicking := &fakeBidder{name: "panicking", panics: true}
	ads := &fakeAdServer{}
	store := adstore.New()
	c := NewCoordinator(ads, staticSource{[]Bidder{ok, failing, panicking}}, reporter, nil)

	result, err := c.Run(context.Background(), roundConfig(time.Second), store)
	require.NoError(t, err)

	assert.Equal(t, TriggerSettled, result.Trigger)
	assert.Equal(t, 1, ads.RefreshCalls())
	// Failed bidders settle with no data and are still marked included
	// (their empty record was present at terminal time).
	assert.Len(t, store.BidderRecords(), 3)
	assert.Len(t, reporter.Errors(), 2)

	var failedNames []string
	for _, e := range reporter.Errors() {
		failedNames = append(failedNames, e.Error())
	}
	assert.Contains(t, fmt.Sprint(failedNames), "failing")
	assert.Contains(t, fmt.Sprint(failedNames), "panicked")
}

func TestRun_AdServerErrorsReportedNotFatal(t *testing.T) {
	reporter := &report.Capture{}
	ads := &fakeAdServer{
		refreshErr: errors.New("ad server down"),
		defineErr:  errors.New("slot setup rejected"),
	}
	b := &fakeBidder{name: "a", data: bidsFor("div-1", "A", 0.001)}
	c := NewCoordinator(ads, staticSource{[]Bidder{b}}, reporter, nil)

	result, err := c.Run(context.Background(), roundConfig(time.Second), adstore.New())
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, 1, ads.RefreshCalls())
	require.Len(t, reporter.Errors(), 2)
}

func TestLatch(t *testing.T) {
	var l Latch
	assert.False(t, l.Fired())
	assert.True(t, l.TryFire())
	assert.False(t, l.TryFire())
	assert.True(t, l.Fired())
}

func TestLatch_Concurrent(t *testing.T) {
	var l Latch
	var wins int64
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.TryFire() {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(1), wins)
}
