package endpoints

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thenexusengine/tne_adlib/internal/adstore"
	"github.com/thenexusengine/tne_adlib/internal/auction"
	"github.com/thenexusengine/tne_adlib/internal/bid"
)

type stubBidder struct {
	name string
	data *bid.ResponseData
}

func (b *stubBidder) Name() string { return b.name }

func (b *stubBidder) FetchBids(_ context.Context, _ *auction.Config) (*bid.ResponseData, error) {
	if b.data == nil {
		return bid.EmptyResponseData(), nil
	}
	return b.data, nil
}

func (b *stubBidder) SetTargeting() {}

type stubAdServer struct{}

func (s *stubAdServer) DefineSlots(context.Context, []auction.AdUnit) error { return nil }
func (s *stubAdServer) EnableServices()                                     {}
func (s *stubAdServer) SetTargetingAndRefresh(context.Context) error        { return nil }

type stubSource struct {
	bidders []auction.Bidder
}

func (s *stubSource) ListActiveBidders() []auction.Bidder { return s.bidders }

func newTestRouter(bidders ...auction.Bidder) (*httprouter.Router, *adstore.Manager) {
	coord := auction.NewCoordinator(&stubAdServer{}, &stubSource{bidders: bidders}, nil, nil)
	rounds := adstore.NewManager()
	h := NewAuctionHandler(coord, rounds, nil)

	router := httprouter.New()
	router.POST("/auction", h.HandleAuction)
	router.GET("/rounds/:id/winning-bids", h.HandleWinningBids)
	return router, rounds
}

func validAuctionBody() map[string]any {
	return map[string]any{
		"adUnits": []map[string]any{
			{"code": "slot-1", "path": "/123/top", "sizes": []string{"300x250"}},
		},
		"auctionTimeout": 500,
		"bidderTimeout":  100,
		"publisher":      map[string]any{"domain": "example.com", "pageUrl": "https://example.com/news"},
	}
}

func TestHandleAuctionCompletes(t *testing.T) {
	router, rounds := newTestRouter(&stubBidder{name: "brightpool"})

	body, _ := json.Marshal(validAuctionBody())
	req := httptest.NewRequest(http.MethodPost, "/auction", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp AuctionResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.NotEmpty(t, resp.RoundID)
	assert.Equal(t, auction.StatusCompleted, resp.Status)
	assert.Equal(t, auction.TriggerSettled, resp.Trigger)
	assert.Equal(t, []string{"brightpool"}, resp.Included)

	_, ok := rounds.Get(resp.RoundID)
	assert.True(t, ok, "round store should be retained for event recording")
}

func TestHandleAuctionHonorsCallerRoundID(t *testing.T) {
	router, rounds := newTestRouter(&stubBidder{name: "brightpool"})

	payload := validAuctionBody()
	payload["roundId"] = "round-abc"
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest(http.MethodPost, "/auction", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp AuctionResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "round-abc", resp.RoundID)
	_, ok := rounds.Get("round-abc")
	assert.True(t, ok)
}

func TestHandleAuctionRejectsMalformedJSON(t *testing.T) {
	router, _ := newTestRouter()

	req := httptest.NewRequest(http.MethodPost, "/auction", bytes.NewReader([]byte("{not json")))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleAuctionRejectsInvalidConfig(t *testing.T) {
	router, _ := newTestRouter()

	payload := validAuctionBody()
	payload["adUnits"] = []map[string]any{
		{"code": "slot-1", "path": "/123/top", "sizes": []string{"banner"}},
	}
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest(http.MethodPost, "/auction", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid config")
}

func TestHandleAuctionDisableAds(t *testing.T) {
	router, _ := newTestRouter(&stubBidder{name: "brightpool"})

	payload := validAuctionBody()
	payload["disableAds"] = true
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest(http.MethodPost, "/auction", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp AuctionResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, auction.StatusDisabled, resp.Status)
	assert.Empty(t, resp.Included)
}

func TestHandleWinningBidsUnknownRound(t *testing.T) {
	router, _ := newTestRouter()

	req := httptest.NewRequest(http.MethodGet, "/rounds/nope/winning-bids", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleWinningBids(t *testing.T) {
	router, rounds := newTestRouter()

	store := rounds.GetOrCreate("round-1")
	b, err := bid.NewBidResponse(bid.Float(0.42), "", "Acme", "300x250")
	require.NoError(t, err)
	store.RecordBidResponses("brightpool", &bid.ResponseData{
		BidResponses: map[string][]bid.BidResponse{"slot-1": {b}},
	})
	store.MarkPresentIncluded()
	store.RecordSlotRendered("slot-1", adstore.RenderEvent{
		AdID:         "ad-9",
		AdvertiserID: 77,
		AdUnitID:     "unit-1",
		Size:         "300x250",
	})

	req := httptest.NewRequest(http.MethodGet, "/rounds/round-1/winning-bids", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		RoundID     string                          `json:"roundId"`
		WinningBids map[string]*bid.DisplayedAdInfo `json:"winningBids"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "round-1", resp.RoundID)
	require.Contains(t, resp.WinningBids, "slot-1")
	won := resp.WinningBids["slot-1"]
	assert.Equal(t, "ad-9", won.AdID)
	assert.Equal(t, "77", won.AdServerAdvertiserID)
	require.NotNil(t, won.Revenue)
	assert.InDelta(t, 0.42, *won.Revenue, 1e-9)
}
