package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/deenoize/crypto-p2p-ai/internal/adapter"
	"github.com/deenoize/crypto-p2p-ai/internal/logger"
	"github.com/deenoize/crypto-p2p-ai/internal/poller"
	"github.com/deenoize/crypto-p2p-ai/internal/publish"
)

var usdtUSD = adapter.PairSpec{Asset: "USDT", Fiat: "USD"}

type fixture struct {
	source chan poller.Result
	pairs  chan adapter.PairSpec
	srv    *Server
	http   *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	source := make(chan poller.Result, 16)
	pairs := make(chan adapter.PairSpec, 1)
	bc := publish.NewBroadcaster(source, logger.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go bc.Run(ctx)

	srv := New(bc, pairs, logger.Nop())
	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(hs.Close)

	return &fixture{source: source, pairs: pairs, srv: srv, http: hs}
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func TestServer_Health(t *testing.T) {
	f := newFixture(t)
	code, body := get(t, f.http.URL+"/health")
	if code != http.StatusOK || body != "ok" {
		t.Fatalf("expected 200 ok, got %d %q", code, body)
	}
}

func TestServer_SnapshotBeforeAndAfterFirstCycle(t *testing.T) {
	f := newFixture(t)

	if code, _ := get(t, f.http.URL+"/snapshot"); code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 before the first cycle, got %d", code)
	}

	f.srv.store(poller.Result{CycleID: "c1", Pair: usdtUSD, SpotResolved: true})

	code, body := get(t, f.http.URL+"/snapshot")
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	var got struct {
		CycleID      string `json:"cycleId"`
		SpotResolved bool   `json:"spotResolved"`
	}
	if err := json.Unmarshal([]byte(body), &got); err != nil {
		t.Fatalf("decoding snapshot: %v", err)
	}
	if got.CycleID != "c1" || !got.SpotResolved {
		t.Fatalf("unexpected snapshot %+v", got)
	}

	if code, _ := get(t, f.http.URL+"/snapshot?pair=usdt-usd"); code != http.StatusOK {
		t.Fatalf("pair lookup should be case-insensitive, got %d", code)
	}
	if code, _ := get(t, f.http.URL+"/snapshot?pair=BTC-NGN"); code != http.StatusServiceUnavailable {
		t.Fatalf("unknown pair should be 503, got %d", code)
	}
}

func TestServer_Track(t *testing.T) {
	f := newFixture(t)
	feed := make(chan poller.Result, 1)
	feed <- poller.Result{CycleID: "tracked", Pair: usdtUSD}
	close(feed)

	f.srv.Track(context.Background(), feed)

	code, body := get(t, f.http.URL+"/snapshot")
	if code != http.StatusOK || !strings.Contains(body, `"tracked"`) {
		t.Fatalf("expected tracked snapshot, got %d %s", code, body)
	}
}

func TestServer_PairSwitch(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Post(f.http.URL+"/pair", "application/json",
		strings.NewReader(`{"asset":"btc","fiat":" ngn ","paymentMethods":["BANK"]}`))
	if err != nil {
		t.Fatalf("POST /pair: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}

	select {
	case p := <-f.pairs:
		if p.Key() != "BTC-NGN" || len(p.PaymentMethods) != 1 {
			t.Fatalf("unexpected pair %+v", p)
		}
	default:
		t.Fatal("pair was not forwarded")
	}

	resp, err = http.Post(f.http.URL+"/pair", "application/json", strings.NewReader(`{"asset":"btc"}`))
	if err != nil {
		t.Fatalf("POST /pair: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing fiat should be 400, got %d", resp.StatusCode)
	}
}

func TestServer_PairSwitchHidesDeselectedPair(t *testing.T) {
	f := newFixture(t)
	f.srv.store(poller.Result{CycleID: "old", Pair: usdtUSD})

	resp, err := http.Post(f.http.URL+"/pair", "application/json", strings.NewReader(`{"asset":"BTC","fiat":"EUR"}`))
	if err != nil {
		t.Fatalf("POST /pair: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	<-f.pairs

	if code, body := get(t, f.http.URL+"/snapshot"); code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 until the new pair's first cycle, got %d %s", code, body)
	}
	if code, _ := get(t, f.http.URL+"/snapshot?pair=USDT-USD"); code != http.StatusServiceUnavailable {
		t.Fatalf("deselected pair must not be served, got %d", code)
	}

	// A late cycle of the old pair is not shown either.
	f.srv.store(poller.Result{CycleID: "late", Pair: usdtUSD})
	if code, _ := get(t, f.http.URL+"/snapshot"); code != http.StatusServiceUnavailable {
		t.Fatalf("late result for the old pair must be ignored, got %d", code)
	}

	f.srv.store(poller.Result{CycleID: "new", Pair: adapter.PairSpec{Asset: "BTC", Fiat: "EUR"}})
	code, body := get(t, f.http.URL+"/snapshot")
	if code != http.StatusOK || !strings.Contains(body, `"new"`) {
		t.Fatalf("expected the new pair's snapshot, got %d %s", code, body)
	}
}

func TestServer_WebsocketStream(t *testing.T) {
	f := newFixture(t)

	url := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/ws?pair=USDT-USD"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// The subscription is registered just after the handshake, so keep
	// publishing until the client sees a result.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		tick := time.NewTicker(20 * time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-stop:
				return
			case <-tick.C:
				f.source <- poller.Result{CycleID: "other", Pair: adapter.PairSpec{Asset: "BTC", Fiat: "NGN"}}
				f.source <- poller.Result{CycleID: "streamed", Pair: usdtUSD}
			}
		}
	}()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got struct {
		CycleID string `json:"cycleId"`
	}
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.CycleID != "streamed" {
		t.Fatalf("filtered stream should only carry USDT-USD, got %q", got.CycleID)
	}
}
