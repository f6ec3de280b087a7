package exchange

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/suwandre/arbwatch/internal/failover"
	"github.com/suwandre/arbwatch/internal/retry"
)

func testOptions(endpoints ...string) Options {
	return Options{
		Endpoints: endpoints,
		Retry:     retry.NewPolicy(2, 0),
		BatchSize: 5,
	}
}

// binanceStub serves depth and 24h ticker responses. Books are deliberately
// unsorted to check the adapter sorts them itself.
func binanceStub(t *testing.T, fail map[string]int) (*httptest.Server, *sync.Map) {
	t.Helper()
	hits := &sync.Map{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sym := r.URL.Query().Get("symbol")
		n, _ := hits.LoadOrStore(r.URL.Path+":"+sym, new(atomic.Int32))
		n.(*atomic.Int32).Add(1)

		if code, ok := fail[sym]; ok {
			w.WriteHeader(code)
			fmt.Fprint(w, `{"code":-1000,"msg":"internal"}`)
			return
		}

		switch r.URL.Path {
		case "/api/v3/ping":
			fmt.Fprint(w, `{}`)
		case "/api/v3/depth":
			if sym == "NOPEUSDT" {
				w.WriteHeader(http.StatusBadRequest)
				fmt.Fprint(w, `{"code":-1121,"msg":"Invalid symbol."}`)
				return
			}
			fmt.Fprint(w, `{"lastUpdateId":1,"bids":[["99.0","1"],["100.0","2"]],"asks":[["102.0","1"],["101.0","3"]]}`)
		case "/api/v3/ticker/24hr":
			fmt.Fprint(w, `{"symbol":"`+sym+`","volume":"1234.5"}`)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, hits
}

func hitCount(hits *sync.Map, key string) int32 {
	n, ok := hits.Load(key)
	if !ok {
		return 0
	}
	return n.(*atomic.Int32).Load()
}

func TestBinanceFetchOrderBook(t *testing.T) {
	srv, _ := binanceStub(t, nil)
	b, err := NewBinanceAdapter(testOptions(srv.URL))
	if err != nil {
		t.Fatal(err)
	}

	snap, err := b.FetchOrderBook(context.Background(), "btc")
	if err != nil {
		t.Fatal(err)
	}
	if snap.Exchange != "binance" || snap.Symbol != "btc" {
		t.Fatalf("unexpected identity %s/%s", snap.Exchange, snap.Symbol)
	}
	if snap.Bids[0].Price != 100 || snap.Asks[0].Price != 101 {
		t.Fatalf("book not sorted: bids=%v asks=%v", snap.Bids, snap.Asks)
	}
	if snap.Volume24h == nil || *snap.Volume24h != 1234.5 {
		t.Fatalf("expected volume 1234.5, got %v", snap.Volume24h)
	}

	st := b.Status()
	if !st.IsConnected || st.CurrentEndpoint != srv.URL || st.ErrorCount != 0 {
		t.Fatalf("unexpected status %+v", st)
	}
}

func TestBinanceUnknownSymbolFailsClosed(t *testing.T) {
	srv, hits := binanceStub(t, nil)
	b, err := NewBinanceAdapter(testOptions(srv.URL))
	if err != nil {
		t.Fatal(err)
	}

	_, err = b.FetchOrderBook(context.Background(), "NOPE")
	if !errors.Is(err, ErrNoMarketPair) {
		t.Fatalf("expected ErrNoMarketPair, got %v", err)
	}
	if n := hitCount(hits, "/api/v3/depth:NOPEUSDT"); n != 1 {
		t.Fatalf("missing pair should not be retried, got %d calls", n)
	}
}

func TestFailoverToBackupEndpoint(t *testing.T) {
	var blockedHits atomic.Int32
	blocked := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		blockedHits.Add(1)
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, "Forbidden")
	}))
	t.Cleanup(blocked.Close)
	backup, _ := binanceStub(t, nil)

	b, err := NewBinanceAdapter(testOptions(blocked.URL, backup.URL))
	if err != nil {
		t.Fatal(err)
	}

	snap, err := b.FetchOrderBook(context.Background(), "BTC")
	if err != nil {
		t.Fatalf("expected backup to serve the book, got %v", err)
	}
	if snap.Bids[0].Price != 100 {
		t.Fatalf("unexpected book %+v", snap)
	}
	if got := b.Status().CurrentEndpoint; got != backup.URL {
		t.Fatalf("status endpoint = %s, want %s", got, backup.URL)
	}
	if blockedHits.Load() != 1 {
		t.Fatalf("blocked endpoint hit %d times, want 1", blockedHits.Load())
	}
}

func TestAllEndpointsBlocked(t *testing.T) {
	var hitsA, hitsB atomic.Int32
	mk := func(counter *atomic.Int32) *httptest.Server {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/api/v3/depth" {
				counter.Add(1)
			}
			w.WriteHeader(http.StatusForbidden)
		}))
		t.Cleanup(srv.Close)
		return srv
	}
	a, bb := mk(&hitsA), mk(&hitsB)

	b, err := NewBinanceAdapter(testOptions(a.URL, bb.URL))
	if err != nil {
		t.Fatal(err)
	}

	_, err = b.FetchOrderBook(context.Background(), "BTC")
	if !errors.Is(err, failover.ErrAllEndpointsBlocked) {
		t.Fatalf("expected ErrAllEndpointsBlocked, got %v", err)
	}
	if hitsA.Load() != 1 || hitsB.Load() != 1 {
		t.Fatalf("each endpoint should be tried once, got a=%d b=%d", hitsA.Load(), hitsB.Load())
	}

	st := b.Status()
	if st.IsConnected || st.ErrorCount != 1 || st.LastError == "" {
		t.Fatalf("unexpected status after exhaustion %+v", st)
	}
}

func TestFetchBatchIsolatesFailures(t *testing.T) {
	srv, _ := binanceStub(t, map[string]int{"ETHUSDT": http.StatusInternalServerError})
	b, err := NewBinanceAdapter(testOptions(srv.URL))
	if err != nil {
		t.Fatal(err)
	}

	res := b.FetchBatch(context.Background(), []string{"BTC", "ETH", "SOL", "XRP", "ADA"})
	if len(res.Books) != 4 {
		t.Fatalf("expected 4 books, got %d (failed: %v)", len(res.Books), res.Failed)
	}
	if _, ok := res.Failed["ETH"]; !ok || len(res.Failed) != 1 {
		t.Fatalf("expected only ETH to fail, got %v", res.Failed)
	}
	if _, ok := res.Books["ETH"]; ok {
		t.Fatal("failed symbol must not have a book")
	}
}

func TestFetchBatchGroupsSymbols(t *testing.T) {
	var inFlight, peak atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v3/depth" {
			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			defer inFlight.Add(-1)
		}
		fmt.Fprint(w, `{"bids":[["1","1"]],"asks":[["2","1"]],"volume":"1"}`)
	}))
	t.Cleanup(srv.Close)

	opts := testOptions(srv.URL)
	opts.BatchSize = 2
	b, err := NewBinanceAdapter(opts)
	if err != nil {
		t.Fatal(err)
	}

	res := b.FetchBatch(context.Background(), []string{"A", "B", "C", "D", "E"})
	if len(res.Books) != 5 {
		t.Fatalf("expected 5 books, got %d", len(res.Books))
	}
	if peak.Load() > 2 {
		t.Fatalf("more than BatchSize requests in flight: %d", peak.Load())
	}
}

func TestFetchBatchPausesBetweenGroups(t *testing.T) {
	srv, _ := binanceStub(t, nil)
	opts := testOptions(srv.URL)
	opts.BatchSize = 2
	opts.BatchDelay = 100 * time.Millisecond
	b, err := NewBinanceAdapter(opts)
	if err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	res := b.FetchBatch(context.Background(), []string{"A", "B", "C", "D", "E"})
	elapsed := time.Since(start)

	if len(res.Books) != 5 {
		t.Fatalf("expected 5 books, got %d (failed: %v)", len(res.Books), res.Failed)
	}
	// Three groups, two pauses.
	if elapsed < 200*time.Millisecond {
		t.Fatalf("batch finished in %s, expected at least two 100ms pauses", elapsed)
	}
}

func TestFetchBatchCancelledDuringPause(t *testing.T) {
	srv, _ := binanceStub(t, nil)
	opts := testOptions(srv.URL)
	opts.BatchSize = 2
	opts.BatchDelay = time.Hour
	b, err := NewBinanceAdapter(opts)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	res := b.FetchBatch(ctx, []string{"A", "B", "C", "D", "E"})
	if len(res.Books) != 2 {
		t.Fatalf("expected the first group only, got %d books", len(res.Books))
	}
	if len(res.Failed) != 3 {
		t.Fatalf("expected 3 failed symbols, got %v", res.Failed)
	}
	for _, sym := range []string{"C", "D", "E"} {
		if !errors.Is(res.Failed[sym], context.Canceled) {
			t.Fatalf("%s: expected context.Canceled, got %v", sym, res.Failed[sym])
		}
	}
}

func TestMexcFetchOrderBook(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-MEXC-APIKEY"); got != "key" {
			t.Errorf("api key header = %q", got)
		}
		sym := r.URL.Query().Get("symbol")
		if sym == "NOPEUSDT" {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"code":-1121,"msg":"Invalid symbol."}`)
			return
		}
		switch r.URL.Path {
		case "/api/v3/depth":
			if r.URL.Query().Get("limit") != "20" {
				t.Errorf("limit = %q", r.URL.Query().Get("limit"))
			}
			fmt.Fprint(w, `{"lastUpdateId":7,"bids":[["0.081","500"],["0.0812","100"]],"asks":[["0.0816","50"],["0.0814","80"]]}`)
		case "/api/v3/ticker/24hr":
			fmt.Fprint(w, `{"symbol":"DOGEUSDT","volume":"98765.4"}`)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	opts := testOptions(srv.URL)
	opts.APIKey = "key"
	m, err := NewMexcAdapter(opts)
	if err != nil {
		t.Fatal(err)
	}

	snap, err := m.FetchOrderBook(context.Background(), "doge")
	if err != nil {
		t.Fatal(err)
	}
	if snap.Exchange != "mexc" || snap.Symbol != "doge" {
		t.Fatalf("unexpected identity %s/%s", snap.Exchange, snap.Symbol)
	}
	if snap.Bids[0].Price != 0.0812 || snap.Asks[0].Price != 0.0814 {
		t.Fatalf("book not sorted: bids %+v asks %+v", snap.Bids, snap.Asks)
	}
	if snap.Volume24h == nil || *snap.Volume24h != 98765.4 {
		t.Fatalf("unexpected volume %v", snap.Volume24h)
	}

	if _, err := m.FetchOrderBook(context.Background(), "NOPE"); !errors.Is(err, ErrNoMarketPair) {
		t.Fatalf("expected ErrNoMarketPair, got %v", err)
	}
}

func TestTestConnection(t *testing.T) {
	srv, _ := binanceStub(t, nil)
	b, err := NewBinanceAdapter(testOptions(srv.URL))
	if err != nil {
		t.Fatal(err)
	}
	if !b.TestConnection(context.Background()) {
		t.Fatal("expected connection test to pass")
	}

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(down.Close)
	d, err := NewBinanceAdapter(testOptions(down.URL))
	if err != nil {
		t.Fatal(err)
	}
	if d.TestConnection(context.Background()) {
		t.Fatal("expected connection test to fail")
	}
	if d.Status().IsConnected {
		t.Fatal("failed connection test should mark adapter disconnected")
	}
}

func TestBybitFetchOrderBook(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("category") != "spot" {
			t.Errorf("expected spot category, got %q", r.URL.Query().Get("category"))
		}
		sym := r.URL.Query().Get("symbol")
		if sym == "NOPEUSDT" {
			fmt.Fprint(w, `{"retCode":10001,"retMsg":"params error: symbol invalid","result":{}}`)
			return
		}
		switch r.URL.Path {
		case "/v5/market/orderbook":
			fmt.Fprint(w, `{"retCode":0,"retMsg":"OK","result":{"s":"BTCUSDT","b":[["100","1"],["100.5","1"]],"a":[["101.5","1"],["101","1"]]}}`)
		case "/v5/market/tickers":
			fmt.Fprint(w, `{"retCode":0,"retMsg":"OK","result":{"list":[{"symbol":"BTCUSDT","volume24h":"42"}]}}`)
		}
	}))
	t.Cleanup(srv.Close)

	b, err := NewBybitAdapter(testOptions(srv.URL))
	if err != nil {
		t.Fatal(err)
	}

	snap, err := b.FetchOrderBook(context.Background(), "BTC")
	if err != nil {
		t.Fatal(err)
	}
	if snap.Bids[0].Price != 100.5 || snap.Asks[0].Price != 101 {
		t.Fatalf("book not sorted: %+v", snap)
	}
	if snap.Volume24h == nil || *snap.Volume24h != 42 {
		t.Fatalf("unexpected volume %v", snap.Volume24h)
	}

	if _, err := b.FetchOrderBook(context.Background(), "NOPE"); !errors.Is(err, ErrNoMarketPair) {
		t.Fatalf("expected ErrNoMarketPair, got %v", err)
	}
}

func krakenStub(t *testing.T, pairs string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/0/public/AssetPairs":
			fmt.Fprint(w, `{"error":[],"result":`+pairs+`}`)
		case "/0/public/Depth":
			pair := r.URL.Query().Get("pair")
			fmt.Fprintf(w, `{"error":[],"result":{"X%s":{"asks":[["101.0","2.0",1700000000],["100.8","1.0",1700000000]],"bids":[["100.1","1.0",1700000000],["100.4","3.0",1700000000]]}}}`, pair)
		case "/0/public/Ticker":
			fmt.Fprint(w, `{"error":[],"result":{"XXBTZUSD":{"v":["10.0","77.7"]}}}`)
		case "/0/public/SystemStatus":
			fmt.Fprint(w, `{"error":[],"result":{"status":"online"}}`)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestKrakenTranslatesSymbols(t *testing.T) {
	srv := krakenStub(t, `{
		"XXBTZUSD":{"altname":"XBTUSD","wsname":"XBT/USD"},
		"XBTUSDT":{"altname":"XBTUSDT","wsname":"XBT/USDT"},
		"XETHZEUR":{"altname":"ETHEUR","wsname":"ETH/EUR"}
	}`)

	k, err := NewKrakenAdapter(testOptions(srv.URL))
	if err != nil {
		t.Fatal(err)
	}

	pair, err := k.resolvePair(context.Background(), "BTC")
	if err != nil || pair != "XBTUSDT" {
		t.Fatalf("BTC should map to XBTUSDT, got %q %v", pair, err)
	}

	// ETH only trades against EUR: never substitute it for USDT.
	if _, err := k.resolvePair(context.Background(), "ETH"); !errors.Is(err, ErrNoMarketPair) {
		t.Fatalf("expected ErrNoMarketPair for ETH, got %v", err)
	}

	snap, err := k.FetchOrderBook(context.Background(), "BTC")
	if err != nil {
		t.Fatal(err)
	}
	if snap.Bids[0].Price != 100.4 || snap.Asks[0].Price != 100.8 {
		t.Fatalf("kraken book not sorted: %+v", snap)
	}
	if snap.Volume24h == nil || *snap.Volume24h != 77.7 {
		t.Fatalf("unexpected volume %v", snap.Volume24h)
	}
	if !k.TestConnection(context.Background()) {
		t.Fatal("expected kraken connection test to pass")
	}
}

func TestKrakenQuoteFallback(t *testing.T) {
	srv := krakenStub(t, `{"XXBTZUSD":{"altname":"XBTUSD","wsname":"XBT/USD"}}`)

	opts := testOptions(srv.URL)
	k, err := NewKrakenAdapter(opts)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := k.resolvePair(context.Background(), "BTC"); !errors.Is(err, ErrNoMarketPair) {
		t.Fatalf("without fallbacks USD must not stand in for USDT, got %v", err)
	}

	opts.QuoteFallbacks = []string{"USD"}
	k, err = NewKrakenAdapter(opts)
	if err != nil {
		t.Fatal(err)
	}
	pair, err := k.resolvePair(context.Background(), "BTC")
	if err != nil || pair != "XBTUSD" {
		t.Fatalf("expected explicit USD fallback, got %q %v", pair, err)
	}
}

func TestNewRegistry(t *testing.T) {
	for _, name := range Names() {
		ex, err := New(name, Options{})
		if err != nil {
			t.Fatalf("New(%s): %v", name, err)
		}
		if ex.Name() != name {
			t.Fatalf("adapter name %s, want %s", ex.Name(), name)
		}
		if !strings.HasPrefix(ex.Status().CurrentEndpoint, "https://") {
			t.Fatalf("%s default endpoint %q", name, ex.Status().CurrentEndpoint)
		}
	}
	if _, err := New("nope", Options{}); err == nil {
		t.Fatal("expected error for unknown exchange")
	}
}
