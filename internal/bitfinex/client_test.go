package bitfinex

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type sleepRecorder struct {
	mu     sync.Mutex
	sleeps []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sleeps = append(s.sleeps, d)
	return nil
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *sleepRecorder) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := New(Options{
		BaseURL:    server.URL,
		APIKey:     "key",
		APISecret:  "secret",
		HTTPClient: server.Client(),
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	rec := &sleepRecorder{}
	client.sleep = rec.sleep
	return client, rec
}

func decodePayload(t *testing.T, r *http.Request) map[string]any {
	t.Helper()
	raw, err := base64.StdEncoding.DecodeString(r.Header.Get(headerPayload))
	if err != nil {
		t.Errorf("payload not base64: %v", err)
		return nil
	}
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		t.Errorf("payload not json: %v", err)
		return nil
	}
	return body
}

func TestAuthRequestSigned(t *testing.T) {
	var gotBody map[string]any
	var sigOK bool
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		payload := r.Header.Get(headerPayload)
		mac := hmac.New(sha512.New384, []byte("secret"))
		mac.Write([]byte(payload))
		sigOK = hex.EncodeToString(mac.Sum(nil)) == r.Header.Get(headerSignature) && r.Header.Get(headerAPIKey) == "key"
		gotBody = decodePayload(t, r)
		_, _ = w.Write([]byte(`{"id":1,"symbol":"etcusd","price":"10.1","avg_execution_price":"0.0","side":"sell","type":"exchange limit","timestamp":"1444272165.25","is_live":true,"is_cancelled":false,"original_amount":"1.0","remaining_amount":"1.0","executed_amount":"0.0"}`))
	})
	if _, err := client.OrderStatus(context.Background(), 1); err != nil {
		t.Fatalf("order status: %v", err)
	}
	if !sigOK {
		t.Fatalf("signature or api key header mismatch")
	}
	if gotBody["request"] != "/v1/order/status" {
		t.Fatalf("expected request path in payload, got %v", gotBody["request"])
	}
	if _, ok := gotBody["nonce"].(string); !ok {
		t.Fatalf("expected string nonce, got %T", gotBody["nonce"])
	}
	if gotBody["order_id"] != float64(1) {
		t.Fatalf("expected order_id 1, got %v", gotBody["order_id"])
	}
}

func TestNonceStrictlyIncreasing(t *testing.T) {
	signer, err := NewSigner("k", "s")
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	fixed := time.UnixMilli(1_700_000_000_000)
	signer.now = func() time.Time { return fixed }
	prev := uint64(0)
	for i := 0; i < 5; i++ {
		n := signer.nextNonce()
		if n <= prev {
			t.Fatalf("nonce not increasing: %d after %d", n, prev)
		}
		prev = n
	}
	signer.Seed(prev + 100)
	if n := signer.nextNonce(); n != prev+101 {
		t.Fatalf("expected seeded nonce %d, got %d", prev+101, n)
	}
}

func TestRetrySafeCallRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	client, rec := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`[{"type":"exchange","currency":"usd","amount":"100.5","available":"90"},{"type":"deposit","currency":"usd","amount":"50","available":"50"}]`))
	})
	balances, err := client.Balances(context.Background())
	if err != nil {
		t.Fatalf("balances: %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 calls, got %d", calls.Load())
	}
	if len(rec.sleeps) != 2 || rec.sleeps[0] != time.Second || rec.sleeps[1] != 2*time.Second {
		t.Fatalf("expected exponential backoff [1s 2s], got %v", rec.sleeps)
	}
	if len(balances) != 2 || balances[1].Wallet != WalletFunding {
		t.Fatalf("expected deposit wallet normalized to funding, got %+v", balances)
	}
	if !balances[0].Amount.Equal(decimal.RequireFromString("100.5")) {
		t.Fatalf("unexpected amount %s", balances[0].Amount)
	}
}

func TestRetriesExhaustedSurfacesAPIError(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"message":"maintenance"}`))
	})
	_, err := client.ActiveOrders(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Status != http.StatusServiceUnavailable || apiErr.Message != "maintenance" {
		t.Fatalf("unexpected api error %+v", apiErr)
	}
	if calls.Load() != 5 {
		t.Fatalf("expected 5 attempts, got %d", calls.Load())
	}
}

func TestPlacementNotRetriedOnConnectionError(t *testing.T) {
	var calls atomic.Int32
	client, rec := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		hj, ok := w.(http.Hijacker)
		if !ok {
			t.Errorf("hijack unsupported")
			return
		}
		conn, _, err := hj.Hijack()
		if err != nil {
			t.Errorf("hijack: %v", err)
			return
		}
		_ = conn.Close()
	})
	_, err := client.PlaceLimitOrder(context.Background(), "ETCUSD", decimal.NewFromInt(1), decimal.RequireFromString("9.9"), SideBuy)
	if !errors.Is(err, ErrConnection) {
		t.Fatalf("expected connection error, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected exactly one placement attempt, got %d", calls.Load())
	}
	if len(rec.sleeps) != 0 {
		t.Fatalf("expected no backoff sleeps, got %v", rec.sleeps)
	}
}

func TestPlacementNotRetriedOnServerError(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	})
	_, err := client.PlaceMarketOrder(context.Background(), "ETCUSD", decimal.NewFromInt(1), SideBuy)
	if err == nil {
		t.Fatalf("expected error")
	}
	if calls.Load() != 1 {
		t.Fatalf("expected one attempt, got %d", calls.Load())
	}
}

func TestRateLimitRetriedForPlacement(t *testing.T) {
	var calls atomic.Int32
	var gotBody map[string]any
	client, rec := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"message":"Ratelimit"}`))
			return
		}
		gotBody = decodePayload(t, r)
		_, _ = w.Write([]byte(`{"id":7,"symbol":"etcusd","price":"0.001","avg_execution_price":"0.0","side":"buy","type":"exchange market","timestamp":"1444272165","is_live":true,"is_cancelled":false,"original_amount":"1","remaining_amount":"1","executed_amount":"0"}`))
	})
	order, err := client.PlaceMarketOrder(context.Background(), "ETCUSD", decimal.NewFromInt(1), SideBuy)
	if err != nil {
		t.Fatalf("place market: %v", err)
	}
	if len(rec.sleeps) != 1 || rec.sleeps[0] != 20*time.Second {
		t.Fatalf("expected one 20s cool-down, got %v", rec.sleeps)
	}
	if gotBody["price"] != "0.001" || gotBody["type"] != "exchange market" || gotBody["symbol"] != "etcusd" {
		t.Fatalf("unexpected market order payload %v", gotBody)
	}
	if order.Price.Valid {
		t.Fatalf("market order must not carry a limit price")
	}
	if order.ID != 7 || order.Symbol != "ETCUSD" {
		t.Fatalf("unexpected order %+v", order)
	}
}

func TestRateLimitRecognizedBy429(t *testing.T) {
	err := error(newAPIError(http.StatusTooManyRequests, []byte("slow down")))
	if !IsRateLimit(err) {
		t.Fatalf("expected 429 to be a rate limit")
	}
	if IsRateLimit(errors.New("Ratelimit")) {
		t.Fatalf("plain errors are not API errors")
	}
}

func TestErrorClassification(t *testing.T) {
	cases := []struct {
		body string
		pred func(error) bool
	}{
		{`{"message":"No such order found."}`, IsOrderNotFound},
		{`{"message":"Order could not be cancelled."}`, IsNotCancellable},
		{`{"message":"Invalid order: not enough exchange balance for 1.0 ETCUSD at 10.1"}`, IsInsufficientBalance},
		{`{"error":"ERR_RATE_LIMIT"}`, IsRateLimit},
	}
	for _, tc := range cases {
		err := newAPIError(http.StatusBadRequest, []byte(tc.body))
		if !tc.pred(err) {
			t.Fatalf("expected %s to match", tc.body)
		}
	}
}

func TestOrderDecoding(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"id":11,"symbol":"etcusd","price":"9.9","avg_execution_price":"9.9","side":"buy","type":"exchange limit","timestamp":"1444272165.5","is_live":false,"is_cancelled":false,"original_amount":"1.0","remaining_amount":"0.0","executed_amount":"1.0"}]`))
	})
	orders, err := client.ActiveOrders(context.Background())
	if err != nil {
		t.Fatalf("orders: %v", err)
	}
	if len(orders) != 1 {
		t.Fatalf("expected 1 order, got %d", len(orders))
	}
	o := orders[0]
	if !o.Executed() || o.Cancelled() {
		t.Fatalf("expected executed order, got %+v", o)
	}
	price, ok := o.ExecutionPrice()
	if !ok || !price.Equal(decimal.RequireFromString("9.9")) {
		t.Fatalf("unexpected execution price %s (ok=%v)", price, ok)
	}
	if !o.Price.Valid || !o.Price.Decimal.Equal(decimal.RequireFromString("9.9")) {
		t.Fatalf("unexpected limit price %+v", o.Price)
	}
	if o.Timestamp.Unix() != 1444272165 || o.Timestamp.Nanosecond() != 500_000_000 {
		t.Fatalf("unexpected timestamp %v", o.Timestamp)
	}
}

func TestUnfilledOrderHasNoExecutionPrice(t *testing.T) {
	o := orderWire{Type: "exchange limit", Price: decimal.NewFromInt(10), IsLive: true}.toOrder()
	if _, ok := o.ExecutionPrice(); ok {
		t.Fatalf("unfilled order must not report an execution price")
	}
}

func TestTransferUsesDepositWalletName(t *testing.T) {
	var gotBody map[string]any
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotBody = decodePayload(t, r)
		_, _ = w.Write([]byte(`[{"status":"success","message":"1.0 USD transfered from Deposit to Exchange"}]`))
	})
	if err := client.Transfer(context.Background(), "usd", decimal.NewFromInt(1), WalletFunding, WalletExchange); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if gotBody["walletfrom"] != "deposit" || gotBody["walletto"] != "exchange" || gotBody["currency"] != "USD" {
		t.Fatalf("unexpected transfer payload %v", gotBody)
	}
}

func TestNewOfferAnnualizesRate(t *testing.T) {
	var gotBody map[string]any
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotBody = decodePayload(t, r)
		_, _ = w.Write([]byte(`{"id":5,"currency":"USD","rate":"36.5","period":2,"direction":"lend","is_live":true,"original_amount":"60","remaining_amount":"60","executed_amount":"0"}`))
	})
	offer, err := client.NewOffer(context.Background(), "USD", decimal.NewFromInt(60), decimal.RequireFromString("0.1"), 2)
	if err != nil {
		t.Fatalf("new offer: %v", err)
	}
	if gotBody["rate"] != "36.5" || gotBody["period"] != float64(2) {
		t.Fatalf("unexpected offer payload %v", gotBody)
	}
	if offer.ID != 5 || !offer.IsLive {
		t.Fatalf("unexpected offer %+v", offer)
	}
}

func TestTickerPublic(t *testing.T) {
	var gotPath string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(`{"mid":"10.005","bid":"10","ask":"10.01","last_price":"10.00","volume":"1","timestamp":"1444253422.3"}`))
	})
	ticker, err := client.Ticker(context.Background(), "ETCUSD")
	if err != nil {
		t.Fatalf("ticker: %v", err)
	}
	if gotPath != "/v1/pubticker/etcusd" {
		t.Fatalf("unexpected path %s", gotPath)
	}
	if !ticker.LastPrice.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("unexpected last price %s", ticker.LastPrice)
	}
}

type memNonceStore struct {
	mu   sync.Mutex
	data map[string]string
}

func (m *memNonceStore) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memNonceStore) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func TestNonceStoreSeedsAndPersists(t *testing.T) {
	var nonces []string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		nonces = append(nonces, decodePayload(t, r)["nonce"].(string))
		_, _ = w.Write([]byte(`[]`))
	})
	future := uint64(time.Now().Add(time.Hour).UnixMilli())
	store := &memNonceStore{data: map[string]string{}}
	key := "nonce:" + client.baseURL + ":key"
	store.data[key] = decimal.NewFromInt(int64(future)).String()
	if err := client.InitNonceStore(context.Background(), store); err != nil {
		t.Fatalf("init nonce store: %v", err)
	}
	if _, err := client.Balances(context.Background()); err != nil {
		t.Fatalf("balances: %v", err)
	}
	want := decimal.NewFromInt(int64(future + 1)).String()
	if len(nonces) != 1 || nonces[0] != want {
		t.Fatalf("expected nonce %s, got %v", want, nonces)
	}
	if store.data[key] != want {
		t.Fatalf("expected persisted nonce %s, got %s", want, store.data[key])
	}
}
