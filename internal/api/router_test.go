package api_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thanhnp/supplychain-ledger/internal/api"
	"github.com/thanhnp/supplychain-ledger/internal/ledger"
	"github.com/thanhnp/supplychain-ledger/internal/metrics"
	"github.com/thanhnp/supplychain-ledger/internal/models"
)

type chainResponse struct {
	Chain  []models.Block `json:"chain"`
	Length int            `json:"length"`
}

// gatedStore accepts genesis, then holds every later append until released
type gatedStore struct {
	entered chan struct{}
	release chan struct{}
}

func (s *gatedStore) Append(b *models.Block) error {
	if b.Index == 1 {
		return nil
	}
	s.entered <- struct{}{}
	<-s.release
	return nil
}

func (s *gatedStore) Blocks() ([]*models.Block, error) {
	return nil, nil
}

func newTestServer(t *testing.T, opts ...ledger.Option) (*api.Router, *ledger.Ledger) {
	t.Helper()

	registry := prometheus.NewRegistry()
	m, err := metrics.New(registry)
	require.NoError(t, err)

	l, err := ledger.New(append([]ledger.Option{ledger.WithObserver(m)}, opts...)...)
	require.NoError(t, err)

	r := api.NewRouter(l, api.Options{
		CORSOrigin:   "*",
		DefaultProof: 12345,
		Gatherer:     registry,
	})
	return r, l
}

func do(t *testing.T, r *api.Router, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.Engine().ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	r, _ := newTestServer(t)

	w := do(t, r, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	w = do(t, r, http.MethodOptions, "/api/v1/chain", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestRecordAndSealFlow(t *testing.T) {
	r, l := newTestServer(t)

	w := do(t, r, http.MethodPost, "/api/v1/transactions",
		`{"sender":"Acme","recipient":"Network","product_id":1,"action":"Created"}`)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	var recorded struct {
		BlockIndex int64 `json:"block_index"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &recorded))
	assert.Equal(t, int64(2), recorded.BlockIndex)

	w = do(t, r, http.MethodGet, "/api/v1/transactions/pending", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":1`)

	w = do(t, r, http.MethodPost, "/api/v1/blocks", "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var sealed models.Block
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sealed))
	assert.Equal(t, int64(2), sealed.Index)
	assert.Equal(t, int64(12345), sealed.Proof)
	require.Len(t, sealed.Transactions, 1)
	assert.Equal(t, "Created", sealed.Transactions[0].Action)

	w = do(t, r, http.MethodPost, "/api/v1/blocks", `{"proof":7}`)
	require.Equal(t, http.StatusCreated, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sealed))
	assert.Equal(t, int64(7), sealed.Proof)
	assert.Empty(t, sealed.Transactions)

	w = do(t, r, http.MethodGet, "/api/v1/chain", "")
	require.Equal(t, http.StatusOK, w.Code)
	var chain chainResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &chain))
	assert.Equal(t, 3, chain.Length)
	require.Len(t, chain.Chain, 3)
	assert.Equal(t, ledger.GenesisSentinel, chain.Chain[0].PreviousHash)
	assert.Equal(t, l.Length(), chain.Length)
}

func TestSealWithChunkedEmptyBody(t *testing.T) {
	r, _ := newTestServer(t)

	// An unsized reader leaves ContentLength at -1, as a chunked request does
	req := httptest.NewRequest(http.MethodPost, "/api/v1/blocks", io.MultiReader())
	req.Header.Set("Content-Type", "application/json")
	require.Equal(t, int64(-1), req.ContentLength)
	w := httptest.NewRecorder()
	r.Engine().ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var sealed models.Block
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sealed))
	assert.Equal(t, int64(2), sealed.Index)
	assert.Equal(t, int64(12345), sealed.Proof)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/blocks", io.MultiReader(strings.NewReader(`{"proof":`)))
	w = httptest.NewRecorder()
	r.Engine().ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSealContentionReturnsRetryAfter(t *testing.T) {
	store := &gatedStore{entered: make(chan struct{}), release: make(chan struct{})}
	r, l := newTestServer(t, ledger.WithStore(store), ledger.WithSealTimeout(20*time.Millisecond))

	first := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		first <- do(t, r, http.MethodPost, "/api/v1/blocks", "")
	}()
	<-store.entered

	w := do(t, r, http.MethodPost, "/api/v1/blocks", `{"proof":1}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code, w.Body.String())
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), "contention")

	close(store.release)
	assert.Equal(t, http.StatusCreated, (<-first).Code)
	assert.Equal(t, 2, l.Length())
}

func TestChainJSONShape(t *testing.T) {
	r, _ := newTestServer(t)

	w := do(t, r, http.MethodGet, "/api/v1/blocks/latest", "")
	require.Equal(t, http.StatusOK, w.Code)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &raw))
	for _, key := range []string{"index", "timestamp", "transactions", "proof", "previous_hash"} {
		assert.Contains(t, raw, key)
	}
	assert.Equal(t, "[]", string(raw["transactions"]))
}

func TestRecordValidation(t *testing.T) {
	r, l := newTestServer(t)

	cases := map[string]string{
		"MissingSender": `{"recipient":"Network","product_id":1,"action":"Created"}`,
		"MissingAction": `{"sender":"Acme","recipient":"Network","product_id":1}`,
		"MissingID":     `{"sender":"Acme","recipient":"Network","action":"Created"}`,
		"Malformed":     `{"sender":`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			w := do(t, r, http.MethodPost, "/api/v1/transactions", body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
	assert.Empty(t, l.Pending())

	w := do(t, r, http.MethodPost, "/api/v1/transactions",
		`{"sender":"Acme","recipient":"Network","product_id":0,"action":"Created"}`)
	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestGetBlockByIndex(t *testing.T) {
	r, _ := newTestServer(t)

	w := do(t, r, http.MethodGet, "/api/v1/blocks/1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"index":1`)

	w = do(t, r, http.MethodGet, "/api/v1/blocks/2", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, r, http.MethodGet, "/api/v1/blocks/0", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, http.MethodGet, "/api/v1/blocks/abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestProductEventsAndHistory(t *testing.T) {
	r, _ := newTestServer(t)

	w := do(t, r, http.MethodPost, "/api/v1/products/1/events",
		`{"sender":"Acme","recipient":"Supply Chain Network","action":"Created"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"block_index":2`)

	w = do(t, r, http.MethodPost, "/api/v1/products/1/events",
		`{"sender":"Acme","recipient":"Distributor","action":"Shipped","proof":1}`)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), `"block_index":3`)

	w = do(t, r, http.MethodGet, "/api/v1/products/1/history", "")
	require.Equal(t, http.StatusOK, w.Code)
	var history struct {
		ProductID int64                 `json:"product_id"`
		Status    string                `json:"status"`
		Events    []models.ProductEvent `json:"events"`
		Count     int                   `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &history))
	assert.Equal(t, int64(1), history.ProductID)
	assert.Equal(t, "Shipped", history.Status)
	require.Equal(t, 2, history.Count)
	assert.Equal(t, int64(2), history.Events[0].BlockIndex)
	assert.Equal(t, "Distributor", history.Events[1].Transaction.Recipient)

	w = do(t, r, http.MethodGet, "/api/v1/products/2/history", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":0`)

	w = do(t, r, http.MethodPost, "/api/v1/products/x/events", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, http.MethodGet, "/api/v1/chain/verify", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"valid":true`)
}

func TestNonPositiveProductIDs(t *testing.T) {
	r, _ := newTestServer(t)

	w := do(t, r, http.MethodPost, "/api/v1/transactions",
		`{"sender":"Dist","recipient":"Store","product_id":0,"action":"Received"}`)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	w = do(t, r, http.MethodPost, "/api/v1/transactions",
		`{"sender":"Store","recipient":"Customer","product_id":-3,"action":"Delivered"}`)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	w = do(t, r, http.MethodPost, "/api/v1/blocks", "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var history struct {
		ProductID int64  `json:"product_id"`
		Status    string `json:"status"`
		Count     int    `json:"count"`
	}
	w = do(t, r, http.MethodGet, "/api/v1/products/0/history", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &history))
	assert.Equal(t, int64(0), history.ProductID)
	assert.Equal(t, models.ActionReceived, history.Status)
	assert.Equal(t, 1, history.Count)

	w = do(t, r, http.MethodGet, "/api/v1/products/-3/history", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &history))
	assert.Equal(t, int64(-3), history.ProductID)
	assert.Equal(t, models.ActionDelivered, history.Status)
	assert.Equal(t, 1, history.Count)

	w = do(t, r, http.MethodPost, "/api/v1/products/-3/events",
		`{"sender":"Customer","recipient":"Store","action":"Returned"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = do(t, r, http.MethodGet, "/api/v1/products/abc/history", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = do(t, r, http.MethodGet, "/api/v1/products/1.5/history", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	r, _ := newTestServer(t)

	do(t, r, http.MethodPost, "/api/v1/products/1/events",
		`{"sender":"Acme","recipient":"Network","action":"Created"}`)
	do(t, r, http.MethodGet, "/api/v1/chain/verify", "")

	w := do(t, r, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.True(t, strings.Contains(body, "ledger_blocks_sealed_total 1"), body)
	assert.Contains(t, body, `ledger_integrity_checks_total{result="valid"} 1`)
	assert.Contains(t, body, "ledger_chain_length 2")
}
