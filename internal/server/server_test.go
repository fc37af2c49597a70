package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/purchaseledger/internal/catalog"
	"github.com/smallbiznis/purchaseledger/internal/config"
	entdomain "github.com/smallbiznis/purchaseledger/internal/entitlement/domain"
	"github.com/smallbiznis/purchaseledger/internal/entitlement/repository"
	"github.com/smallbiznis/purchaseledger/internal/observability"
	obsmetrics "github.com/smallbiznis/purchaseledger/internal/observability/metrics"
	"github.com/smallbiznis/purchaseledger/internal/reconcile"
	"github.com/smallbiznis/purchaseledger/internal/storefront"
	storedomain "github.com/smallbiznis/purchaseledger/internal/storefront/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type emptySource struct{}

func (emptySource) History(context.Context) (<-chan storedomain.VerificationResult, <-chan error) {
	return closedStream()
}

func (emptySource) CurrentEntitlements(context.Context) (<-chan storedomain.VerificationResult, <-chan error) {
	return closedStream()
}

func (emptySource) Updates(context.Context) (storedomain.Subscription, error) {
	return nil, storedomain.ErrSourceClosed
}

func (emptySource) Finish(context.Context, string) error { return nil }

func (emptySource) RenewalOutlook(context.Context, string) (*storedomain.RenewalOutlook, error) {
	return nil, nil
}

func closedStream() (<-chan storedomain.VerificationResult, <-chan error) {
	out := make(chan storedomain.VerificationResult)
	errs := make(chan error)
	close(out)
	close(errs)
	return out, errs
}

type recordingIngester struct {
	got []storedomain.Notification
	err error
}

func (r *recordingIngester) Ingest(_ context.Context, n storedomain.Notification) (storedomain.IngestResult, error) {
	if r.err != nil {
		return storedomain.IngestResult{}, r.err
	}
	r.got = append(r.got, n)
	return storedomain.IngestResult{TransactionStatus: storedomain.StatusAccepted}, nil
}

type testServer struct {
	server   *Server
	ledger   *reconcile.Engine
	ingester *recordingIngester
}

func newTestServer(t *testing.T, secret string) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cat, err := catalog.New(catalog.Config{
		Tiers: []string{"free", "pro"},
		Products: []catalog.ProductConfig{
			{ID: "coins", Kind: "consumable"},
			{ID: "pro", Kind: "non_consumable", Tier: "pro"},
			{ID: "monthly", Kind: "auto_renewable", Tier: "pro"},
		},
	})
	require.NoError(t, err)

	ledger := reconcile.NewEngine(reconcile.Params{
		Log:      zap.NewNop(),
		Catalog:  cat,
		Store:    repository.NewMemory(),
		Source:   emptySource{},
		Renewals: emptySource{},
	})
	ingester := &recordingIngester{}

	r := NewEngine(observability.Config{}, obsmetrics.NewHTTPMetricsForRegistry(prometheus.NewRegistry()))
	srv := NewServer(ServerParams{
		Gin:           r,
		Cfg:           config.Config{WebhookSecret: secret},
		Log:           zap.NewNop(),
		Ledger:        ledger,
		Notifications: ingester,
	})
	return &testServer{server: srv, ledger: ledger, ingester: ingester}
}

func (ts *testServer) do(method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case []byte:
		reader = bytes.NewReader(b)
	default:
		data, _ := json.Marshal(b)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	ts.server.Engine().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorPayload {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Error
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, "")

	rec := ts.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestEntitlementLifecycle(t *testing.T) {
	ts := newTestServer(t, "")

	rec := ts.do(http.MethodPut, "/v1/entitlements/pro", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"product_id":"pro","kind":"non_consumable","owned":true}`, rec.Body.String())

	rec = ts.do(http.MethodGet, "/v1/snapshot", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var snap struct {
		Owned       []string `json:"owned"`
		AccessLevel int      `json:"access_level"`
		Tier        string   `json:"tier"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, []string{"pro"}, snap.Owned)
	assert.Equal(t, 1, snap.AccessLevel)
	assert.Equal(t, "pro", snap.Tier)

	rec = ts.do(http.MethodDelete, "/v1/entitlements/pro", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"product_id":"pro","kind":"non_consumable","owned":false}`, rec.Body.String())
}

func TestUnknownProductIsNotFound(t *testing.T) {
	ts := newTestServer(t, "")

	rec := ts.do(http.MethodGet, "/v1/entitlements/retired", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, string(entdomain.KindUnknownProduct), decodeError(t, rec).Type)
}

func TestGrantConsumableIsUnprocessable(t *testing.T) {
	ts := newTestServer(t, "")

	rec := ts.do(http.MethodPut, "/v1/entitlements/coins", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, string(entdomain.KindUnsupportedProductType), decodeError(t, rec).Type)
}

func TestCreditAndConsume(t *testing.T) {
	ts := newTestServer(t, "")

	rec := ts.do(http.MethodPost, "/v1/balances/coins/credit", quantityRequest{Quantity: 100})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"product_id":"coins","quantity":100}`, rec.Body.String())

	rec = ts.do(http.MethodPost, "/v1/balances/coins/consume", quantityRequest{Quantity: 25})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"product_id":"coins","quantity":75}`, rec.Body.String())

	rec = ts.do(http.MethodPost, "/v1/balances/coins/consume", quantityRequest{Quantity: 200})
	assert.Equal(t, http.StatusConflict, rec.Code)
	payload := decodeError(t, rec)
	assert.Equal(t, string(entdomain.KindInsufficientBalance), payload.Type)
	assert.Equal(t, "Not enough credits remaining.", payload.Message)

	rec = ts.do(http.MethodGet, "/v1/balances/coins", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"product_id":"coins","quantity":75}`, rec.Body.String())
}

func TestConsumeRejectsBadQuantity(t *testing.T) {
	ts := newTestServer(t, "")

	rec := ts.do(http.MethodPost, "/v1/balances/coins/consume", quantityRequest{Quantity: 0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(entdomain.KindInvalidAmount), decodeError(t, rec).Type)

	rec = ts.do(http.MethodPost, "/v1/balances/coins/consume", []byte(`{"quantity":"ten"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", decodeError(t, rec).Type)
}

func TestBalanceOfEntitlementProductIsUnprocessable(t *testing.T) {
	ts := newTestServer(t, "")

	rec := ts.do(http.MethodGet, "/v1/balances/pro", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestRenewalNotFoundUntilRefreshed(t *testing.T) {
	ts := newTestServer(t, "")

	rec := ts.do(http.MethodGet, "/v1/renewals/monthly", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(http.MethodPost, "/v1/renewals/refresh", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSyncReturnsSnapshot(t *testing.T) {
	ts := newTestServer(t, "")

	rec := ts.do(http.MethodPost, "/v1/sync", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"access_level":0`)
}

func TestNotificationSignature(t *testing.T) {
	ts := newTestServer(t, "whsec_test")
	body := []byte(`{"transaction":{"transaction_id":"t1","product_id":"pro","verified":true}}`)

	rec := ts.do(http.MethodPost, "/v1/notifications", body)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(http.MethodPost, "/v1/notifications", body,
		storefront.SignatureHeader, storefront.SignatureFor("other", time.Now(), body))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, ts.ingester.got)

	rec = ts.do(http.MethodPost, "/v1/notifications", body,
		storefront.SignatureHeader, storefront.SignatureFor("whsec_test", time.Now(), body))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"transaction_status":"accepted","renewal_recorded":false}`, rec.Body.String())
	require.Len(t, ts.ingester.got, 1)
	assert.Equal(t, "t1", ts.ingester.got[0].Transaction.TransactionID)
	assert.Equal(t, body, ts.ingester.got[0].Raw)
}

func TestNotificationRejectsMalformedBody(t *testing.T) {
	ts := newTestServer(t, "")

	rec := ts.do(http.MethodPost, "/v1/notifications", []byte(`{not json`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	ts.ingester.err = storedomain.ErrInvalidTransactionID
	rec = ts.do(http.MethodPost, "/v1/notifications", []byte(`{"transaction":{}}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMapErrorStatuses(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{entdomain.ErrPersistenceWriteFailed, http.StatusServiceUnavailable},
		{entdomain.ErrSyncFailed, http.StatusBadGateway},
		{entdomain.ErrSubscriptionStatusFailed, http.StatusBadGateway},
		{entdomain.ErrVerificationFailed, http.StatusUnprocessableEntity},
		{entdomain.ErrPurchasePending, http.StatusConflict},
		{storedomain.ErrInvalidSignature, http.StatusUnauthorized},
		{storedomain.ErrSourceClosed, http.StatusServiceUnavailable},
		{ErrNotFound, http.StatusNotFound},
		{assert.AnError, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		status, _ := mapError(tc.err)
		assert.Equal(t, tc.want, status, tc.err.Error())
	}
}

func TestSnapshotStreamPushesUpdates(t *testing.T) {
	ts := newTestServer(t, "")
	httpServer := httptest.NewServer(ts.server.Engine())
	defer httpServer.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, httpServer.URL+"/v1/snapshot/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	nextData := func() string {
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			if strings.HasPrefix(line, "data: ") {
				return strings.TrimSpace(strings.TrimPrefix(line, "data: "))
			}
		}
	}

	assert.Contains(t, nextData(), `"owned":[]`)

	require.NoError(t, ts.ledger.Grant(context.Background(), "pro"))
	assert.Contains(t, nextData(), `"owned":["pro"]`)
}
