package routes

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"paysa/internal/handlers"
	"paysa/internal/logger"
	"paysa/internal/metrics"
	"paysa/internal/models"
	"paysa/internal/services/fx"
	"paysa/internal/services/kyc"
	"paysa/internal/services/limits"
	"paysa/internal/services/settlement"
	"paysa/internal/services/transaction"
	"paysa/internal/services/wallet"
	"paysa/internal/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSecret  = "test-secret"
	partnerKey  = "partner-key"
	contentJSON = "application/json"
)

type envelope struct {
	Message string         `json:"message"`
	Data    map[string]any `json:"data"`
	Error   map[string]any `json:"error"`
}

type api struct {
	app  *fiber.App
	svc  *transaction.Service
	rail *settlement.Simulated
}

func newAPI(t *testing.T) *api {
	t.Helper()
	rail := settlement.NewSimulated()
	svc := transaction.NewService(transaction.Deps{
		Store:      wallet.NewMemoryStore(),
		Limits:     limits.NewTracker(limits.Config{}),
		Rates:      fx.NewStaticSource(),
		Connectors: settlement.NewRegistry(rail),
		KYC:        kyc.NewStaticProvider(map[string]int{"alice": kyc.TierVerified}),
		Logger:     logger.Discard(),
	}, transaction.Config{Currencies: []string{"PHP"}, FXMarkup: decimal.RequireFromString("0.025")})

	hash, err := utils.HashSecret(partnerKey)
	require.NoError(t, err)

	app := fiber.New()
	SetupRoutes(app, Deps{
		Ledger:           svc,
		Health:           handlers.NewHealthHandler("test", map[string]handlers.Check{"store": func(context.Context) error { return nil }}),
		Metrics:          metrics.NewPrometheus(),
		JWTSecret:        testSecret,
		PartnerKeyHashes: []string{hash},
		Logger:           logger.Discard(),
	})

	_, err = svc.CreditManual(context.Background(), "alice", "PHP", decimal.RequireFromString("1000"), "seed", "seed")
	require.NoError(t, err)
	return &api{app: app, svc: svc, rail: rail}
}

func token(t *testing.T, user string) string {
	t.Helper()
	tok, err := utils.IssueToken(models.UserClaims{UserID: user, Role: "user"}, testSecret, time.Hour)
	require.NoError(t, err)
	return "Bearer " + tok
}

func (a *api) do(t *testing.T, method, path, auth, key, body string) (int, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(fiber.HeaderContentType, contentJSON)
	if auth != "" {
		req.Header.Set(fiber.HeaderAuthorization, auth)
	}
	if key != "" {
		req.Header.Set(handlers.IdempotencyHeader, key)
	}
	resp, err := a.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var env envelope
	if len(raw) > 0 && strings.HasPrefix(resp.Header.Get(fiber.HeaderContentType), contentJSON) {
		require.NoError(t, json.Unmarshal(raw, &env), string(raw))
	}
	return resp.StatusCode, env
}

func TestTransferFlow(t *testing.T) {
	a := newAPI(t)
	alice := token(t, "alice")

	status, env := a.do(t, http.MethodPost, "/api/v1/transfers", alice, "t-1",
		`{"recipient_id":"bob","amount":"100","source_currency":"PHP"}`)
	require.Equal(t, http.StatusOK, status, env.Error)
	assert.Equal(t, models.StatusCompleted, env.Data["status"])
	assert.Equal(t, "2.5", env.Data["fee_amount"])
	assert.Equal(t, "97.5", env.Data["net_amount"])
	id := env.Data["id"].(string)

	// Same key in the body replays.
	status, env = a.do(t, http.MethodPost, "/api/v1/transfers", alice, "",
		`{"recipient_id":"bob","amount":"100","source_currency":"PHP","idempotency_key":"t-1"}`)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, id, env.Data["id"])

	status, env = a.do(t, http.MethodGet, "/api/v1/transactions/"+id, token(t, "bob"), "", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, id, env.Data["id"])

	status, env = a.do(t, http.MethodGet, "/api/v1/transactions/"+id, token(t, "carol"), "", "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "TRANSACTION_NOT_FOUND", env.Error["code"])

	status, env = a.do(t, http.MethodGet, "/api/v1/wallets/php", alice, "", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "900", env.Data["balance"])
}

func TestTransferErrors(t *testing.T) {
	a := newAPI(t)
	alice := token(t, "alice")

	status, _ := a.do(t, http.MethodPost, "/api/v1/transfers", "", "x", `{}`)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = a.do(t, http.MethodPost, "/api/v1/transfers", "Bearer not-a-token", "x", `{}`)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, env := a.do(t, http.MethodPost, "/api/v1/transfers", alice, "", `{"recipient_id":"bob"}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION_ERROR", env.Error["kind"])

	status, env = a.do(t, http.MethodPost, "/api/v1/transfers", alice, "long",
		`{"recipient_id":"bob","amount":"1","source_currency":"PHP","message":"`+strings.Repeat("x", 501)+`"}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "FIELD_TOO_LONG", env.Error["code"])

	status, env = a.do(t, http.MethodPost, "/api/v1/transfers", alice, "big",
		`{"recipient_id":"bob","amount":"5000","source_currency":"PHP"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "INSUFFICIENT_BALANCE", env.Error["kind"])
	assert.Equal(t, models.StatusFailed, env.Data["status"])

	status, env = a.do(t, http.MethodPost, "/api/v1/transfers", alice, "big",
		`{"recipient_id":"bob","amount":"10","source_currency":"PHP"}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "IDEMPOTENCY_KEY_REUSED", env.Error["code"])
}

func TestCashOutPendingThenPartnerResolves(t *testing.T) {
	a := newAPI(t)
	a.rail.Script(settlement.Outcome{Status: settlement.StatusPending})

	status, env := a.do(t, http.MethodPost, "/api/v1/cash-out", token(t, "alice"), "co-1",
		`{"amount":"200","currency":"PHP","method":"gcash","method_details":{"account":"0917"}}`)
	require.Equal(t, http.StatusAccepted, status, env.Error)
	assert.Equal(t, "CONNECTOR_TIMEOUT", env.Error["kind"])
	assert.Equal(t, models.StatusSettling, env.Data["status"])
	id := env.Data["id"].(string)
	ref := env.Data["external_reference"].(string)

	body := `{"status":"success","external_ref":"` + ref + `","amount":"200"}`
	status, _ = a.do(t, http.MethodPost, "/api/v1/settlements/"+id+"/resolve", "", "", body)
	assert.Equal(t, http.StatusUnauthorized, status)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/settlements/"+id+"/resolve", strings.NewReader(body))
	req.Header.Set(fiber.HeaderContentType, contentJSON)
	req.Header.Set("X-API-Key", partnerKey)
	resp, err := a.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	w, err := a.svc.GetWallet(context.Background(), "alice", "PHP")
	require.NoError(t, err)
	assert.Equal(t, "800", w.Balance.String())
}

func TestHealthAndMetrics(t *testing.T) {
	a := newAPI(t)

	status, _ := a.do(t, http.MethodGet, "/health", "", "", "")
	assert.Equal(t, http.StatusOK, status)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	resp, err := a.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(raw), "paysa_http_requests_total")
}
