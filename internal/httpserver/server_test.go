package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/clubware/clubcore/internal/store/gormstore"
	"github.com/clubware/clubcore/pkg/booking"
	"github.com/clubware/clubcore/pkg/wallet"
)

const (
	testMemberID = "11111111-1111-1111-1111-111111111111"
	testCourtID  = "22222222-2222-2222-2222-222222222222"
)

func setupRouter(t *testing.T, balanceCents int64) *gin.Engine {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(gormstore.Models()...))

	walletStore := gormstore.NewWalletStore(db)
	bookingStore := gormstore.NewBookingStore(db)
	ctx := context.Background()
	require.NoError(t, walletStore.CreateMember(ctx, &gormstore.Member{
		MemberID:     testMemberID,
		DisplayName:  "Test Member",
		BalanceCents: balanceCents,
		Active:       true,
		CreatedAt:    time.Now().UTC(),
	}))
	require.NoError(t, bookingStore.CreateCourt(ctx, &gormstore.Court{
		CourtID:           testCourtID,
		Name:              "Center Court",
		PricePerHourCents: 6000,
		Active:            true,
		CreatedAt:         time.Now().UTC(),
	}))

	clock := func() int64 { return time.Now().UTC().Unix() }
	walletService, err := wallet.NewService(walletStore, clock)
	require.NoError(t, err)
	bookingService, err := booking.NewService(bookingStore, walletService, clock)
	require.NoError(t, err)

	server := New(Config{}, zap.NewNop(), walletService, bookingService, nil, nil)
	return server.Router()
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any, headers map[string]string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	request := httptest.NewRequest(method, path, reader)
	request.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		request.Header.Set(key, value)
	}
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)

	decoded := map[string]any{}
	if recorder.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &decoded))
	}
	return recorder, decoded
}

func memberHeaders() map[string]string {
	return map[string]string{"X-Member-ID": testMemberID}
}

func adminHeaders() map[string]string {
	return map[string]string{"X-Member-ID": testMemberID, "X-Member-Role": "admin"}
}

func TestHealthz(t *testing.T) {
	router := setupRouter(t, 0)
	recorder, body := doJSON(t, router, http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	require.Equal(t, "ok", body["status"])
}

func TestAPIRequiresMemberHeader(t *testing.T) {
	router := setupRouter(t, 0)
	recorder, _ := doJSON(t, router, http.MethodGet, "/api/wallet/balance", nil, nil)
	require.Equal(t, http.StatusUnauthorized, recorder.Code)
}

func TestBookingLifecycleOverHTTP(t *testing.T) {
	router := setupRouter(t, 20000)

	recorder, body := doJSON(t, router, http.MethodPost, "/api/bookings", map[string]any{
		"court_id": testCourtID,
		"start":    "2026-03-02T18:00:00Z",
		"end":      "2026-03-02T19:30:00Z",
	}, memberHeaders())
	require.Equal(t, http.StatusOK, recorder.Code)
	require.EqualValues(t, 1, body["confirmed"])

	occurrences := body["occurrences"].([]any)
	require.Len(t, occurrences, 1)
	first := occurrences[0].(map[string]any)
	require.Equal(t, "confirmed", first["outcome"])
	bookingID := first["booking_id"].(string)
	require.NotEmpty(t, bookingID)

	recorder, body = doJSON(t, router, http.MethodGet, "/api/wallet/balance", nil, memberHeaders())
	require.Equal(t, http.StatusOK, recorder.Code)
	require.EqualValues(t, 11000, body["balance_cents"])

	recorder, _ = doJSON(t, router, http.MethodPost, "/api/bookings/"+bookingID+"/cancel", nil, memberHeaders())
	require.Equal(t, http.StatusOK, recorder.Code)

	recorder, body = doJSON(t, router, http.MethodGet, "/api/wallet/balance", nil, memberHeaders())
	require.Equal(t, http.StatusOK, recorder.Code)
	require.EqualValues(t, 20000, body["balance_cents"])

	// A second cancel races against the terminal status.
	recorder, body = doJSON(t, router, http.MethodPost, "/api/bookings/"+bookingID+"/cancel", nil, memberHeaders())
	require.Equal(t, http.StatusConflict, recorder.Code)
	require.Equal(t, "already_cancelled", body["error"])
}

func TestBookingConflictOutcomeOverHTTP(t *testing.T) {
	router := setupRouter(t, 100000)
	payload := map[string]any{
		"court_id": testCourtID,
		"start":    "2026-03-02T18:00:00Z",
		"end":      "2026-03-02T19:00:00Z",
	}

	recorder, _ := doJSON(t, router, http.MethodPost, "/api/bookings", payload, memberHeaders())
	require.Equal(t, http.StatusOK, recorder.Code)

	recorder, body := doJSON(t, router, http.MethodPost, "/api/bookings", payload, memberHeaders())
	require.Equal(t, http.StatusOK, recorder.Code)
	require.EqualValues(t, 0, body["confirmed"])
	occurrences := body["occurrences"].([]any)
	first := occurrences[0].(map[string]any)
	require.Equal(t, "slot_unavailable", first["outcome"])
}

func TestRecurringBookingOverHTTP(t *testing.T) {
	router := setupRouter(t, 100000)

	recorder, body := doJSON(t, router, http.MethodPost, "/api/bookings", map[string]any{
		"court_id": testCourtID,
		"start":    "2026-03-02T18:00:00Z",
		"end":      "2026-03-02T19:00:00Z",
		"recurrence": map[string]any{
			"frequency": "weekly",
			"interval":  1,
			"count":     3,
		},
	}, memberHeaders())
	require.Equal(t, http.StatusOK, recorder.Code)
	require.EqualValues(t, 3, body["confirmed"])

	recorder, body = doJSON(t, router, http.MethodGet, "/api/wallet/balance", nil, memberHeaders())
	require.Equal(t, http.StatusOK, recorder.Code)
	require.EqualValues(t, 100000-3*6000, body["balance_cents"])
}

func TestInsufficientFundsOutcomeOverHTTP(t *testing.T) {
	router := setupRouter(t, 100)

	recorder, body := doJSON(t, router, http.MethodPost, "/api/bookings", map[string]any{
		"court_id": testCourtID,
		"start":    "2026-03-02T18:00:00Z",
		"end":      "2026-03-02T19:00:00Z",
	}, memberHeaders())
	require.Equal(t, http.StatusOK, recorder.Code)
	require.EqualValues(t, 0, body["confirmed"])
	occurrences := body["occurrences"].([]any)
	first := occurrences[0].(map[string]any)
	require.Equal(t, "payment_failed", first["outcome"])
}

func TestAvailabilityQuery(t *testing.T) {
	router := setupRouter(t, 100000)
	payload := map[string]any{
		"court_id": testCourtID,
		"start":    "2026-03-02T18:00:00Z",
		"end":      "2026-03-02T19:00:00Z",
	}
	recorder, _ := doJSON(t, router, http.MethodPost, "/api/bookings", payload, memberHeaders())
	require.Equal(t, http.StatusOK, recorder.Code)

	path := fmt.Sprintf("/api/courts/%s/availability?start=%s&end=%s", testCourtID, "2026-03-02T18:30:00Z", "2026-03-02T19:30:00Z")
	recorder, body := doJSON(t, router, http.MethodGet, path, nil, memberHeaders())
	require.Equal(t, http.StatusOK, recorder.Code)
	require.Equal(t, false, body["available"])

	path = fmt.Sprintf("/api/courts/%s/availability?start=%s&end=%s", testCourtID, "2026-03-02T19:00:00Z", "2026-03-02T20:00:00Z")
	recorder, body = doJSON(t, router, http.MethodGet, path, nil, memberHeaders())
	require.Equal(t, http.StatusOK, recorder.Code)
	require.Equal(t, true, body["available"])
}

func TestDepositAndWithdrawOverHTTP(t *testing.T) {
	router := setupRouter(t, 0)

	recorder, _ := doJSON(t, router, http.MethodPost, "/api/wallet/deposit", map[string]any{
		"amount_cents": 5000,
		"description":  "front desk cash",
	}, memberHeaders())
	require.Equal(t, http.StatusOK, recorder.Code)

	recorder, _ = doJSON(t, router, http.MethodPost, "/api/wallet/withdraw", map[string]any{
		"amount_cents": 2000,
	}, memberHeaders())
	require.Equal(t, http.StatusOK, recorder.Code)

	recorder, body := doJSON(t, router, http.MethodGet, "/api/wallet/balance", nil, memberHeaders())
	require.Equal(t, http.StatusOK, recorder.Code)
	require.EqualValues(t, 3000, body["balance_cents"])

	recorder, body = doJSON(t, router, http.MethodPost, "/api/wallet/withdraw", map[string]any{
		"amount_cents": 9000,
	}, memberHeaders())
	require.Equal(t, http.StatusPaymentRequired, recorder.Code)
	require.Equal(t, "insufficient_funds", body["error"])
}

func TestTopUpSettlementOverHTTP(t *testing.T) {
	router := setupRouter(t, 0)

	recorder, body := doJSON(t, router, http.MethodPost, "/api/wallet/topups", map[string]any{
		"amount_cents": 7500,
		"proof_url":    "https://proofs/receipt.png",
	}, memberHeaders())
	require.Equal(t, http.StatusOK, recorder.Code)
	transactionID := body["transaction_id"].(string)
	require.Equal(t, "pending", body["status"])

	// Members cannot settle their own top-ups.
	recorder, _ = doJSON(t, router, http.MethodPost, "/api/wallet/topups/"+transactionID+"/settle", map[string]any{
		"approve": true,
	}, memberHeaders())
	require.Equal(t, http.StatusForbidden, recorder.Code)

	recorder, body = doJSON(t, router, http.MethodPost, "/api/wallet/topups/"+transactionID+"/settle", map[string]any{
		"approve": true,
	}, adminHeaders())
	require.Equal(t, http.StatusOK, recorder.Code)
	require.Equal(t, "completed", body["status"])

	recorder, body = doJSON(t, router, http.MethodGet, "/api/wallet/balance", nil, memberHeaders())
	require.Equal(t, http.StatusOK, recorder.Code)
	require.EqualValues(t, 7500, body["balance_cents"])

	// Settling twice conflicts.
	recorder, body = doJSON(t, router, http.MethodPost, "/api/wallet/topups/"+transactionID+"/settle", map[string]any{
		"approve": true,
	}, adminHeaders())
	require.Equal(t, http.StatusConflict, recorder.Code)
	require.Equal(t, "not_settleable", body["error"])
}

func TestListTransactionsOverHTTP(t *testing.T) {
	router := setupRouter(t, 0)

	recorder, _ := doJSON(t, router, http.MethodPost, "/api/wallet/deposit", map[string]any{
		"amount_cents": 5000,
	}, memberHeaders())
	require.Equal(t, http.StatusOK, recorder.Code)
	recorder, _ = doJSON(t, router, http.MethodPost, "/api/wallet/withdraw", map[string]any{
		"amount_cents": 1000,
	}, memberHeaders())
	require.Equal(t, http.StatusOK, recorder.Code)

	recorder, body := doJSON(t, router, http.MethodGet, "/api/wallet/transactions", nil, memberHeaders())
	require.Equal(t, http.StatusOK, recorder.Code)
	require.Len(t, body["transactions"], 2)

	recorder, body = doJSON(t, router, http.MethodGet, "/api/wallet/transactions?type=withdrawal", nil, memberHeaders())
	require.Equal(t, http.StatusOK, recorder.Code)
	transactions := body["transactions"].([]any)
	require.Len(t, transactions, 1)
	first := transactions[0].(map[string]any)
	require.EqualValues(t, -1000, first["amount_cents"])
}
