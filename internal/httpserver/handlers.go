package httpserver

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/clubware/clubcore/pkg/booking"
	"github.com/clubware/clubcore/pkg/wallet"
)

const (
	contextKeyMemberID = "member_id"
	contextKeyAdmin    = "member_admin"

	defaultListLimit = 50
	maxListLimit     = 200
)

type recurrencePayload struct {
	Frequency string `json:"frequency"`
	Interval  int    `json:"interval"`
	Count     int    `json:"count"`
	Until     string `json:"until"`
}

type createBookingPayload struct {
	CourtID    string             `json:"court_id"`
	Start      time.Time          `json:"start"`
	End        time.Time          `json:"end"`
	Recurrence *recurrencePayload `json:"recurrence"`
}

type occurrenceResponse struct {
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
	Outcome       string    `json:"outcome"`
	BookingID     string    `json:"booking_id,omitempty"`
	TransactionID string    `json:"transaction_id,omitempty"`
}

type amountPayload struct {
	AmountCents int64  `json:"amount_cents"`
	Description string `json:"description"`
	ProofURL    string `json:"proof_url"`
}

func (server *Server) handleCreateBooking(ctx *gin.Context) {
	var payload createBookingPayload
	if err := ctx.ShouldBindJSON(&payload); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "malformed body"})
		return
	}
	courtID, err := booking.NewCourtID(payload.CourtID)
	if err != nil {
		respondError(ctx, err)
		return
	}
	timeRange, err := booking.NewTimeRange(payload.Start, payload.End)
	if err != nil {
		respondError(ctx, err)
		return
	}
	request := booking.CreateBookingRequest{
		CourtID:  courtID,
		MemberID: memberID(ctx),
		Range:    timeRange,
	}
	if payload.Recurrence != nil {
		rule, err := toRule(*payload.Recurrence)
		if err != nil {
			respondError(ctx, err)
			return
		}
		request.Rule = &rule
	}

	result, err := server.bookings.CreateBooking(ctx.Request.Context(), request)
	if err != nil {
		respondError(ctx, err)
		return
	}
	server.countOutcomes(result)

	occurrences := make([]occurrenceResponse, 0, len(result.Outcomes))
	for _, outcome := range result.Outcomes {
		occurrences = append(occurrences, occurrenceResponse{
			Start:         outcome.Range.Start(),
			End:           outcome.Range.End(),
			Outcome:       string(outcome.Kind),
			BookingID:     outcome.BookingID.String(),
			TransactionID: outcome.TransactionID.String(),
		})
	}
	ctx.JSON(http.StatusOK, gin.H{
		"confirmed":   result.ConfirmedCount(),
		"occurrences": occurrences,
	})
}

func (server *Server) countOutcomes(result booking.BookingResult) {
	if server.metrics == nil {
		return
	}
	for _, outcome := range result.Outcomes {
		switch outcome.Kind {
		case booking.OutcomeSlotUnavailable:
			server.metrics.BookingsConflicted.Inc()
		case booking.OutcomePaymentFailed:
			server.metrics.BookingsPaymentFailed.Inc()
		}
	}
}

func (server *Server) handleCancelBooking(ctx *gin.Context) {
	bookingID, err := booking.NewBookingID(ctx.Param("id"))
	if err != nil {
		respondError(ctx, err)
		return
	}
	actor := booking.Actor{MemberID: memberID(ctx), Admin: isAdmin(ctx)}
	if err := server.bookings.CancelBooking(ctx.Request.Context(), bookingID, actor); err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

func (server *Server) handleListBookings(ctx *gin.Context) {
	bookings, err := server.bookings.ListBookings(ctx.Request.Context(), memberID(ctx), listLimit(ctx))
	if err != nil {
		respondError(ctx, err)
		return
	}
	items := make([]gin.H, 0, len(bookings))
	for _, item := range bookings {
		items = append(items, gin.H{
			"booking_id":        item.BookingID.String(),
			"court_id":          item.CourtID.String(),
			"start":             item.Range.Start(),
			"end":               item.Range.End(),
			"total_price_cents": item.TotalPriceCents.Int64(),
			"status":            item.Status.String(),
			"recurring":         item.Recurring,
			"parent_booking_id": item.ParentBookingID.String(),
		})
	}
	ctx.JSON(http.StatusOK, gin.H{"bookings": items})
}

func (server *Server) handleAvailability(ctx *gin.Context) {
	courtID, err := booking.NewCourtID(ctx.Param("id"))
	if err != nil {
		respondError(ctx, err)
		return
	}
	start, err := time.Parse(time.RFC3339, ctx.Query("start"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid start"})
		return
	}
	end, err := time.Parse(time.RFC3339, ctx.Query("end"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid end"})
		return
	}
	timeRange, err := booking.NewTimeRange(start, end)
	if err != nil {
		respondError(ctx, err)
		return
	}
	available, err := server.bookings.IsAvailable(ctx.Request.Context(), courtID, timeRange)
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"available": available})
}

func (server *Server) handleBalance(ctx *gin.Context) {
	balance, err := server.wallet.Balance(ctx.Request.Context(), memberID(ctx))
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"balance_cents": balance.Int64()})
}

func (server *Server) handleListTransactions(ctx *gin.Context) {
	var filter wallet.ListFilter
	if rawType := ctx.Query("type"); rawType != "" {
		transactionType, err := wallet.ParseTransactionType(rawType)
		if err != nil {
			respondError(ctx, err)
			return
		}
		filter.Type = transactionType
	}
	if rawStatus := ctx.Query("status"); rawStatus != "" {
		status, err := wallet.ParseTransactionStatus(rawStatus)
		if err != nil {
			respondError(ctx, err)
			return
		}
		filter.Status = status
	}
	before, _ := strconv.ParseInt(ctx.Query("before"), 10, 64)

	transactions, err := server.wallet.ListTransactions(ctx.Request.Context(), memberID(ctx), filter, before, listLimit(ctx))
	if err != nil {
		respondError(ctx, err)
		return
	}
	items := make([]gin.H, 0, len(transactions))
	for _, transaction := range transactions {
		items = append(items, gin.H{
			"transaction_id": transaction.TransactionID.String(),
			"amount_cents":   transaction.AmountCents.Int64(),
			"type":           transaction.Type.String(),
			"status":         transaction.Status.String(),
			"related_ref":    transaction.RelatedRef.String(),
			"description":    transaction.Description,
			"created_at":     transaction.CreatedUnixUTC,
		})
	}
	ctx.JSON(http.StatusOK, gin.H{"transactions": items})
}

func (server *Server) handleDeposit(ctx *gin.Context) {
	amount, payload, ok := bindAmount(ctx)
	if !ok {
		return
	}
	transaction, err := server.wallet.Credit(ctx.Request.Context(), memberID(ctx), amount, wallet.TxTopUp, wallet.RelatedRef{}, payload.Description)
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"transaction_id": transaction.TransactionID.String()})
}

func (server *Server) handleWithdraw(ctx *gin.Context) {
	amount, payload, ok := bindAmount(ctx)
	if !ok {
		return
	}
	transaction, err := server.wallet.Debit(ctx.Request.Context(), memberID(ctx), amount, wallet.TxWithdrawal, wallet.RelatedRef{}, payload.Description)
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"transaction_id": transaction.TransactionID.String()})
}

func (server *Server) handleRequestTopUp(ctx *gin.Context) {
	amount, payload, ok := bindAmount(ctx)
	if !ok {
		return
	}
	transaction, err := server.wallet.RequestTopUp(ctx.Request.Context(), memberID(ctx), amount, payload.ProofURL, payload.Description)
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"transaction_id": transaction.TransactionID.String(), "status": wallet.TxStatusPending.String()})
}

func (server *Server) handleSettleTopUp(ctx *gin.Context) {
	if !isAdmin(ctx) {
		ctx.JSON(http.StatusForbidden, gin.H{"error": "admin only"})
		return
	}
	transactionID, err := wallet.NewTransactionID(ctx.Param("id"))
	if err != nil {
		respondError(ctx, err)
		return
	}
	var payload struct {
		Approve bool `json:"approve"`
	}
	if err := ctx.ShouldBindJSON(&payload); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "malformed body"})
		return
	}
	transaction, err := server.wallet.SettleTopUp(ctx.Request.Context(), transactionID, payload.Approve)
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"transaction_id": transaction.TransactionID.String(), "status": transaction.Status.String()})
}

func bindAmount(ctx *gin.Context) (wallet.PositiveAmountCents, amountPayload, bool) {
	var payload amountPayload
	if err := ctx.ShouldBindJSON(&payload); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "malformed body"})
		return 0, amountPayload{}, false
	}
	amount, err := wallet.NewPositiveAmountCents(payload.AmountCents)
	if err != nil {
		respondError(ctx, err)
		return 0, amountPayload{}, false
	}
	return amount, payload, true
}

func toRule(payload recurrencePayload) (booking.Rule, error) {
	rule := booking.Rule{
		Frequency: booking.Frequency(payload.Frequency),
		Interval:  payload.Interval,
		Count:     payload.Count,
	}
	if payload.Until != "" {
		until, err := time.Parse(time.RFC3339, payload.Until)
		if err != nil {
			return booking.Rule{}, booking.ErrInvalidRecurrenceRule
		}
		rule.Until = until.UTC()
	}
	if err := rule.Validate(); err != nil {
		return booking.Rule{}, err
	}
	return rule, nil
}

func memberID(ctx *gin.Context) wallet.MemberID {
	return ctx.MustGet(contextKeyMemberID).(wallet.MemberID)
}

func isAdmin(ctx *gin.Context) bool {
	return ctx.GetBool(contextKeyAdmin)
}

func listLimit(ctx *gin.Context) int {
	limit, err := strconv.Atoi(ctx.Query("limit"))
	if err != nil || limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

// respondError maps domain errors onto HTTP statuses with stable codes.
func respondError(ctx *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := "internal"
	switch {
	case errors.Is(err, booking.ErrInvalidRequest),
		errors.Is(err, booking.ErrInvalidRecurrenceRule),
		errors.Is(err, booking.ErrInvalidTimeRange),
		errors.Is(err, booking.ErrInvalidCourtID),
		errors.Is(err, booking.ErrInvalidBookingID),
		errors.Is(err, wallet.ErrInvalidAmountCents),
		errors.Is(err, wallet.ErrInvalidTransactionID),
		errors.Is(err, wallet.ErrInvalidTransactionType),
		errors.Is(err, wallet.ErrInvalidTransactionStatus):
		status, code = http.StatusBadRequest, "invalid_request"
	case errors.Is(err, wallet.ErrInsufficientFunds):
		status, code = http.StatusPaymentRequired, "insufficient_funds"
	case errors.Is(err, booking.ErrForbidden):
		status, code = http.StatusForbidden, "forbidden"
	case errors.Is(err, booking.ErrBookingNotFound),
		errors.Is(err, booking.ErrCourtNotFound),
		errors.Is(err, wallet.ErrMemberNotFound),
		errors.Is(err, wallet.ErrTransactionNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, booking.ErrSlotConflict):
		status, code = http.StatusConflict, "slot_conflict"
	case errors.Is(err, booking.ErrAlreadyCancelled):
		status, code = http.StatusConflict, "already_cancelled"
	case errors.Is(err, wallet.ErrNotReversible):
		status, code = http.StatusConflict, "not_reversible"
	case errors.Is(err, wallet.ErrNotSettleable):
		status, code = http.StatusConflict, "not_settleable"
	case errors.Is(err, wallet.ErrMemberInactive), errors.Is(err, booking.ErrCourtInactive):
		status, code = http.StatusUnprocessableEntity, "inactive"
	}
	ctx.JSON(status, gin.H{"error": code, "detail": err.Error()})
}
