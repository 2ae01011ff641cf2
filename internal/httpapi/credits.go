package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/MarkoPoloResearchLab/classifieds/pkg/boost"
	"github.com/MarkoPoloResearchLab/classifieds/pkg/ledger"
)

const idempotencyHeader = "Idempotency-Key"

type purchaseRequest struct {
	Amount        int64  `json:"amount"`
	PaymentMethod string `json:"paymentMethod"`
}

type boostRequest struct {
	ProductID string `json:"productId"`
	BoostType string `json:"boostType"`
}

type adjustmentRequest struct {
	UserID string `json:"userId"`
	Amount int64  `json:"amount"`
	Reason string `json:"reason"`
}

type balancePayload struct {
	UserID      string `json:"userId"`
	Balance     int64  `json:"balance"`
	TotalEarned int64  `json:"totalEarned"`
	TotalSpent  int64  `json:"totalSpent"`
}

type transactionPayload struct {
	ID             string `json:"id"`
	UserID         string `json:"userId"`
	Type           string `json:"type"`
	Amount         int64  `json:"amount"`
	Description    string `json:"description"`
	PaymentMethod  string `json:"paymentMethod,omitempty"`
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
	Metadata       any    `json:"metadata"`
	CreatedUnixUTC int64  `json:"createdUnixUtc"`
}

type packagePayload struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Credits int64  `json:"credits"`
	Bonus   int64  `json:"bonus"`
	Price   int64  `json:"price"`
}

type boostTierPayload struct {
	Type          string `json:"type"`
	Cost          int64  `json:"cost"`
	DurationHours int64  `json:"durationHours"`
}

type receiptPayload struct {
	ProductID     string `json:"productId"`
	BoostType     string `json:"boostType"`
	Cost          int64  `json:"cost"`
	EndsAt        string `json:"endsAt"`
	TransactionID string `json:"transactionId"`
}

func (handler *httpHandler) handlePackages(ctx *gin.Context) {
	packages := ledger.Packages()
	packagePayloads := make([]packagePayload, 0, len(packages))
	for _, creditPackage := range packages {
		packagePayloads = append(packagePayloads, packagePayload{
			ID:      creditPackage.ID,
			Name:    creditPackage.Name,
			Credits: creditPackage.Credits.Int64(),
			Bonus:   creditPackage.Bonus.Int64(),
			Price:   creditPackage.Price,
		})
	}
	tiers := boost.Tiers()
	tierPayloads := make([]boostTierPayload, 0, len(tiers))
	for _, tier := range tiers {
		tierPayloads = append(tierPayloads, boostTierPayload{
			Type:          string(tier.Tier),
			Cost:          tier.Cost.Int64(),
			DurationHours: int64(tier.Duration.Hours()),
		})
	}
	ctx.JSON(http.StatusOK, gin.H{"packages": packagePayloads, "boostTypes": tierPayloads})
}

func (handler *httpHandler) handleBalance(ctx *gin.Context) {
	userID, ok := handler.callerUserID(ctx)
	if !ok {
		return
	}
	balance, err := handler.ledger.Balance(ctx.Request.Context(), userID)
	if err != nil {
		handler.respondError(ctx, "balance", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"balance": toBalancePayload(balance)})
}

func (handler *httpHandler) handleHistory(ctx *gin.Context) {
	userID, ok := handler.callerUserID(ctx)
	if !ok {
		return
	}
	limit, offset, ok := pagination(ctx)
	if !ok {
		return
	}
	transactions, err := handler.ledger.ListTransactions(ctx.Request.Context(), userID, limit, offset)
	if err != nil {
		handler.respondError(ctx, "history", err)
		return
	}
	payloads := make([]transactionPayload, 0, len(transactions))
	for _, transaction := range transactions {
		payloads = append(payloads, toTransactionPayload(transaction))
	}
	ctx.JSON(http.StatusOK, gin.H{"transactions": payloads})
}

func (handler *httpHandler) handlePurchase(ctx *gin.Context) {
	userID, ok := handler.callerUserID(ctx)
	if !ok {
		return
	}
	var request purchaseRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	if request.Amount < 1 || request.Amount > handler.maxPurchaseCredits {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_amount", fmt.Sprintf("amount must be between 1 and %d", handler.maxPurchaseCredits)))
		return
	}
	amount, err := ledger.NewCredits(request.Amount)
	if err != nil {
		handler.respondError(ctx, "purchase", err)
		return
	}
	method, err := ledger.NewPaymentMethod(request.PaymentMethod)
	if err != nil {
		handler.respondError(ctx, "purchase", err)
		return
	}
	var idempotencyKey ledger.IdempotencyKey
	if raw := strings.TrimSpace(ctx.GetHeader(idempotencyHeader)); raw != "" {
		idempotencyKey, err = ledger.NewIdempotencyKey(raw)
		if err != nil {
			handler.respondError(ctx, "purchase", err)
			return
		}
	}
	transaction, err := handler.ledger.Purchase(ctx.Request.Context(), userID, amount, method, idempotencyKey)
	if err != nil {
		handler.respondError(ctx, "purchase", err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{
		"message":     fmt.Sprintf("%d credits purchased", amount),
		"transaction": toTransactionPayload(transaction),
	})
}

func (handler *httpHandler) handleBoost(ctx *gin.Context) {
	userID, ok := handler.callerUserID(ctx)
	if !ok {
		return
	}
	var request boostRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	if strings.TrimSpace(request.ProductID) == "" {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_request", "productId is required"))
		return
	}
	tier, err := boost.ParseTier(request.BoostType)
	if err != nil {
		handler.respondError(ctx, "boost", err)
		return
	}
	receipt, err := handler.boosts.Boost(ctx.Request.Context(), userID, strings.TrimSpace(request.ProductID), tier)
	if err != nil {
		handler.respondError(ctx, "boost", err)
		return
	}
	balance, err := handler.ledger.Balance(ctx.Request.Context(), userID)
	if err != nil {
		handler.respondError(ctx, "boost", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"message": fmt.Sprintf("listing boosted (%s)", receipt.Tier),
		"boost": receiptPayload{
			ProductID:     receipt.ProductID,
			BoostType:     string(receipt.Tier),
			Cost:          receipt.Cost.Int64(),
			EndsAt:        formatTime(receipt.EndsAt),
			TransactionID: receipt.TransactionID,
		},
		"balance": toBalancePayload(balance),
	})
}

func (handler *httpHandler) handleEarn(ctx *gin.Context) {
	handler.handleAdjustment(ctx, "earn")
}

func (handler *httpHandler) handleRefund(ctx *gin.Context) {
	handler.handleAdjustment(ctx, "refund")
}

// handleAdjustment credits or debits the target user, defaulting to the caller.
func (handler *httpHandler) handleAdjustment(ctx *gin.Context, operation string) {
	var request adjustmentRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	target := strings.TrimSpace(request.UserID)
	if target == "" {
		target, _ = caller(ctx)
	}
	userID, err := ledger.NewUserID(target)
	if err != nil {
		handler.respondError(ctx, operation, err)
		return
	}
	amount, err := ledger.NewCredits(request.Amount)
	if err != nil {
		handler.respondError(ctx, operation, err)
		return
	}
	reason := strings.TrimSpace(request.Reason)
	if reason == "" {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_request", "reason is required"))
		return
	}

	var transaction ledger.Transaction
	if operation == "earn" {
		transaction, err = handler.ledger.Earn(ctx.Request.Context(), userID, amount, reason)
	} else {
		transaction, err = handler.ledger.Refund(ctx.Request.Context(), userID, amount, reason)
	}
	if err != nil {
		handler.respondError(ctx, operation, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{
		"message":     fmt.Sprintf("%s of %d credits recorded", operation, amount),
		"transaction": toTransactionPayload(transaction),
	})
}

func (handler *httpHandler) callerUserID(ctx *gin.Context) (ledger.UserID, bool) {
	raw, _ := caller(ctx)
	userID, err := ledger.NewUserID(raw)
	if err != nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing user"))
		return ledger.UserID{}, false
	}
	return userID, true
}

func pagination(ctx *gin.Context) (int, int, bool) {
	limit, err := queryInt(ctx, "limit")
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_request", "limit must be an integer"))
		return 0, 0, false
	}
	offset, err := queryInt(ctx, "offset")
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_request", "offset must be an integer"))
		return 0, 0, false
	}
	return limit, offset, true
}

func queryInt(ctx *gin.Context, name string) (int, error) {
	raw := strings.TrimSpace(ctx.Query(name))
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}

func toBalancePayload(balance ledger.Balance) balancePayload {
	return balancePayload{
		UserID:      balance.UserID,
		Balance:     balance.Balance.Int64(),
		TotalEarned: balance.TotalEarned.Int64(),
		TotalSpent:  balance.TotalSpent.Int64(),
	}
}

func toTransactionPayload(transaction ledger.Transaction) transactionPayload {
	return transactionPayload{
		ID:             transaction.ID,
		UserID:         transaction.UserID,
		Type:           string(transaction.Type),
		Amount:         transaction.Amount.Int64(),
		Description:    transaction.Description,
		PaymentMethod:  string(transaction.PaymentMethod),
		IdempotencyKey: transaction.IdempotencyKey,
		Metadata:       rawJSON(transaction.MetadataJSON),
		CreatedUnixUTC: transaction.CreatedUnixUTC,
	}
}
