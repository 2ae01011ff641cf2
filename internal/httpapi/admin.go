package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/MarkoPoloResearchLab/classifieds/pkg/moderation"
)

type moderationRequest struct {
	ProductID string `json:"productId"`
	Action    string `json:"action"`
	Reason    string `json:"reason"`
}

func (handler *httpHandler) handlePendingProducts(ctx *gin.Context) {
	limit, offset, ok := pagination(ctx)
	if !ok {
		return
	}
	pending, err := handler.moderation.Pending(ctx.Request.Context(), limit, offset)
	if err != nil {
		handler.respondError(ctx, "pending_products", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"products": toProductPayloads(pending)})
}

func (handler *httpHandler) handleModerate(ctx *gin.Context) {
	adminID, _ := caller(ctx)
	var request moderationRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	decision, err := handler.moderation.Moderate(ctx.Request.Context(), moderation.Request{
		ProductID: request.ProductID,
		Action:    request.Action,
		Reason:    request.Reason,
		AdminID:   adminID,
	})
	if err != nil {
		handler.respondError(ctx, "moderate", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"message": "listing " + string(decision.Listing.Status),
		"product": toProductPayload(decision.Listing),
		"reason":  decision.Reason,
	})
}

// handleStats returns listing counts keyed by status.
func (handler *httpHandler) handleStats(ctx *gin.Context) {
	stats, err := handler.listings.Stats(ctx.Request.Context())
	if err != nil {
		handler.respondError(ctx, "listing_stats", err)
		return
	}
	byStatus := make(map[string]int64, len(stats.ByStatus))
	for status, count := range stats.ByStatus {
		byStatus[string(status)] = count
	}
	ctx.JSON(http.StatusOK, gin.H{"total": stats.Total, "byStatus": byStatus})
}
