package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/classifieds/internal/media"
	"github.com/MarkoPoloResearchLab/classifieds/pkg/boost"
	"github.com/MarkoPoloResearchLab/classifieds/pkg/ledger"
	"github.com/MarkoPoloResearchLab/classifieds/pkg/listing"
	"github.com/MarkoPoloResearchLab/classifieds/pkg/moderation"
	"github.com/MarkoPoloResearchLab/classifieds/pkg/notify"
)

type errorMapping struct {
	target error
	status int
	code   string
}

// Order matters: ErrAlreadyModerated also matches ErrInvalidState.
var errorMappings = []errorMapping{
	{target: listing.ErrAlreadyModerated, status: http.StatusConflict, code: "already_moderated"},
	{target: listing.ErrRenewalLimitExceeded, status: http.StatusConflict, code: "renewal_limit_exceeded"},
	{target: listing.ErrInvalidState, status: http.StatusConflict, code: "invalid_state"},
	{target: ledger.ErrInsufficientBalance, status: http.StatusConflict, code: "insufficient_balance"},
	{target: ledger.ErrDuplicateIdempotencyKey, status: http.StatusConflict, code: "duplicate_request"},
	{target: listing.ErrForbidden, status: http.StatusForbidden, code: "forbidden"},
	{target: listing.ErrNotFound, status: http.StatusNotFound, code: "not_found"},
	{target: boost.ErrNotFoundOrForbidden, status: http.StatusNotFound, code: "not_found"},
	{target: notify.ErrNotFound, status: http.StatusNotFound, code: "not_found"},
	{target: listing.ErrInvalidInput, status: http.StatusBadRequest, code: "invalid_request"},
	{target: ledger.ErrInvalidCredits, status: http.StatusBadRequest, code: "invalid_amount"},
	{target: ledger.ErrInvalidUserID, status: http.StatusBadRequest, code: "invalid_request"},
	{target: ledger.ErrInvalidPaymentMethod, status: http.StatusBadRequest, code: "invalid_payment_method"},
	{target: ledger.ErrInvalidIdempotencyKey, status: http.StatusBadRequest, code: "invalid_request"},
	{target: ledger.ErrInvalidMetadataJSON, status: http.StatusBadRequest, code: "invalid_request"},
	{target: boost.ErrInvalidTier, status: http.StatusBadRequest, code: "invalid_boost_type"},
	{target: moderation.ErrInvalidAction, status: http.StatusBadRequest, code: "invalid_action"},
	{target: moderation.ErrReasonRequired, status: http.StatusBadRequest, code: "reason_required"},
	{target: notify.ErrInvalidInput, status: http.StatusBadRequest, code: "invalid_request"},
	{target: media.ErrUnsupportedImage, status: http.StatusBadRequest, code: "unsupported_image"},
	{target: media.ErrImageTooLarge, status: http.StatusRequestEntityTooLarge, code: "image_too_large"},
}

// respondError maps a domain error onto a status and error envelope. Unknown errors are logged.
func (handler *httpHandler) respondError(ctx *gin.Context, operation string, err error) {
	for _, mapping := range errorMappings {
		if errors.Is(err, mapping.target) {
			ctx.JSON(mapping.status, errorResponse(mapping.code, err.Error()))
			return
		}
	}
	userID, _ := caller(ctx)
	fields := []zap.Field{
		zap.String("operation", operation),
		zap.String("user_id", userID),
		zap.Error(err),
	}
	var operationError ledger.OperationError
	if errors.As(err, &operationError) {
		fields = append(fields, zap.String("code", operationError.Code()))
	}
	handler.logger.Error("request failed", fields...)
	ctx.JSON(http.StatusInternalServerError, errorResponse("internal_error", "internal server error"))
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}
