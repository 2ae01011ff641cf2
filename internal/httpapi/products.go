package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/classifieds/internal/media"
	"github.com/MarkoPoloResearchLab/classifieds/pkg/listing"
)

const (
	multipartImagesField = "images"
	maxProductBodyBytes  = listing.MaxImages*media.MaxImageBytes + 1<<20
)

type productRequest struct {
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Images      []string        `json:"images"`
	Location    string          `json:"location"`
	Category    string          `json:"category"`
	Condition   string          `json:"condition"`
}

type productUpdateRequest struct {
	Title       *string          `json:"title"`
	Description *string          `json:"description"`
	Price       *decimal.Decimal `json:"price"`
	Images      []string         `json:"images"`
	Location    *string          `json:"location"`
	Category    *string          `json:"category"`
	Condition   *string          `json:"condition"`
}

type productPayload struct {
	ID           string   `json:"id"`
	OwnerID      string   `json:"ownerId"`
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	Price        string   `json:"price"`
	Images       []string `json:"images"`
	Location     string   `json:"location"`
	Category     string   `json:"category,omitempty"`
	Condition    string   `json:"condition,omitempty"`
	Status       string   `json:"status"`
	ExpiresAt    string   `json:"expiresAt"`
	RenewalCount int      `json:"renewalCount"`
	Views        int64    `json:"views"`
	BoostType    string   `json:"boostType,omitempty"`
	BoostEndsAt  string   `json:"boostEndsAt,omitempty"`
	CreatedAt    string   `json:"createdAt"`
	UpdatedAt    string   `json:"updatedAt"`
}

var publicStatuses = map[listing.Status]bool{
	listing.StatusApproved: true,
	listing.StatusSold:     true,
	listing.StatusExpired:  true,
}

func (handler *httpHandler) handleListProducts(ctx *gin.Context) {
	filter := listing.Filter{
		Category: ctx.Query("category"),
		Location: ctx.Query("location"),
	}
	if raw := strings.TrimSpace(ctx.Query("status")); raw != "" {
		status, err := listing.ParseStatus(raw)
		if err != nil {
			handler.respondError(ctx, "list_products", err)
			return
		}
		if !publicStatuses[status] {
			ctx.JSON(http.StatusBadRequest, errorResponse("invalid_request", fmt.Sprintf("status %s is not public", status)))
			return
		}
		filter.Status = status
	}
	for name, target := range map[string]**decimal.Decimal{"minPrice": &filter.MinPrice, "maxPrice": &filter.MaxPrice} {
		raw := strings.TrimSpace(ctx.Query(name))
		if raw == "" {
			continue
		}
		value, err := decimal.NewFromString(raw)
		if err != nil {
			ctx.JSON(http.StatusBadRequest, errorResponse("invalid_request", name+" must be a number"))
			return
		}
		*target = &value
	}
	limit, offset, ok := pagination(ctx)
	if !ok {
		return
	}
	filter.Limit = limit
	filter.Offset = offset

	listings, err := handler.listings.List(ctx.Request.Context(), filter)
	if err != nil {
		handler.respondError(ctx, "list_products", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"products": toProductPayloads(listings)})
}

// handleMyProducts lists the caller's own listings in every status unless status narrows it.
func (handler *httpHandler) handleMyProducts(ctx *gin.Context) {
	userID, _ := caller(ctx)
	filter := listing.Filter{OwnerID: userID}
	if raw := strings.TrimSpace(ctx.Query("status")); raw != "" {
		status, err := listing.ParseStatus(raw)
		if err != nil {
			handler.respondError(ctx, "my_products", err)
			return
		}
		filter.Status = status
	}
	limit, offset, ok := pagination(ctx)
	if !ok {
		return
	}
	filter.Limit = limit
	filter.Offset = offset
	listings, err := handler.listings.List(ctx.Request.Context(), filter)
	if err != nil {
		handler.respondError(ctx, "my_products", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"products": toProductPayloads(listings)})
}

func (handler *httpHandler) handleGetProduct(ctx *gin.Context) {
	product, err := handler.listings.View(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		handler.respondError(ctx, "get_product", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"product": toProductPayload(product)})
}

func (handler *httpHandler) handleRenewable(ctx *gin.Context) {
	userID, _ := caller(ctx)
	listings, err := handler.listings.Renewable(ctx.Request.Context(), userID)
	if err != nil {
		handler.respondError(ctx, "renewable_products", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"products": toProductPayloads(listings)})
}

// handleCreateProduct accepts JSON or a multipart form whose images parts are stored as media.
func (handler *httpHandler) handleCreateProduct(ctx *gin.Context) {
	userID, _ := caller(ctx)
	var (
		request productRequest
		saved   []string
		err     error
	)
	if ctx.ContentType() == gin.MIMEMultipartPOSTForm {
		ctx.Request.Body = http.MaxBytesReader(ctx.Writer, ctx.Request.Body, maxProductBodyBytes)
		request, saved, err = handler.readMultipartProduct(ctx)
		if err != nil {
			handler.discardImages(saved)
			handler.respondError(ctx, "create_product", err)
			return
		}
	} else if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON or multipart body"))
		return
	}
	if err := handler.checkUploadedImages(request.Images, nil); err != nil {
		handler.discardImages(saved)
		handler.respondError(ctx, "create_product", err)
		return
	}
	condition, err := parseCondition(request.Condition)
	if err != nil {
		handler.discardImages(saved)
		handler.respondError(ctx, "create_product", err)
		return
	}
	draft := listing.Draft{
		Title:       request.Title,
		Description: request.Description,
		Price:       request.Price,
		Images:      append(request.Images, saved...),
		Location:    request.Location,
		Category:    request.Category,
		Condition:   condition,
	}
	created, err := handler.listings.Create(ctx.Request.Context(), userID, draft)
	if err != nil {
		handler.discardImages(saved)
		handler.respondError(ctx, "create_product", err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{
		"message": "listing created and awaiting moderation",
		"product": toProductPayload(created),
	})
}

func (handler *httpHandler) readMultipartProduct(ctx *gin.Context) (productRequest, []string, error) {
	form, err := ctx.MultipartForm()
	if err != nil {
		return productRequest{}, nil, fmt.Errorf("%w: %v", listing.ErrInvalidInput, err)
	}
	request := productRequest{
		Title:       firstValue(form.Value, "title"),
		Description: firstValue(form.Value, "description"),
		Location:    firstValue(form.Value, "location"),
		Category:    firstValue(form.Value, "category"),
		Condition:   firstValue(form.Value, "condition"),
	}
	if rawPrice := strings.TrimSpace(firstValue(form.Value, "price")); rawPrice != "" {
		request.Price, err = decimal.NewFromString(rawPrice)
		if err != nil {
			return productRequest{}, nil, fmt.Errorf("%w: price must be a number", listing.ErrInvalidInput)
		}
	}
	files := form.File[multipartImagesField]
	if len(files) > listing.MaxImages {
		return productRequest{}, nil, fmt.Errorf("%w: at most %d images", listing.ErrInvalidInput, listing.MaxImages)
	}
	saved := make([]string, 0, len(files))
	for _, fileHeader := range files {
		file, err := fileHeader.Open()
		if err != nil {
			return productRequest{}, saved, err
		}
		uri, err := handler.media.Save(file)
		_ = file.Close()
		if err != nil {
			return productRequest{}, saved, fmt.Errorf("%s: %w", fileHeader.Filename, err)
		}
		saved = append(saved, uri)
	}
	return request, saved, nil
}

func (handler *httpHandler) handleUpdateProduct(ctx *gin.Context) {
	userID, _ := caller(ctx)
	var request productUpdateRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	update := listing.Update{
		Title:       request.Title,
		Description: request.Description,
		Price:       request.Price,
		Images:      request.Images,
		Location:    request.Location,
		Category:    request.Category,
	}
	if request.Condition != nil {
		condition, err := parseCondition(*request.Condition)
		if err != nil {
			handler.respondError(ctx, "update_product", err)
			return
		}
		update.Condition = &condition
	}
	var previousImages []string
	if request.Images != nil {
		current, err := handler.listings.Get(ctx.Request.Context(), ctx.Param("id"))
		if err != nil {
			handler.respondError(ctx, "update_product", err)
			return
		}
		if current.OwnerID != userID {
			handler.respondError(ctx, "update_product", listing.ErrForbidden)
			return
		}
		if err := handler.checkUploadedImages(request.Images, current.Images); err != nil {
			handler.respondError(ctx, "update_product", err)
			return
		}
		previousImages = current.Images
	}
	updated, err := handler.listings.Update(ctx.Request.Context(), ctx.Param("id"), userID, update)
	if err != nil {
		handler.respondError(ctx, "update_product", err)
		return
	}
	if request.Images != nil {
		handler.discardImages(droppedImages(previousImages, updated.Images))
	}
	ctx.JSON(http.StatusOK, gin.H{"message": "listing updated", "product": toProductPayload(updated)})
}

func (handler *httpHandler) handleDeleteProduct(ctx *gin.Context) {
	userID, _ := caller(ctx)
	deleted, err := handler.listings.Delete(ctx.Request.Context(), ctx.Param("id"), userID)
	if err != nil {
		handler.respondError(ctx, "delete_product", err)
		return
	}
	handler.discardImages(deleted.Images)
	ctx.JSON(http.StatusOK, gin.H{"message": "listing deleted"})
}

func (handler *httpHandler) handleRenewProduct(ctx *gin.Context) {
	userID, _ := caller(ctx)
	renewed, err := handler.listings.Renew(ctx.Request.Context(), ctx.Param("id"), userID)
	if err != nil {
		handler.respondError(ctx, "renew_product", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"message": fmt.Sprintf("listing renewed until %s", formatTime(renewed.ExpiresAt)),
		"product": toProductPayload(renewed),
	})
}

func (handler *httpHandler) handleMarkSold(ctx *gin.Context) {
	userID, _ := caller(ctx)
	sold, err := handler.listings.MarkSold(ctx.Request.Context(), ctx.Param("id"), userID)
	if err != nil {
		handler.respondError(ctx, "mark_sold", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"message": "listing marked as sold", "product": toProductPayload(sold)})
}

func (handler *httpHandler) handleAutoExpire(ctx *gin.Context) {
	expired, err := handler.sweeper.RunOnce(ctx.Request.Context())
	if err != nil {
		handler.respondError(ctx, "auto_expire", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"message":      fmt.Sprintf("%d listings expired", expired),
		"expiredCount": expired,
	})
}

// checkUploadedImages rejects stored media URIs that the listing did not upload itself.
// owned holds the images the listing already carries.
func (handler *httpHandler) checkUploadedImages(images []string, owned []string) error {
	for _, uri := range images {
		if !handler.media.Manages(uri) || slices.Contains(owned, uri) {
			continue
		}
		return fmt.Errorf("%w: image %s was not uploaded with this listing", listing.ErrInvalidInput, uri)
	}
	return nil
}

func droppedImages(previous []string, current []string) []string {
	var dropped []string
	for _, uri := range previous {
		if !slices.Contains(current, uri) {
			dropped = append(dropped, uri)
		}
	}
	return dropped
}

func (handler *httpHandler) discardImages(uris []string) {
	for _, uri := range uris {
		if err := handler.media.Remove(uri); err != nil {
			handler.logger.Warn("image cleanup failed", zap.String("uri", uri), zap.Error(err))
		}
	}
}

// parseCondition also accepts the French labels used by existing clients.
func parseCondition(raw string) (listing.Condition, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return "", nil
	case "new", "neuf":
		return listing.ConditionNew, nil
	case "used", "occasion":
		return listing.ConditionUsed, nil
	default:
		return "", fmt.Errorf("%w: unknown condition %q", listing.ErrInvalidInput, raw)
	}
}

func firstValue(values map[string][]string, key string) string {
	if entries := values[key]; len(entries) > 0 {
		return entries[0]
	}
	return ""
}

func toProductPayloads(listings []listing.Listing) []productPayload {
	payloads := make([]productPayload, 0, len(listings))
	for _, item := range listings {
		payloads = append(payloads, toProductPayload(item))
	}
	return payloads
}

func toProductPayload(item listing.Listing) productPayload {
	payload := productPayload{
		ID:           item.ID,
		OwnerID:      item.OwnerID,
		Title:        item.Title,
		Description:  item.Description,
		Price:        item.Price.StringFixed(2),
		Images:       item.Images,
		Location:     item.Location,
		Category:     item.Category,
		Condition:    string(item.Condition),
		Status:       string(item.Status),
		ExpiresAt:    formatTime(item.ExpiresAt),
		RenewalCount: item.RenewalCount,
		Views:        item.Views,
		CreatedAt:    formatTime(item.CreatedAt),
		UpdatedAt:    formatTime(item.UpdatedAt),
	}
	if payload.Images == nil {
		payload.Images = []string{}
	}
	if item.BoostEndsAt != nil {
		payload.BoostType = item.BoostTier
		payload.BoostEndsAt = formatTime(*item.BoostEndsAt)
	}
	return payload
}

func formatTime(value time.Time) string {
	return value.UTC().Format(time.RFC3339)
}

func rawJSON(value string) json.RawMessage {
	if strings.TrimSpace(value) == "" {
		return json.RawMessage("{}")
	}
	return json.RawMessage(value)
}
