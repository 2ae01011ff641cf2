package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/MarkoPoloResearchLab/classifieds/pkg/notify"
)

type markReadRequest struct {
	NotificationIDs []string `json:"notificationIds"`
}

type sendNotificationRequest struct {
	UserID  string         `json:"userId"`
	Title   string         `json:"title"`
	Message string         `json:"message"`
	Payload map[string]any `json:"payload"`
}

type notificationPayload struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data"`
	Read      bool           `json:"read"`
	CreatedAt string         `json:"createdAt"`
}

// handleListNotifications returns the inbox; read=false narrows it to unread entries.
func (handler *httpHandler) handleListNotifications(ctx *gin.Context) {
	userID, _ := caller(ctx)
	unreadOnly := false
	if raw := strings.TrimSpace(ctx.Query("read")); raw != "" {
		read, err := strconv.ParseBool(raw)
		if err != nil {
			ctx.JSON(http.StatusBadRequest, errorResponse("invalid_request", "read must be a boolean"))
			return
		}
		unreadOnly = !read
	}
	limit, offset, ok := pagination(ctx)
	if !ok {
		return
	}
	notifications, err := handler.notifications.List(ctx.Request.Context(), userID, unreadOnly, limit, offset)
	if err != nil {
		handler.respondError(ctx, "list_notifications", err)
		return
	}
	payloads := make([]notificationPayload, 0, len(notifications))
	for _, notification := range notifications {
		payloads = append(payloads, toNotificationPayload(notification))
	}
	ctx.JSON(http.StatusOK, gin.H{"notifications": payloads})
}

func (handler *httpHandler) handleUnreadCount(ctx *gin.Context) {
	userID, _ := caller(ctx)
	count, err := handler.notifications.UnreadCount(ctx.Request.Context(), userID)
	if err != nil {
		handler.respondError(ctx, "unread_count", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"count": count})
}

func (handler *httpHandler) handleMarkRead(ctx *gin.Context) {
	userID, _ := caller(ctx)
	var request markReadRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	updated, err := handler.notifications.MarkRead(ctx.Request.Context(), userID, request.NotificationIDs)
	if err != nil {
		handler.respondError(ctx, "mark_read", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"updated": updated})
}

func (handler *httpHandler) handleMarkAllRead(ctx *gin.Context) {
	userID, _ := caller(ctx)
	updated, err := handler.notifications.MarkAllRead(ctx.Request.Context(), userID)
	if err != nil {
		handler.respondError(ctx, "mark_all_read", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"updated": updated})
}

func (handler *httpHandler) handleDeleteNotification(ctx *gin.Context) {
	userID, _ := caller(ctx)
	if err := handler.notifications.Delete(ctx.Request.Context(), userID, ctx.Param("id")); err != nil {
		handler.respondError(ctx, "delete_notification", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"message": "notification deleted"})
}

func (handler *httpHandler) handleSendNotification(ctx *gin.Context) {
	var request sendNotificationRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	notification, err := handler.notifications.Send(ctx.Request.Context(), request.UserID, request.Title, request.Message, request.Payload)
	if err != nil {
		handler.respondError(ctx, "send_notification", err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"notification": toNotificationPayload(notification)})
}

func toNotificationPayload(notification notify.Notification) notificationPayload {
	data := notification.Data
	if data == nil {
		data = map[string]any{}
	}
	return notificationPayload{
		ID:        notification.ID,
		Type:      string(notification.Type),
		Title:     notification.Title,
		Message:   notification.Message,
		Data:      data,
		Read:      notification.Read,
		CreatedAt: formatTime(notification.CreatedAt),
	}
}
