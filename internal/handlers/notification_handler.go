package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	apperrors "ledgercore/internal/errors"
	"ledgercore/internal/services"
)

// NotificationHandler serves budget alerts and the in-app notification inbox.
type NotificationHandler struct {
	notificationService services.NotificationServicer
	alertService        services.AlertServicer
}

// NewNotificationHandler creates a new NotificationHandler.
func NewNotificationHandler(notificationService services.NotificationServicer, alertService services.AlertServicer) *NotificationHandler {
	return &NotificationHandler{notificationService: notificationService, alertService: alertService}
}

// EvaluateAlertsResponse lists the alerts raised by one evaluation.
type EvaluateAlertsResponse struct {
	Triggered []services.TriggeredAlert `json:"triggered"`
}

// MarkAllReadResponse reports how many notifications were marked read.
type MarkAllReadResponse struct {
	Updated int64 `json:"updated"`
}

// EvaluateAlerts handles an on-demand alert evaluation
// @Summary     Evaluate budget alerts
// @Description Check every active budget and raise threshold or over-budget notifications not yet raised this period
// @Tags        alerts
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Success     200 {object} EvaluateAlertsResponse "Alerts raised by this evaluation"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Failure     500 {object} ErrorResponse "Server error"
// @Router      /alerts/evaluate [post]
func (h *NotificationHandler) EvaluateAlerts(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		respondWithError(c, err)
		return
	}

	triggered, err := h.alertService.Evaluate(c.Request.Context(), userID)
	if err != nil {
		respondWithError(c, err)
		return
	}
	if triggered == nil {
		triggered = []services.TriggeredAlert{}
	}

	c.JSON(http.StatusOK, EvaluateAlertsResponse{Triggered: triggered})
}

// GetNotifications handles listing notifications
// @Summary     List notifications
// @Description Get a page of notifications, newest first
// @Tags        notifications
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       unread    query bool false "Only unread notifications"
// @Param       page      query int  false "Page number (default 1)"
// @Param       page_size query int  false "Page size (default 20, max 100)"
// @Success     200 {object} pagination.PageResponse[models.Notification] "Paginated notifications"
// @Failure     400 {object} ErrorResponse "Invalid query"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Failure     500 {object} ErrorResponse "Server error"
// @Router      /notifications [get]
func (h *NotificationHandler) GetNotifications(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		respondWithError(c, err)
		return
	}

	page, err := bindPage(c)
	if err != nil {
		respondWithError(c, err)
		return
	}

	unreadOnly := false
	if v := c.Query("unread"); v != "" {
		unreadOnly, err = strconv.ParseBool(v)
		if err != nil {
			respondWithError(c, apperrors.WithMessage(apperrors.ErrInvalidInput, "unread must be true or false"))
			return
		}
	}

	result, err := h.notificationService.GetUserNotifications(c.Request.Context(), userID, page, unreadOnly)
	if err != nil {
		respondWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// MarkNotificationRead handles marking one notification read
// @Summary     Mark a notification read
// @Tags        notifications
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       id path string true "Notification ID"
// @Success     200 {object} models.Notification "Updated notification"
// @Failure     400 {object} ErrorResponse "Invalid notification ID"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Failure     404 {object} ErrorResponse "Notification not found"
// @Failure     500 {object} ErrorResponse "Server error"
// @Router      /notifications/{id}/read [put]
func (h *NotificationHandler) MarkNotificationRead(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		respondWithError(c, err)
		return
	}

	notificationID, err := parsePathID(c, "id")
	if err != nil {
		respondWithError(c, err)
		return
	}

	notification, err := h.notificationService.MarkRead(c.Request.Context(), userID, notificationID)
	if err != nil {
		respondWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"notification": notification})
}

// MarkAllNotificationsRead handles marking every notification read
// @Summary     Mark all notifications read
// @Tags        notifications
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Success     200 {object} MarkAllReadResponse "Number of notifications updated"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Failure     500 {object} ErrorResponse "Server error"
// @Router      /notifications/read-all [put]
func (h *NotificationHandler) MarkAllNotificationsRead(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		respondWithError(c, err)
		return
	}

	updated, err := h.notificationService.MarkAllRead(c.Request.Context(), userID)
	if err != nil {
		respondWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, MarkAllReadResponse{Updated: updated})
}
