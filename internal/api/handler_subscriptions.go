package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"weather-bot-backend/internal/model"
	"weather-bot-backend/internal/store"
)

type putSubscriptionRequest struct {
	Endpoint         string   `json:"endpoint" binding:"required"`
	P256DH           string   `json:"p256dh" binding:"required"`
	Auth             string   `json:"auth" binding:"required"`
	SubscribedCities []string `json:"subscribed_cities"`
}

// PutSubscription creates or replaces a web push subscription.
func (h *Handler) PutSubscription(c *gin.Context) {
	var req putSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	sub := model.Subscriber{
		Address: req.Endpoint,
		P256DH:  req.P256DH,
		Auth:    req.Auth,
	}
	if err := h.store.UpsertPushSubscriber(c.Request.Context(), &sub, req.SubscribedCities); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusCreated)
}

// GetSubscription returns the city set of an existing subscription.
func (h *Handler) GetSubscription(c *gin.Context) {
	endpoint := c.Query("endpoint")
	if endpoint == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "endpoint is required"})
		return
	}

	sub, err := h.store.PushSubscriberByEndpoint(c.Request.Context(), endpoint)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "subscription not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	cityIDs := make([]string, len(sub.Cities))
	for i, city := range sub.Cities {
		cityIDs[i] = city.ID
	}
	c.JSON(http.StatusOK, gin.H{"subscribed_cities": cityIDs})
}

type deleteSubscriptionRequest struct {
	Endpoint string `json:"endpoint" binding:"required"`
}

// DeleteSubscription removes a web push subscription.
func (h *Handler) DeleteSubscription(c *gin.Context) {
	var req deleteSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	if err := h.store.DeletePushSubscriber(c.Request.Context(), req.Endpoint); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// GetVAPIDPublicKey exposes the public key browsers need to subscribe.
func (h *Handler) GetVAPIDPublicKey(c *gin.Context) {
	if h.webpush == nil || h.webpush.VAPIDPublicKey == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "web push is not configured"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"public_key": h.webpush.VAPIDPublicKey})
}
