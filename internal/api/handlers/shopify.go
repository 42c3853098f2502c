package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"catalogsync/internal/services/shopify"
	apperrors "catalogsync/pkg/errors"
)

// Webhook results, recorded as metric labels.
const (
	webhookApplied      = "applied"
	webhookUnknown      = "unknown_product"
	webhookUnauthorized = "unauthorized"
	webhookInvalid      = "invalid"
	webhookFailed       = "failed"
)

type WebhookRecorder interface {
	Webhook(result string)
}

type nopRecorder struct{}

func (nopRecorder) Webhook(string) {}

type ShopifyHandler struct {
	// bridge is nil when no shop is configured; every route then answers 503.
	bridge        *shopify.Bridge
	webhookSecret string
	recorder      WebhookRecorder
	logger        *zap.Logger
}

func NewShopifyHandler(bridge *shopify.Bridge, webhookSecret string, recorder WebhookRecorder, logger *zap.Logger) *ShopifyHandler {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &ShopifyHandler{
		bridge:        bridge,
		webhookSecret: webhookSecret,
		recorder:      recorder,
		logger:        logger,
	}
}

func (h *ShopifyHandler) configured(c *gin.Context) bool {
	if h.bridge != nil {
		return true
	}
	c.JSON(http.StatusServiceUnavailable, gin.H{
		"error": "shopify is not configured",
		"kind":  apperrors.KindExternalService,
	})
	return false
}

// Test checks the configured credentials against the shop.
func (h *ShopifyHandler) Test(c *gin.Context) {
	if !h.configured(c) {
		return
	}
	shop, err := h.bridge.TestConnection(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Shopify connection successful", "data": shop})
}

func (h *ShopifyHandler) SyncProduct(c *gin.Context) {
	if !h.configured(c) {
		return
	}
	res, err := h.bridge.SyncOne(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Product synced to Shopify", "data": res})
}

func (h *ShopifyHandler) SyncAll(c *gin.Context) {
	if !h.configured(c) {
		return
	}
	var request struct {
		Force bool `json:"force"`
	}
	if !bindOptionalJSON(c, &request) {
		return
	}

	res, err := h.bridge.SyncMany(c.Request.Context(), shopify.SyncManyOptions{Force: request.Force})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Shopify sync completed", "data": res})
}

// Products lists what is currently in the shop, one page at a time.
func (h *ShopifyHandler) Products(c *gin.Context) {
	if !h.configured(c) {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	res, err := h.bridge.ListRemote(c.Request.Context(), limit, c.Query("page_info"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": res})
}

func (h *ShopifyHandler) Delete(c *gin.Context) {
	if !h.configured(c) {
		return
	}
	product, err := h.bridge.Unlink(c.Request.Context(), c.Param("shopify_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Product deleted from Shopify", "data": product})
}

func (h *ShopifyHandler) SyncStatus(c *gin.Context) {
	if !h.configured(c) {
		return
	}
	status, err := h.bridge.SyncStatus(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": status})
}

// Webhook applies a products/update notification. Products the catalog does
// not know are acknowledged with 200 so that Shopify stops retrying.
func (h *ShopifyHandler) Webhook(c *gin.Context) {
	if !h.configured(c) {
		return
	}
	payload, err := c.GetRawData()
	if err != nil {
		h.recorder.Webhook(webhookInvalid)
		badRequest(c, err)
		return
	}

	if h.webhookSecret != "" && !shopify.ValidateWebhook(payload, c.GetHeader(shopify.HmacHeader), h.webhookSecret) {
		h.recorder.Webhook(webhookUnauthorized)
		h.logger.Warn("rejected shopify webhook with bad signature", zap.String("shop", c.GetHeader("X-Shopify-Shop-Domain")))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid webhook signature"})
		return
	}

	var update shopify.WebhookPayload
	if err := json.Unmarshal(payload, &update); err != nil {
		h.recorder.Webhook(webhookInvalid)
		respondError(c, &apperrors.ErrParse{Input: "webhook payload", Err: err})
		return
	}

	product, err := h.bridge.ApplyExternalUpdate(c.Request.Context(), &update)
	switch {
	case apperrors.IsNotFound(err):
		h.recorder.Webhook(webhookUnknown)
		h.logger.Info("webhook for unknown shopify product", zap.Int64("shopify_product_id", update.ID))
		c.JSON(http.StatusOK, gin.H{"received": true, "applied": false})
	case err != nil:
		h.recorder.Webhook(webhookFailed)
		h.logger.Error("failed to apply shopify webhook", zap.Int64("shopify_product_id", update.ID), zap.Error(err))
		respondError(c, err)
	default:
		h.recorder.Webhook(webhookApplied)
		c.JSON(http.StatusOK, gin.H{"received": true, "applied": true, "product_id": product.ID})
	}
}
