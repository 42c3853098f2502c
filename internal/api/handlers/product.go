package handlers

import (
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"catalogsync/internal/events"
	"catalogsync/internal/images"
	"catalogsync/internal/models"
	"catalogsync/internal/repository"
	apperrors "catalogsync/pkg/errors"
)

type ProductHandler struct {
	store     repository.ProductStore
	library   *images.Library
	publisher events.Publisher
	logger    *zap.Logger
}

func NewProductHandler(store repository.ProductStore, library *images.Library, publisher events.Publisher, logger *zap.Logger) *ProductHandler {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &ProductHandler{
		store:     store,
		library:   library,
		publisher: publisher,
		logger:    logger,
	}
}

func (h *ProductHandler) notify(c *gin.Context, typ string, p *models.Product) {
	if err := h.publisher.Publish(c.Request.Context(), events.ProductChanged(typ, p)); err != nil {
		h.logger.Warn("failed to publish product event", zap.String("type", typ), zap.String("product_id", p.ID), zap.Error(err))
	}
}

func (h *ProductHandler) List(c *gin.Context) {
	var query repository.Query
	if err := c.ShouldBindQuery(&query); err != nil {
		badRequest(c, err)
		return
	}

	page, err := h.store.FindMany(c.Request.Context(), query)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *ProductHandler) Stats(c *gin.Context) {
	stats, err := h.store.Stats(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": stats})
}

func (h *ProductHandler) Get(c *gin.Context) {
	product, err := h.store.FindByKey(c.Request.Context(), repository.KeyID, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": product})
}

func (h *ProductHandler) Create(c *gin.Context) {
	var product models.Product
	if err := c.ShouldBindJSON(&product); err != nil {
		badRequest(c, err)
		return
	}
	if product.Status == models.StatusSynced {
		respondError(c, syncedStatusError())
		return
	}
	product.ID = ""
	product.ShopifyProductID = nil
	product.ShopifyVariantID = nil
	product.LastSynced = nil

	if err := h.store.Create(c.Request.Context(), &product); err != nil {
		respondError(c, err)
		return
	}
	h.logger.Info("product created", zap.String("product_id", product.ID), zap.String("image_id", product.ImageID))
	h.notify(c, events.TypeProductCreated, &product)
	c.JSON(http.StatusCreated, gin.H{"data": product})
}

// Update replaces the editable fields of a product. Identity, timestamps and
// the Shopify link are kept from the stored record.
func (h *ProductHandler) Update(c *gin.Context) {
	ctx := c.Request.Context()
	existing, err := h.store.FindByKey(ctx, repository.KeyID, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	product := existing.Clone()
	if err := c.ShouldBindJSON(product); err != nil {
		badRequest(c, err)
		return
	}
	if product.Status == models.StatusSynced && existing.Status != models.StatusSynced {
		respondError(c, syncedStatusError())
		return
	}
	product.ID = existing.ID
	product.CreatedAt = existing.CreatedAt
	product.ShopifyProductID = existing.ShopifyProductID
	product.ShopifyVariantID = existing.ShopifyVariantID
	product.LastSynced = existing.LastSynced
	if product.SKU == "" {
		product.SKU = existing.SKU
	}

	if err := h.store.Update(ctx, product); err != nil {
		respondError(c, err)
		return
	}
	h.notify(c, events.TypeProductUpdated, product)
	c.JSON(http.StatusOK, gin.H{"data": product})
}

func (h *ProductHandler) UpdateStatus(c *gin.Context) {
	var request struct {
		Status models.Status `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		badRequest(c, err)
		return
	}
	if request.Status == models.StatusSynced {
		respondError(c, syncedStatusError())
		return
	}

	h.patch(c, func(p *models.Product) { p.Status = request.Status })
}

func (h *ProductHandler) Publish(c *gin.Context) {
	var request struct {
		IsPublished *bool `json:"is_published" binding:"required"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		badRequest(c, err)
		return
	}

	h.patch(c, func(p *models.Product) { p.IsPublished = *request.IsPublished })
}

func (h *ProductHandler) patch(c *gin.Context, apply func(*models.Product)) {
	ctx := c.Request.Context()
	product, err := h.store.FindByKey(ctx, repository.KeyID, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	apply(product)
	if err := h.store.Update(ctx, product); err != nil {
		respondError(c, err)
		return
	}
	h.notify(c, events.TypeProductUpdated, product)
	c.JSON(http.StatusOK, gin.H{"data": product})
}

func (h *ProductHandler) Delete(c *gin.Context) {
	if err := h.store.Delete(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// UploadImages accepts multipart files in the "images" field. view_type
// defaults to front; replace=true drops that view's current images first.
func (h *ProductHandler) UploadImages(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		badRequest(c, err)
		return
	}

	view := models.View(c.DefaultPostForm("view_type", string(models.ViewFront)))
	replace, _ := strconv.ParseBool(c.PostForm("replace"))

	headers := form.File["images"]
	uploads := make([]images.Upload, 0, len(headers))
	for _, fh := range headers {
		uploads = append(uploads, images.Upload{
			Filename: fh.Filename,
			Size:     fh.Size,
			Open:     opener(fh),
		})
	}

	product, err := h.library.Upload(c.Request.Context(), c.Param("id"), view, uploads, replace)
	if err != nil {
		respondError(c, err)
		return
	}
	h.notify(c, events.TypeProductUpdated, product)
	c.JSON(http.StatusOK, gin.H{"data": product})
}

func opener(fh *multipart.FileHeader) func() (io.ReadCloser, error) {
	return func() (io.ReadCloser, error) { return fh.Open() }
}

func (h *ProductHandler) DeleteImage(c *gin.Context) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		respondError(c, &apperrors.ErrValidation{Message: "image index must be a number", Fields: map[string]string{"index": "invalid"}})
		return
	}

	product, err := h.library.Remove(c.Request.Context(), c.Param("id"), index)
	if err != nil {
		respondError(c, err)
		return
	}
	h.notify(c, events.TypeProductUpdated, product)
	c.JSON(http.StatusOK, gin.H{"data": product})
}

func (h *ProductHandler) ReorderImages(c *gin.Context) {
	var request struct {
		Order []int `json:"order" binding:"required"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		badRequest(c, err)
		return
	}

	product, err := h.library.Reorder(c.Request.Context(), c.Param("id"), request.Order)
	if err != nil {
		respondError(c, err)
		return
	}
	h.notify(c, events.TypeProductUpdated, product)
	c.JSON(http.StatusOK, gin.H{"data": product})
}

func syncedStatusError() error {
	return &apperrors.ErrValidation{
		Message: "status synced is set by the shopify sync",
		Fields:  map[string]string{"status": "cannot be set to synced"},
	}
}
