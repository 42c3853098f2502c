package repository

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"catalogsync/internal/models"
	apperrors "catalogsync/pkg/errors"
)

// Key names a field that identifies a single product.
type Key string

const (
	KeyID               Key = "id"
	KeyImageID          Key = "image_id"
	KeyHandle           Key = "handle"
	KeyHandleFragment   Key = "handle_fragment"
	KeySKU              Key = "sku"
	KeyShopifyProductID Key = "shopify_product_id"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
	DefaultSort  = "-created_at"
)

// ProductStore persists catalog products. Every write refreshes updated_at and
// leaves image positions dense; inserts also fill id, sku and SEO defaults.
type ProductStore interface {
	Create(ctx context.Context, p *models.Product) error
	Update(ctx context.Context, p *models.Product) error
	// UpsertByKey inserts p, or replaces the record with the same image_id
	// keeping its id and created_at. It reports whether a record was created.
	UpsertByKey(ctx context.Context, imageID string, p *models.Product) (bool, error)
	FindByKey(ctx context.Context, key Key, value string) (*models.Product, error)
	FindMany(ctx context.Context, q Query) (*Page, error)
	FindAll(ctx context.Context, f Filter) ([]models.Product, error)
	Count(ctx context.Context, f Filter) (int64, error)
	// LatestUpdate returns the newest updated_at, or the zero time for an empty store.
	LatestUpdate(ctx context.Context) (time.Time, error)
	Delete(ctx context.Context, id string) error
	Stats(ctx context.Context) (*Stats, error)
}

type Filter struct {
	Category  models.Category  `form:"category"`
	Status    models.Status    `form:"status"`
	PriceBand models.PriceBand `form:"price_band"`
	View      models.View      `form:"view"`
	Search    string           `form:"search"`
	// Synced selects records with (true) or without (false) a Shopify id.
	Synced    *bool            `form:"synced"`
	HasImages *bool            `form:"has_images"`
}

type Query struct {
	Filter
	Sort  string `form:"sort"`
	Page  int    `form:"page"`
	Limit int    `form:"limit"`
}

type Page struct {
	Items       []models.Product `json:"items"`
	Total       int64            `json:"total"`
	TotalPages  int              `json:"totalPages"`
	CurrentPage int              `json:"currentPage"`
	HasNext     bool             `json:"hasNext"`
	HasPrev     bool             `json:"hasPrev"`
}

type Stats struct {
	Total       int64            `json:"total"`
	WithImages  int64            `json:"with_images"`
	Synced      int64            `json:"synced_to_shopify"`
	ByStatus    map[string]int64 `json:"by_status"`
	ByCategory  map[string]int64 `json:"by_category"`
	LastUpdated *time.Time       `json:"last_updated,omitempty"`
}

// sortable maps the public sort field names to stored columns.
var sortable = map[string]string{
	"created_at":            "created_at",
	"updated_at":            "updated_at",
	"title":                 "title",
	"concept_name":          "concept_name",
	"category":              "category",
	"status":                "status",
	"price_band":            "price_band",
	"price_inr":             "price_inr",
	"visual_coolness_score": "visual_coolness_score",
	"inventory_quantity":    "inventory_quantity",
	"handle":                "handle",
	"image_id":              "image_id",
	"sku":                   "sku",
	"last_synced":           "last_synced",
}

type sortSpec struct {
	Field string
	Desc  bool
}

func parseSort(raw string) (sortSpec, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		raw = DefaultSort
	}
	spec := sortSpec{}
	if strings.HasPrefix(raw, "-") {
		spec.Desc = true
		raw = raw[1:]
	}
	column, ok := sortable[raw]
	if !ok {
		return sortSpec{}, &apperrors.ErrValidation{
			Message: fmt.Sprintf("cannot sort by %q", raw),
			Fields:  map[string]string{"sort": "unknown field"},
		}
	}
	spec.Field = column
	return spec, nil
}

// normalize clamps page and limit to sane values.
func (q Query) normalize() Query {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit < 1 {
		q.Limit = DefaultLimit
	}
	if q.Limit > MaxLimit {
		q.Limit = MaxLimit
	}
	return q
}

func (q Query) offset() int {
	return (q.Page - 1) * q.Limit
}

func newPage(items []models.Product, total int64, page, limit int) *Page {
	if items == nil {
		items = []models.Product{}
	}
	totalPages := int(math.Ceil(float64(total) / float64(limit)))
	return &Page{
		Items:       items,
		Total:       total,
		TotalPages:  totalPages,
		CurrentPage: page,
		HasNext:     page < totalPages,
		HasPrev:     page > 1,
	}
}

func isKnownKey(key Key) bool {
	switch key {
	case KeyID, KeyImageID, KeyHandle, KeyHandleFragment, KeySKU, KeyShopifyProductID:
		return true
	}
	return false
}

// prepareInsert applies defaults and validation common to every backend.
func prepareInsert(p *models.Product, now time.Time) error {
	p.ApplyDefaults()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	p.NormalizeImages()
	return p.Validate()
}

func prepareUpdate(p *models.Product, now time.Time) error {
	if p.ID == "" {
		return &apperrors.ErrValidation{Message: "product id is required for update", Fields: map[string]string{"id": "is required"}}
	}
	p.ApplyDefaults()
	p.UpdatedAt = now
	p.NormalizeImages()
	return p.Validate()
}

// duplicateField guesses which unique field a driver error message refers to.
func duplicateField(msg string) string {
	msg = strings.ToLower(msg)
	for _, field := range []string{"image_id", "sku", "handle"} {
		if strings.Contains(msg, field) {
			return field
		}
	}
	return ""
}

func duplicateValue(p *models.Product, field string) string {
	switch field {
	case "image_id":
		return p.ImageID
	case "sku":
		return p.SKU
	case "handle":
		return p.Handle
	}
	return ""
}
