package shopify

import (
	"time"
)

// Product represents a Shopify product. The same shape is sent on create and
// update and received back, so server-assigned fields are omitempty.
type Product struct {
	ID          int64       `json:"id,omitempty"`
	Title       string      `json:"title"`
	BodyHTML    string      `json:"body_html"`
	Vendor      string      `json:"vendor"`
	ProductType string      `json:"product_type"`
	Handle      string      `json:"handle"`
	Status      string      `json:"status"`
	Tags        string      `json:"tags"`
	Variants    []Variant   `json:"variants"`
	Images      []Image     `json:"images"`
	Metafields  []Metafield `json:"metafields,omitempty"`
	CreatedAt   *time.Time  `json:"created_at,omitempty"`
	UpdatedAt   *time.Time  `json:"updated_at,omitempty"`
	PublishedAt *time.Time  `json:"published_at,omitempty"`
}

// Variant represents a product variant
type Variant struct {
	ID                int64   `json:"id,omitempty"`
	ProductID         int64   `json:"product_id,omitempty"`
	Title             string  `json:"title,omitempty"`
	Price             string  `json:"price"`
	Sku               string  `json:"sku"`
	Position          int     `json:"position,omitempty"`
	InventoryQuantity int     `json:"inventory_quantity"`
	Weight            float64 `json:"weight"`
	WeightUnit        string  `json:"weight_unit"`
}

// Image represents a product image
type Image struct {
	ID       int64  `json:"id,omitempty"`
	Src      string `json:"src"`
	Alt      string `json:"alt"`
	Position int    `json:"position"`
}

// Metafield is a namespaced custom field attached to a product.
type Metafield struct {
	Namespace string `json:"namespace"`
	Key       string `json:"key"`
	Value     string `json:"value"`
	Type      string `json:"type"`
}

// Shop represents shop information
type Shop struct {
	ID              int64  `json:"id"`
	Name            string `json:"name"`
	Email           string `json:"email"`
	Domain          string `json:"domain"`
	MyshopifyDomain string `json:"myshopify_domain"`
	Currency        string `json:"currency"`
	IanaTimezone    string `json:"iana_timezone"`
	Timezone        string `json:"timezone"`
	PlanName        string `json:"plan_name"`
}

// ProductsResponse represents the response from products API
type ProductsResponse struct {
	Products     []Product `json:"products"`
	NextPageInfo string    `json:"next_page_info,omitempty"`
}

// WebhookPayload is the body of a products/update webhook.
type WebhookPayload struct {
	ID       int64            `json:"id"`
	Title    string           `json:"title"`
	BodyHTML string           `json:"body_html"`
	Status   string           `json:"status"`
	Variants []WebhookVariant `json:"variants"`
}

type WebhookVariant struct {
	ID                int64  `json:"id"`
	Price             string `json:"price"`
	Sku               string `json:"sku"`
	InventoryQuantity int    `json:"inventory_quantity"`
}
