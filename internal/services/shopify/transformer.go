package shopify

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"catalogsync/internal/models"
	apperrors "catalogsync/pkg/errors"
)

const (
	metafieldNamespace = "og_data"
	weightUnit         = "g"
	DefaultVendor      = "OG"
)

type Transformer struct {
	vendor string
}

func NewTransformer(vendor string) *Transformer {
	if vendor == "" {
		vendor = DefaultVendor
	}
	return &Transformer{vendor: vendor}
}

// TransformToShopify maps a catalog product onto the Shopify product payload.
// The mapping is pure: equal products always give equal payloads.
func (t *Transformer) TransformToShopify(p *models.Product) (*Product, error) {
	palette := []models.PaletteColor(p.Palette)
	if palette == nil {
		palette = []models.PaletteColor{}
	}
	paletteJSON, err := json.Marshal(palette)
	if err != nil {
		return nil, fmt.Errorf("failed to encode palette: %w", err)
	}

	status := "draft"
	if p.IsPublished {
		status = "active"
	}

	images := make([]Image, 0, len(p.Images))
	for _, img := range p.Images {
		images = append(images, Image{Src: img.URL, Alt: img.AltText, Position: img.Position})
	}

	return &Product{
		Title:       p.Title,
		BodyHTML:    p.Description,
		Vendor:      t.vendor,
		ProductType: string(p.Category),
		Handle:      p.Handle,
		Status:      status,
		Tags:        strings.Join(p.Tags, ","),
		Variants: []Variant{{
			Price:             decimal.NewFromFloat(p.PriceINR).StringFixed(2),
			Sku:               p.SKU,
			InventoryQuantity: p.InventoryQuantity,
			Weight:            p.Weight,
			WeightUnit:        weightUnit,
		}},
		Images: images,
		Metafields: []Metafield{
			{Namespace: metafieldNamespace, Key: "concept_name", Value: p.ConceptName, Type: "single_line_text_field"},
			{Namespace: metafieldNamespace, Key: "visual_coolness_score", Value: strconv.FormatFloat(p.VisualCoolnessScore, 'f', -1, 64), Type: "number_decimal"},
			{Namespace: metafieldNamespace, Key: "palette", Value: string(paletteJSON), Type: "json"},
		},
	}, nil
}

// ApplyWebhook copies the fields Shopify owns from an update payload onto p.
// Applying the same payload twice leaves p unchanged.
func (t *Transformer) ApplyWebhook(p *models.Product, payload *WebhookPayload) error {
	p.Title = payload.Title
	p.Description = payload.BodyHTML
	p.IsPublished = payload.Status == "active"

	if len(payload.Variants) == 0 {
		return nil
	}
	variant := payload.Variants[0]
	if variant.Price != "" {
		price, err := decimal.NewFromString(variant.Price)
		if err != nil {
			return &apperrors.ErrValidation{
				Message: fmt.Sprintf("invalid variant price %q", variant.Price),
				Fields:  map[string]string{"variants[0].price": "must be a decimal"},
			}
		}
		p.PriceINR = price.InexactFloat64()
	}
	p.InventoryQuantity = variant.InventoryQuantity
	if variant.Sku != "" {
		p.SKU = variant.Sku
	}
	return nil
}
