package models

import (
	"fmt"
	"slices"
	"sort"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"gorm.io/datatypes"

	apperrors "catalogsync/pkg/errors"
)

type Category string

const (
	CategoryTee        Category = "Tee"
	CategoryHoodie     Category = "Hoodie"
	CategoryCap        Category = "Cap"
	CategorySlide      Category = "Slide"
	CategorySweatshirt Category = "Sweatshirt"
	CategoryFullShirt  Category = "FullShirt"
	CategoryHat        Category = "Hat"
	CategoryPoster     Category = "Poster"
	CategorySlipper    Category = "Slipper"
	CategoryWallet     Category = "Wallet"
	CategoryHeadBand   Category = "HeadBand"
)

var Categories = []Category{
	CategoryTee, CategoryHoodie, CategoryCap, CategorySlide, CategorySweatshirt,
	CategoryFullShirt, CategoryHat, CategoryPoster, CategorySlipper, CategoryWallet, CategoryHeadBand,
}

type PriceBand string

const (
	PriceBandBudget  PriceBand = "BUDGET"
	PriceBandCore    PriceBand = "CORE"
	PriceBandPremium PriceBand = "PREMIUM"
)

type View string

const (
	ViewFront  View = "front"
	ViewBack   View = "back"
	ViewDetail View = "detail"
)

type Status string

const (
	StatusDraft    Status = "draft"
	StatusActive   Status = "active"
	StatusArchived Status = "archived"
	StatusSynced   Status = "synced"
)

var Statuses = []Status{StatusDraft, StatusActive, StatusArchived, StatusSynced}

type Badge string

const (
	BadgeRebelDrop      Badge = "Rebel Drop"
	BadgeUnder999       Badge = "Under ₹999"
	BadgePremium        Badge = "Premium"
	BadgeLimitedEdition Badge = "Limited Edition"
)

// MetaDescriptionLength is the number of description characters copied into
// meta_description when none is provided.
const MetaDescriptionLength = 160

type Product struct {
	ID             string `json:"id" gorm:"type:varchar(36);primaryKey" bson:"_id"`
	ImageID        string `json:"image_id" gorm:"uniqueIndex;not null" bson:"image_id"`
	Handle         string `json:"handle" gorm:"uniqueIndex;not null" bson:"handle"`
	HandleFragment string `json:"handle_fragment" gorm:"index;not null" bson:"handle_fragment"`
	SKU            string `json:"sku" gorm:"uniqueIndex;not null" bson:"sku"`

	Category  Category  `json:"category" gorm:"index:idx_products_category_status,priority:1;not null" bson:"category"`
	PriceBand PriceBand `json:"price_band" gorm:"index" bson:"price_band"`
	View      View      `json:"view" bson:"view"`

	ConceptName         string                            `json:"concept_name" bson:"concept_name"`
	Title               string                            `json:"title" gorm:"not null" bson:"title"`
	Description         string                            `json:"description" bson:"description"`
	Palette             datatypes.JSONSlice[PaletteColor] `json:"palette" bson:"palette"`
	Tags                datatypes.JSONSlice[string]       `json:"tags" bson:"tags"`
	Badge               Badge                             `json:"badge,omitempty" bson:"badge,omitempty"`
	VisualCoolnessScore float64                           `json:"visual_coolness_score" gorm:"index:idx_products_coolness,sort:desc" bson:"visual_coolness_score"`
	HeroCardReady       bool                              `json:"hero_card_ready" bson:"hero_card_ready"`
	AnalyzedAt          *time.Time                        `json:"analyzed_at,omitempty" bson:"analyzed_at,omitempty"`

	PriceINR          float64    `json:"price_inr" bson:"price_inr"`
	InventoryQuantity int        `json:"inventory_quantity" bson:"inventory_quantity"`
	Weight            float64    `json:"weight" bson:"weight"`
	Dimensions        Dimensions `json:"dimensions" gorm:"embedded;embeddedPrefix:dim_" bson:"dimensions"`
	ShopifyProductID  *string    `json:"shopify_product_id,omitempty" gorm:"index" bson:"shopify_product_id,omitempty"`
	ShopifyVariantID  *string    `json:"shopify_variant_id,omitempty" bson:"shopify_variant_id,omitempty"`

	Images datatypes.JSONSlice[Image] `json:"images" bson:"images"`

	Status      Status     `json:"status" gorm:"index:idx_products_category_status,priority:2;not null;default:draft" bson:"status"`
	IsPublished bool       `json:"is_published" bson:"is_published"`
	CreatedAt   time.Time  `json:"created_at" gorm:"autoCreateTime:false;index:idx_products_created_at,sort:desc" bson:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" gorm:"autoUpdateTime:false" bson:"updated_at"`
	LastSynced  *time.Time `json:"last_synced,omitempty" bson:"last_synced,omitempty"`

	MetaTitle       string `json:"meta_title" bson:"meta_title"`
	MetaDescription string `json:"meta_description" bson:"meta_description"`
}

type PaletteColor struct {
	Name string `json:"name" bson:"name"`
	Hex  string `json:"hex" bson:"hex"`
}

type Dimensions struct {
	Length float64 `json:"length" bson:"length"`
	Width  float64 `json:"width" bson:"width"`
	Height float64 `json:"height" bson:"height"`
}

type Image struct {
	URL      string `json:"url" bson:"url"`
	AltText  string `json:"alt_text" bson:"alt_text"`
	Position int    `json:"position" bson:"position"`
	ViewType View   `json:"view_type,omitempty" bson:"view_type,omitempty"`
	FileSize int64  `json:"file_size,omitempty" bson:"file_size,omitempty"`
	MimeType string `json:"mime_type,omitempty" bson:"mime_type,omitempty"`
}

func (Product) TableName() string { return "products" }

// IsSyncedToShopify reports whether the record carries a Shopify product id.
func (p *Product) IsSyncedToShopify() bool {
	return p.ShopifyProductID != nil && *p.ShopifyProductID != ""
}

// Clone returns a deep copy. Decoding into the copy never writes through to p.
func (p *Product) Clone() *Product {
	c := *p
	c.Palette = append(p.Palette[:0:0], p.Palette...)
	c.Tags = append(p.Tags[:0:0], p.Tags...)
	c.Images = append(p.Images[:0:0], p.Images...)
	c.AnalyzedAt = clonePtr(p.AnalyzedAt)
	c.ShopifyProductID = clonePtr(p.ShopifyProductID)
	c.ShopifyVariantID = clonePtr(p.ShopifyVariantID)
	c.LastSynced = clonePtr(p.LastSynced)
	return &c
}

func clonePtr[T any](v *T) *T {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

// ApplyDefaults fills the fields a new record gets when absent: id, sku,
// status and SEO fields. Timestamps are left to the store.
func (p *Product) ApplyDefaults() {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.SKU == "" && p.Category != "" && p.HandleFragment != "" {
		p.SKU = NewSKU(p.Category, p.HandleFragment)
	}
	if p.Status == "" {
		p.Status = StatusDraft
	}
	if p.MetaTitle == "" {
		p.MetaTitle = p.Title
	}
	if p.MetaDescription == "" {
		p.MetaDescription = truncateRunes(p.Description, MetaDescriptionLength)
	}
}

// Validate checks required fields and enum membership.
func (p *Product) Validate() error {
	fields := map[string]string{}

	required := map[string]string{
		"image_id":        p.ImageID,
		"handle":          p.Handle,
		"handle_fragment": p.HandleFragment,
		"concept_name":    p.ConceptName,
		"title":           p.Title,
		"description":     p.Description,
	}
	for name, value := range required {
		if value == "" {
			fields[name] = "is required"
		}
	}
	if p.Handle != "" && !slug.IsSlug(p.Handle) {
		fields["handle"] = "must be a url-safe slug"
	}
	if !slices.Contains(Categories, p.Category) {
		fields["category"] = fmt.Sprintf("invalid category %q", p.Category)
	}
	switch p.PriceBand {
	case PriceBandBudget, PriceBandCore, PriceBandPremium:
	default:
		fields["price_band"] = fmt.Sprintf("invalid price band %q", p.PriceBand)
	}
	switch p.View {
	case ViewFront, ViewBack, ViewDetail:
	default:
		fields["view"] = fmt.Sprintf("invalid view %q", p.View)
	}
	if p.Status != "" && !slices.Contains(Statuses, p.Status) {
		fields["status"] = fmt.Sprintf("invalid status %q", p.Status)
	}
	switch p.Badge {
	case "", BadgeRebelDrop, BadgeUnder999, BadgePremium, BadgeLimitedEdition:
	default:
		fields["badge"] = fmt.Sprintf("invalid badge %q", p.Badge)
	}
	if p.VisualCoolnessScore < 0 || p.VisualCoolnessScore > 1 {
		fields["visual_coolness_score"] = "must be between 0 and 1"
	}
	if p.PriceINR < 0 {
		fields["price_inr"] = "must not be negative"
	}
	if p.InventoryQuantity < 0 {
		fields["inventory_quantity"] = "must not be negative"
	}

	if len(fields) == 0 {
		return nil
	}
	return &apperrors.ErrValidation{Message: validationMessage(fields), Fields: fields}
}

func validationMessage(fields map[string]string) string {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	first := names[0]
	msg := fmt.Sprintf("validation failed: %s %s", first, fields[first])
	if len(names) > 1 {
		msg += fmt.Sprintf(" (and %d more)", len(names)-1)
	}
	return msg
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
