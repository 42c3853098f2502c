package models

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "catalogsync/pkg/errors"
)

func validProduct() *Product {
	return &Product{
		ImageID:        "img-001",
		Handle:         "wolf-hoodie",
		HandleFragment: "wolf-hoodie",
		Category:       CategoryHoodie,
		PriceBand:      PriceBandCore,
		View:           ViewFront,
		ConceptName:    "Wolf",
		Title:          "Wolf Hoodie",
		Description:    "A hoodie with a wolf on it.",
		PriceINR:       1499,
	}
}

func positions(imgs []Image) []int {
	out := make([]int, 0, len(imgs))
	for _, img := range imgs {
		out = append(out, img.Position)
	}
	return out
}

func TestValidate(t *testing.T) {
	require.NoError(t, validProduct().Validate())

	p := validProduct()
	p.ImageID = ""
	p.Category = "Sock"
	p.Handle = "Not A Slug"
	err := p.Validate()
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))

	var verr *apperrors.ErrValidation
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "image_id")
	assert.Contains(t, verr.Fields, "category")
	assert.Contains(t, verr.Fields, "handle")
}

func TestValidateBadgeAndScore(t *testing.T) {
	p := validProduct()
	p.Badge = BadgeUnder999
	p.VisualCoolnessScore = 0.8
	require.NoError(t, p.Validate())

	p.Badge = "Clearance"
	p.VisualCoolnessScore = 1.2
	var verr *apperrors.ErrValidation
	require.ErrorAs(t, p.Validate(), &verr)
	assert.Contains(t, verr.Fields, "badge")
	assert.Contains(t, verr.Fields, "visual_coolness_score")
}

func TestApplyDefaults(t *testing.T) {
	p := validProduct()
	p.Description = strings.Repeat("x", 200)
	p.ApplyDefaults()

	assert.NotEmpty(t, p.ID)
	assert.True(t, strings.HasPrefix(p.SKU, "OG-HOODIE-WOLF-HOODIE-"), p.SKU)
	assert.Equal(t, StatusDraft, p.Status)
	assert.Equal(t, "Wolf Hoodie", p.MetaTitle)
	assert.Len(t, p.MetaDescription, MetaDescriptionLength)
}

func TestApplyDefaultsKeepsExistingSKU(t *testing.T) {
	p := validProduct()
	p.SKU = "OG-CUSTOM-1"
	p.ApplyDefaults()
	assert.Equal(t, "OG-CUSTOM-1", p.SKU)
}

func TestNewSKUUnique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 1000; i++ {
		sku := NewSKU(CategoryTee, "frag")
		require.False(t, seen[sku], "duplicate sku %s", sku)
		seen[sku] = true
	}
}

func TestRemoveImageReindexes(t *testing.T) {
	p := validProduct()
	p.AppendImages([]Image{{URL: "a"}, {URL: "b"}, {URL: "c"}})
	assert.Equal(t, []int{1, 2, 3}, positions(p.Images))

	removed, err := p.RemoveImage(1)
	require.NoError(t, err)
	assert.Equal(t, "b", removed.URL)
	assert.Equal(t, []int{1, 2}, positions(p.Images))
	assert.Equal(t, "c", p.Images[1].URL)

	_, err = p.RemoveImage(5)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestReorderImages(t *testing.T) {
	p := validProduct()
	p.AppendImages([]Image{{URL: "a"}, {URL: "b"}, {URL: "c"}})

	require.NoError(t, p.ReorderImages([]int{2, 0, 1}))
	assert.Equal(t, "c", p.Images[0].URL)
	assert.Equal(t, "a", p.Images[1].URL)
	assert.Equal(t, []int{1, 2, 3}, positions(p.Images))

	assert.Error(t, p.ReorderImages([]int{0, 0, 1}))
	assert.Error(t, p.ReorderImages([]int{0, 1}))
}

func TestReplaceViewImages(t *testing.T) {
	p := validProduct()
	p.AppendImages([]Image{
		{URL: "f1", ViewType: ViewFront},
		{URL: "b1", ViewType: ViewBack},
		{URL: "f2", ViewType: ViewFront},
	})

	p.ReplaceViewImages(ViewFront, []Image{{URL: "f3", ViewType: ViewFront}})
	require.Len(t, p.Images, 2)
	assert.Equal(t, "b1", p.Images[0].URL)
	assert.Equal(t, "f3", p.Images[1].URL)
	assert.Equal(t, []int{1, 2}, positions(p.Images))
}

func TestNormalizeImages(t *testing.T) {
	p := validProduct()
	p.Images = []Image{{URL: "x", Position: 0}, {URL: "c", Position: 7}, {URL: "a", Position: 2}}
	p.NormalizeImages()

	assert.Equal(t, []string{"a", "c", "x"}, []string{p.Images[0].URL, p.Images[1].URL, p.Images[2].URL})
	assert.Equal(t, []int{1, 2, 3}, positions(p.Images))
}

func TestCloneDoesNotShareState(t *testing.T) {
	p := validProduct()
	shopifyID := "8001"
	synced := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	p.ShopifyProductID = &shopifyID
	p.LastSynced = &synced
	p.Tags = []string{"wolf"}
	p.Images = []Image{{URL: "/a.png", Position: 1}}

	c := p.Clone()
	require.NoError(t, json.Unmarshal([]byte(`{"shopify_product_id":"9999","last_synced":"2030-01-01T00:00:00Z"}`), c))
	c.Tags[0] = "tiger"
	c.Images[0].URL = "/b.png"

	assert.Equal(t, "9999", *c.ShopifyProductID)
	assert.Equal(t, "8001", *p.ShopifyProductID)
	assert.True(t, synced.Equal(*p.LastSynced))
	assert.Equal(t, "wolf", p.Tags[0])
	assert.Equal(t, "/a.png", p.Images[0].URL)
}
