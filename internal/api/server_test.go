package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catalogsync/internal/app"
	"catalogsync/internal/config"
	"catalogsync/internal/events"
	"catalogsync/internal/logger"
	"catalogsync/internal/models"
	"catalogsync/internal/repository"
	"catalogsync/internal/services/shopify"
)

const webhookSecret = "whsec"

type testServer struct {
	t      *testing.T
	cfg    *config.Config
	app    *app.App
	router http.Handler
}

func newTestServer(t *testing.T, withShopify bool) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dir := t.TempDir()
	cfg := &config.Config{
		DatabaseURL:    "sqlite://" + filepath.Join(dir, "catalog.db"),
		StoreDriver:    "gorm",
		MetricsEnabled: true,
		CORSOrigins:    []string{"*"},
		Env:            "test",
		Ingest:         config.IngestConfig{SourcePath: filepath.Join(dir, "ai_products.ndjson"), LockTTL: time.Minute},
		Images: config.ImagesConfig{
			Root:      filepath.Join(dir, "designs"),
			URLPrefix: "/uploads",
			UploadDir: filepath.Join(dir, "uploads", "products"),
		},
		AutoSync: config.AutoSyncConfig{Interval: time.Hour},
		Shopify:  config.ShopifyConfig{WebhookSecret: webhookSecret},
	}

	a, err := app.New(context.Background(), cfg, logger.Nop(), app.Options{Registry: prometheus.NewRegistry()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	if withShopify {
		// Only the webhook path is exercised here, so the client is never dialled.
		client := shopify.NewClient("og-merch", "token", "", logger.Nop(), shopify.WithBaseURL("http://127.0.0.1:0"))
		a.Shopify = shopify.NewBridge(a.Store, client, shopify.NewTransformer(""), logger.Nop(), shopify.WithDelay(time.Millisecond))
	}

	return &testServer{t: t, cfg: cfg, app: a, router: New(cfg, a).GetRouter()}
}

func (s *testServer) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	s.t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(s.t, err)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func data(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	d, ok := decode(t, rec)["data"].(map[string]interface{})
	require.True(t, ok, rec.Body.String())
	return d
}

func productBody(fragment string) map[string]interface{} {
	return map[string]interface{}{
		"image_id":        "img-" + fragment,
		"handle":          fragment,
		"handle_fragment": fragment,
		"category":        "Tee",
		"price_band":      "CORE",
		"view":            "front",
		"concept_name":    "Neon Tiger",
		"title":           "Neon Tiger Tee",
		"description":     "Oversized tee with a glow print",
		"price_inr":       899,
		"tags":            []string{"tiger", "neon"},
	}
}

func (s *testServer) createProduct(fragment string) string {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/api/v1/products", productBody(fragment))
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	return data(s.t, rec)["id"].(string)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, false)

	rec := s.do(http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "ok", body["store"])
}

func TestProductLifecycle(t *testing.T) {
	s := newTestServer(t, false)
	id := s.createProduct("neon-tiger")

	rec := s.do(http.MethodGet, "/api/v1/products/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := data(t, rec)
	assert.Equal(t, "draft", got["status"])
	assert.True(t, strings.HasPrefix(got["sku"].(string), "OG-TEE-NEON-TIGER-"))
	assert.Equal(t, "Neon Tiger Tee", got["meta_title"])

	rec = s.do(http.MethodGet, "/api/v1/products?category=Tee&search=tiger&limit=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode(t, rec)
	assert.EqualValues(t, 1, page["total"])
	assert.EqualValues(t, 1, page["totalPages"])
	assert.EqualValues(t, 1, page["currentPage"])
	assert.Equal(t, false, page["hasNext"])
	assert.Len(t, page["items"], 1)

	rec = s.do(http.MethodPatch, "/api/v1/products/"+id+"/status", gin.H{"status": "synced"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPatch, "/api/v1/products/"+id+"/status", gin.H{"status": "active"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "active", data(t, rec)["status"])

	rec = s.do(http.MethodPatch, "/api/v1/products/"+id+"/publish", gin.H{"is_published": true})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, data(t, rec)["is_published"])

	update := productBody("neon-tiger")
	update["title"] = "Neon Tiger Tee v2"
	update["id"] = "ignored"
	update["status"] = "active"
	rec = s.do(http.MethodPut, "/api/v1/products/"+id, update)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got = data(t, rec)
	assert.Equal(t, id, got["id"])
	assert.Equal(t, "Neon Tiger Tee v2", got["title"])

	rec = s.do(http.MethodGet, "/api/v1/products/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, data(t, rec)["total"])

	rec = s.do(http.MethodDelete, "/api/v1/products/"+id, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(http.MethodGet, "/api/v1/products/"+id, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decode(t, rec)["kind"])
}

func TestCreateProductErrors(t *testing.T) {
	s := newTestServer(t, false)
	s.createProduct("neon-tiger")

	dup := productBody("neon-tiger")
	dup["image_id"] = "img-other"
	rec := s.do(http.MethodPost, "/api/v1/products", dup)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "duplicate_key", decode(t, rec)["kind"])

	bad := productBody("bad-one")
	bad["category"] = "Sock"
	rec = s.do(http.MethodPost, "/api/v1/products", bad)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	fields := decode(t, rec)["fields"].(map[string]interface{})
	assert.Contains(t, fields, "category")

	rec = s.do(http.MethodGet, "/api/v1/products?sort=-nope", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProductImages(t *testing.T) {
	s := newTestServer(t, false)
	id := s.createProduct("neon-tiger")

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	require.NoError(t, w.WriteField("view_type", "back"))
	for _, name := range []string{"one.jpg", "two.png"} {
		part, err := w.CreateFormFile("images", name)
		require.NoError(t, err)
		_, _ = part.Write([]byte("fake image " + name))
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/products/"+id+"/images", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	imgs := data(t, rec)["images"].([]interface{})
	require.Len(t, imgs, 2)
	first := imgs[0].(map[string]interface{})
	assert.Equal(t, "back", first["view_type"])
	assert.Equal(t, "Neon Tiger - Back View 1", first["alt_text"])
	assert.True(t, strings.HasPrefix(first["url"].(string), "/uploads/products/"+id+"/back-"))

	rec = s.do(http.MethodPost, "/api/v1/products/"+id+"/images/reorder", gin.H{"order": []int{1, 0}})
	require.Equal(t, http.StatusOK, rec.Code)
	imgs = data(t, rec)["images"].([]interface{})
	assert.Equal(t, "Neon Tiger - Back View 2", imgs[0].(map[string]interface{})["alt_text"])
	assert.EqualValues(t, 1, imgs[0].(map[string]interface{})["position"])

	rec = s.do(http.MethodPost, "/api/v1/products/"+id+"/images/reorder", gin.H{"order": []int{0, 0}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodDelete, "/api/v1/products/"+id+"/images/0", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	imgs = data(t, rec)["images"].([]interface{})
	require.Len(t, imgs, 1)
	assert.EqualValues(t, 1, imgs[0].(map[string]interface{})["position"])

	rec = s.do(http.MethodDelete, "/api/v1/products/"+id+"/images/7", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = s.do(http.MethodDelete, "/api/v1/products/"+id+"/images/first", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func writeSource(t *testing.T, path string, lines ...string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
}

func ndjsonRecord(t *testing.T, fragment string) string {
	t.Helper()
	r := productBody(fragment)
	r["analyzed_at"] = "2024-07-01T10:00:00Z"
	b, err := json.Marshal(r)
	require.NoError(t, err)
	return string(b)
}

func TestSyncEndpoints(t *testing.T) {
	s := newTestServer(t, false)
	writeSource(t, s.cfg.Ingest.SourcePath,
		ndjsonRecord(t, "neon-tiger"),
		`{"image_id": broken`,
		ndjsonRecord(t, "wolf-hoodie"),
	)

	rec := s.do(http.MethodPost, "/api/v1/sync/ai-output", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := data(t, rec)
	assert.EqualValues(t, 3, res["total"])
	assert.EqualValues(t, 2, res["created"])
	require.Len(t, res["errors"], 1)
	assert.Equal(t, "parse", res["errors"].([]interface{})[0].(map[string]interface{})["kind"])

	for _, dir := range []string{"front_view_designs/neon-tiger", "back_view_designs"} {
		require.NoError(t, os.MkdirAll(filepath.Join(s.cfg.Images.Root, dir), 0o755))
	}
	require.NoError(t, os.WriteFile(filepath.Join(s.cfg.Images.Root, "front_view_designs/neon-tiger/a.jpg"), []byte("x"), 0o644))

	rec = s.do(http.MethodPost, "/api/v1/sync/images", gin.H{"policies": gin.H{"front": "append"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.EqualValues(t, 1, data(t, rec)["updated"])

	rec = s.do(http.MethodPost, "/api/v1/sync/images", gin.H{"policies": gin.H{"front": "merge"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPost, "/api/v1/sync/full", gin.H{"ingest": gin.H{"force": true}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	full := data(t, rec)
	assert.EqualValues(t, 2, full["ai_output"].(map[string]interface{})["updated"])
	assert.EqualValues(t, 1, full["images"].(map[string]interface{})["updated"])

	rec = s.do(http.MethodGet, "/api/v1/sync/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	status := data(t, rec)
	assert.EqualValues(t, 3, status["source"].(map[string]interface{})["records"])
	assert.EqualValues(t, 2, status["products"].(map[string]interface{})["total"])
	assert.EqualValues(t, 1, status["products"].(map[string]interface{})["with_images"])

	rec = s.do(http.MethodPost, "/api/v1/sync/ai-output", gin.H{"file_path": "missing.ndjson"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSyncRejectsSourcesOutsideIngestDirectory(t *testing.T) {
	s := newTestServer(t, false)
	outside := filepath.Join(t.TempDir(), "elsewhere.ndjson")
	writeSource(t, outside, ndjsonRecord(t, "neon-tiger"))

	for _, path := range []string{"/etc/passwd", outside, "../elsewhere.ndjson", "catalog.db"} {
		rec := s.do(http.MethodPost, "/api/v1/sync/ai-output", gin.H{"file_path": path})
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
		body := decode(t, rec)
		assert.Equal(t, "validation", body["kind"], path)
		assert.NotContains(t, rec.Body.String(), "root:", path)
	}

	rec := s.do(http.MethodPost, "/api/v1/sync/full", gin.H{"ingest": gin.H{"file_path": "/etc/passwd"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	writeSource(t, filepath.Join(filepath.Dir(s.cfg.Ingest.SourcePath), "retry.ndjson"), ndjsonRecord(t, "neon-tiger"))
	rec = s.do(http.MethodPost, "/api/v1/sync/ai-output", gin.H{"file_path": "retry.ndjson"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.EqualValues(t, 1, data(t, rec)["created"])
}

func TestUpdateKeepsShopifyLink(t *testing.T) {
	s := newTestServer(t, false)
	id := s.createProduct("neon-tiger")
	ctx := context.Background()

	p, err := s.app.Store.FindByKey(ctx, repository.KeyID, id)
	require.NoError(t, err)
	shopifyID, variantID := "8001", "8002"
	syncedAt := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	p.ShopifyProductID = &shopifyID
	p.ShopifyVariantID = &variantID
	p.LastSynced = &syncedAt
	require.NoError(t, s.app.Store.Update(ctx, p))

	update := productBody("neon-tiger")
	update["title"] = "Neon Tiger Tee v3"
	update["shopify_product_id"] = "9999"
	update["shopify_variant_id"] = "9998"
	update["last_synced"] = "2031-01-01T00:00:00Z"
	rec := s.do(http.MethodPut, "/api/v1/products/"+id, update)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	got, err := s.app.Store.FindByKey(ctx, repository.KeyID, id)
	require.NoError(t, err)
	assert.Equal(t, "Neon Tiger Tee v3", got.Title)
	require.NotNil(t, got.ShopifyProductID)
	assert.Equal(t, "8001", *got.ShopifyProductID)
	require.NotNil(t, got.ShopifyVariantID)
	assert.Equal(t, "8002", *got.ShopifyVariantID)
	require.NotNil(t, got.LastSynced)
	assert.True(t, syncedAt.Equal(*got.LastSynced))
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingPublisher) Publish(_ context.Context, evs ...events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evs...)
	return nil
}

func (r *recordingPublisher) Close() error { return nil }

func TestProductRoutesPublishEvents(t *testing.T) {
	s := newTestServer(t, false)
	pub := &recordingPublisher{}
	s.app.Publisher = pub
	s.router = New(s.cfg, s.app).GetRouter()

	id := s.createProduct("neon-tiger")
	rec := s.do(http.MethodPatch, "/api/v1/products/"+id+"/status", gin.H{"status": "active"})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = s.do(http.MethodPatch, "/api/v1/products/"+id+"/status", gin.H{"status": "synced"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	require.Len(t, pub.events, 2)
	assert.Equal(t, events.TypeProductCreated, pub.events[0].Type)
	assert.Equal(t, events.TypeProductUpdated, pub.events[1].Type)
	assert.Equal(t, id, pub.events[1].ProductID)
	assert.Equal(t, "active", pub.events[1].Data["status"])
}

func TestAutoSyncEndpoints(t *testing.T) {
	s := newTestServer(t, false)

	rec := s.do(http.MethodPost, "/api/v1/sync/auto/enable", gin.H{"interval": "soon"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPost, "/api/v1/sync/auto/enable", gin.H{"interval": "30m"})
	require.Equal(t, http.StatusOK, rec.Code)
	st := data(t, rec)
	assert.Equal(t, true, st["enabled"])
	assert.EqualValues(t, 30*time.Minute, st["interval"])

	rec = s.do(http.MethodPost, "/api/v1/sync/auto/enable", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 30*time.Minute, data(t, rec)["interval"])

	rec = s.do(http.MethodGet, "/api/v1/sync/auto/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "enabled", data(t, rec)["state"])

	rec = s.do(http.MethodPost, "/api/v1/sync/auto/disable", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, data(t, rec)["enabled"])
}

func TestShopifyRoutesWithoutCredentials(t *testing.T) {
	s := newTestServer(t, false)

	for _, route := range []struct{ method, path string }{
		{http.MethodGet, "/api/v1/shopify/test"},
		{http.MethodPost, "/api/v1/shopify/sync-all"},
		{http.MethodGet, "/api/v1/shopify/sync-status"},
		{http.MethodPost, "/api/v1/shopify/webhook/product-update"},
	} {
		rec := s.do(route.method, route.path, nil)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, route.path)
	}
}

func (s *testServer) webhook(payload []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/shopify/webhook/product-update", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(shopify.HmacHeader, signature)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func TestShopifyWebhook(t *testing.T) {
	s := newTestServer(t, true)

	linked := "555"
	p := &models.Product{
		ImageID:          "img-neon-tiger",
		Handle:           "neon-tiger",
		HandleFragment:   "neon-tiger",
		Category:         models.CategoryTee,
		PriceBand:        models.PriceBandCore,
		View:             models.ViewFront,
		ConceptName:      "Neon Tiger",
		Title:            "Neon Tiger Tee",
		Description:      "Oversized tee",
		PriceINR:         899,
		ShopifyProductID: &linked,
	}
	require.NoError(t, s.app.Store.Create(context.Background(), p))

	payload := []byte(`{"id":555,"title":"Neon Tiger Tee","body_html":"<p>Glow print</p>","status":"active","variants":[{"id":5550,"price":"1099.00","sku":"","inventory_quantity":12}]}`)

	rec := s.webhook(payload, "bad")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.webhook(payload, shopify.SignWebhook(payload, webhookSecret))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, decode(t, rec)["applied"])

	got, err := s.app.Store.FindByKey(context.Background(), "id", p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1099.0, got.PriceINR)
	assert.Equal(t, 12, got.InventoryQuantity)
	assert.True(t, got.IsPublished)
	assert.Equal(t, p.SKU, got.SKU)
	require.NotNil(t, got.LastSynced)

	unknown := []byte(`{"id":999,"title":"Ghost","status":"draft"}`)
	rec = s.webhook(unknown, shopify.SignWebhook(unknown, webhookSecret))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decode(t, rec)["applied"])

	garbage := []byte(`{"id":`)
	rec = s.webhook(garbage, shopify.SignWebhook(garbage, webhookSecret))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	metrics := rec.Body.String()
	assert.Contains(t, metrics, `catalogsync_shopify_webhooks_total{result="applied"} 1`)
	assert.Contains(t, metrics, `catalogsync_shopify_webhooks_total{result="unauthorized"} 1`)
	assert.Contains(t, metrics, `catalogsync_shopify_webhooks_total{result="unknown_product"} 1`)
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t, false)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/products", nil)
	req.Header.Set("Origin", "https://og.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPatch)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), http.MethodPatch)
}
