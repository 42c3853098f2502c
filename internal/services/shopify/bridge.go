package shopify

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strconv"
	"time"

	"go.uber.org/zap"

	"catalogsync/internal/batch"
	"catalogsync/internal/clock"
	"catalogsync/internal/events"
	"catalogsync/internal/models"
	"catalogsync/internal/repository"
	apperrors "catalogsync/pkg/errors"
)

const (
	job = "shopify"

	DefaultSyncDelay = 500 * time.Millisecond
)

// Platform is the part of the Shopify admin API the bridge depends on.
type Platform interface {
	CreateProduct(ctx context.Context, product *Product) (*Product, error)
	UpdateProduct(ctx context.Context, productID string, product *Product) (*Product, error)
	DeleteProduct(ctx context.Context, productID string) error
	ListProducts(ctx context.Context, limit int, pageInfo string) (*ProductsResponse, error)
	GetShopInfo(ctx context.Context) (*Shop, error)
}

// Bridge pushes catalog products to Shopify and applies Shopify-side edits
// back onto the catalog.
type Bridge struct {
	store       repository.ProductStore
	platform    Platform
	transformer *Transformer
	clock       clock.Clock
	logger      *zap.Logger
	observer    batch.Observer
	publisher   events.Publisher
	delay       time.Duration
}

type Option func(*Bridge)

func WithClock(c clock.Clock) Option { return func(b *Bridge) { b.clock = c } }
func WithObserver(o batch.Observer) Option { return func(b *Bridge) { b.observer = o } }
func WithPublisher(p events.Publisher) Option { return func(b *Bridge) { b.publisher = p } }
func WithDelay(d time.Duration) Option { return func(b *Bridge) { b.delay = d } }

func NewBridge(store repository.ProductStore, platform Platform, transformer *Transformer, logger *zap.Logger, opts ...Option) *Bridge {
	b := &Bridge{
		store:       store,
		platform:    platform,
		transformer: transformer,
		clock:       clock.New(),
		logger:      logger,
		publisher:   events.Nop{},
		delay:       DefaultSyncDelay,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

type SyncResult struct {
	Product          *models.Product `json:"product"`
	ShopifyProductID string          `json:"shopify_product_id"`
	Created          bool            `json:"created"`
}

type SyncError struct {
	ProductID string `json:"product_id"`
	Title     string `json:"title"`
	Error     string `json:"error"`
	Kind      string `json:"kind"`
}

type SyncManyResult struct {
	Total   int         `json:"total"`
	Synced  int         `json:"synced"`
	Updated int         `json:"updated"`
	Errors  []SyncError `json:"errors"`
}

type SyncManyOptions struct {
	// Filter defaults to active products.
	Filter *repository.Filter
	// Force also resends products that already have a Shopify id.
	Force bool
}

type SyncStatus struct {
	TotalProducts   int64            `json:"total_products"`
	SyncedProducts  int64            `json:"synced_products"`
	SyncPercentage  int              `json:"sync_percentage"`
	LastSync        *time.Time       `json:"last_sync"`
	StatusBreakdown map[string]int64 `json:"status_breakdown"`
}

// TestConnection fetches the shop to prove the credentials work.
func (b *Bridge) TestConnection(ctx context.Context) (*Shop, error) {
	return b.platform.GetShopInfo(ctx)
}

func (b *Bridge) ListRemote(ctx context.Context, limit int, pageInfo string) (*ProductsResponse, error) {
	if limit < 1 || limit > 250 {
		limit = 50
	}
	return b.platform.ListProducts(ctx, limit, pageInfo)
}

// SyncOne creates the product in Shopify, or updates it when it already
// carries a Shopify id. On failure the stored record is left untouched.
func (b *Bridge) SyncOne(ctx context.Context, productID string) (*SyncResult, error) {
	p, err := b.store.FindByKey(ctx, repository.KeyID, productID)
	if err != nil {
		return nil, err
	}
	return b.sync(ctx, p)
}

func (b *Bridge) sync(ctx context.Context, p *models.Product) (*SyncResult, error) {
	payload, err := b.transformer.TransformToShopify(p)
	if err != nil {
		return nil, fmt.Errorf("sync product %s (%s): %w", p.ID, p.Title, err)
	}

	created := !p.IsSyncedToShopify()
	var remote *Product
	if created {
		remote, err = b.platform.CreateProduct(ctx, payload)
	} else {
		remote, err = b.platform.UpdateProduct(ctx, *p.ShopifyProductID, payload)
	}
	if err != nil {
		return nil, fmt.Errorf("sync product %s (%s): %w", p.ID, p.Title, err)
	}

	updated := *p
	if created {
		if remote == nil || remote.ID == 0 {
			return nil, fmt.Errorf("sync product %s (%s): %w", p.ID, p.Title,
				&apperrors.ErrExternalService{Service: serviceName, Message: "create response carried no product id"})
		}
		externalID := strconv.FormatInt(remote.ID, 10)
		updated.ShopifyProductID = &externalID
		if len(remote.Variants) > 0 && remote.Variants[0].ID != 0 {
			variantID := strconv.FormatInt(remote.Variants[0].ID, 10)
			updated.ShopifyVariantID = &variantID
		}
	}
	now := b.clock.Now()
	updated.Status = models.StatusSynced
	updated.LastSynced = &now

	if err := b.store.Update(ctx, &updated); err != nil {
		return nil, fmt.Errorf("record sync of product %s: %w", p.ID, err)
	}

	b.logger.Info("product synced to shopify",
		zap.String("product_id", updated.ID),
		zap.String("shopify_product_id", *updated.ShopifyProductID),
		zap.Bool("created", created),
	)
	if err := b.publisher.Publish(ctx, events.Event{
		Type:      events.TypeProductSynced,
		ProductID: updated.ID,
		Data:      map[string]interface{}{"shopify_product_id": *updated.ShopifyProductID, "created": created},
		Timestamp: now,
	}); err != nil {
		b.logger.Warn("failed to publish sync event", zap.String("product_id", updated.ID), zap.Error(err))
	}

	return &SyncResult{Product: &updated, ShopifyProductID: *updated.ShopifyProductID, Created: created}, nil
}

// SyncMany pushes every selected product one at a time, waiting the
// configured delay between calls to stay under Shopify's rate limit.
func (b *Bridge) SyncMany(ctx context.Context, opts SyncManyOptions) (*SyncManyResult, error) {
	filter := repository.Filter{Status: models.StatusActive}
	if opts.Filter != nil {
		filter = *opts.Filter
	}
	if !opts.Force {
		unsynced := false
		filter.Synced = &unsynced
	}

	products, err := b.store.FindAll(ctx, filter)
	if err != nil {
		return nil, err
	}
	titles := make(map[string]string, len(products))
	for _, p := range products {
		titles[p.ID] = p.Title
	}

	report, runErr := batch.Run(ctx, job, slices.Values(products), productSyncer{bridge: b}, batch.Options{
		Delay:    b.delay,
		Observer: b.observer,
	})

	res := &SyncManyResult{
		Total:   report.Total,
		Synced:  report.Count(batch.OutcomeCreated),
		Updated: report.Count(batch.OutcomeUpdated),
		Errors:  make([]SyncError, 0, len(report.Failures)),
	}
	for _, failure := range report.Failures {
		res.Errors = append(res.Errors, SyncError{
			ProductID: failure.Item,
			Title:     titles[failure.Item],
			Error:     failure.Error,
			Kind:      failure.Kind,
		})
	}

	b.logger.Info("shopify sync finished",
		zap.Int("total", res.Total),
		zap.Int("synced", res.Synced),
		zap.Int("updated", res.Updated),
		zap.Int("errors", len(res.Errors)),
		zap.Bool("force", opts.Force),
	)
	return res, runErr
}

type productSyncer struct {
	bridge *Bridge
}

func (s productSyncer) Describe(p models.Product) string { return p.ID }

func (s productSyncer) Handle(ctx context.Context, p models.Product) (batch.Outcome, error) {
	res, err := s.bridge.sync(ctx, &p)
	if err != nil {
		return "", err
	}
	if res.Created {
		return batch.OutcomeCreated, nil
	}
	return batch.OutcomeUpdated, nil
}

// ApplyExternalUpdate applies a products/update webhook to the product linked
// to payload.ID. Unknown ids yield ErrNotFound.
func (b *Bridge) ApplyExternalUpdate(ctx context.Context, payload *WebhookPayload) (*models.Product, error) {
	if payload.ID == 0 {
		return nil, &apperrors.ErrValidation{Message: "webhook payload has no product id", Fields: map[string]string{"id": "is required"}}
	}
	externalID := strconv.FormatInt(payload.ID, 10)
	p, err := b.store.FindByKey(ctx, repository.KeyShopifyProductID, externalID)
	if err != nil {
		return nil, err
	}
	if err := b.transformer.ApplyWebhook(p, payload); err != nil {
		return nil, err
	}
	now := b.clock.Now()
	p.LastSynced = &now
	if err := b.store.Update(ctx, p); err != nil {
		return nil, err
	}
	b.logger.Info("applied shopify update", zap.String("product_id", p.ID), zap.String("shopify_product_id", externalID))
	return p, nil
}

// Unlink deletes the product from Shopify and returns the local record, if
// any, to an unsynced draft.
func (b *Bridge) Unlink(ctx context.Context, shopifyID string) (*models.Product, error) {
	if err := b.platform.DeleteProduct(ctx, shopifyID); err != nil {
		return nil, err
	}
	p, err := b.store.FindByKey(ctx, repository.KeyShopifyProductID, shopifyID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	p.ShopifyProductID = nil
	p.ShopifyVariantID = nil
	p.LastSynced = nil
	p.Status = models.StatusDraft
	if err := b.store.Update(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (b *Bridge) SyncStatus(ctx context.Context) (*SyncStatus, error) {
	stats, err := b.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	status := &SyncStatus{
		TotalProducts:   stats.Total,
		SyncedProducts:  stats.Synced,
		StatusBreakdown: stats.ByStatus,
	}
	if stats.Total > 0 {
		status.SyncPercentage = int(math.Round(float64(stats.Synced) / float64(stats.Total) * 100))
	}

	synced := true
	page, err := b.store.FindMany(ctx, repository.Query{
		Filter: repository.Filter{Synced: &synced},
		Sort:   "-last_synced",
		Limit:  1,
	})
	if err != nil {
		return nil, err
	}
	if len(page.Items) > 0 {
		status.LastSync = page.Items[0].LastSynced
	}
	return status, nil
}
