package processors

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"catalogsync/internal/events"
	"catalogsync/internal/images"
	"catalogsync/internal/ingest"
	"catalogsync/internal/models"
	"catalogsync/internal/services/shopify"
	apperrors "catalogsync/pkg/errors"
)

type Ingestor interface {
	IngestFile(ctx context.Context, path string, opts ingest.Options) (*ingest.Result, error)
}

type Attacher interface {
	Attach(ctx context.Context, opts images.Options) (*images.Result, error)
}

type ShopifySyncer interface {
	SyncOne(ctx context.Context, productID string) (*shopify.SyncResult, error)
	SyncMany(ctx context.Context, opts shopify.SyncManyOptions) (*shopify.SyncManyResult, error)
}

// EventProcessor executes command events read by the worker.
type EventProcessor struct {
	ingestor      Ingestor
	attacher      Attacher
	shopify       ShopifySyncer
	defaultSource string
	logger        *zap.Logger
}

// NewEventProcessor wires the command handlers. syncer may be nil when
// Shopify is not configured; its commands then fail.
func NewEventProcessor(ingestor Ingestor, attacher Attacher, syncer ShopifySyncer, defaultSource string, logger *zap.Logger) *EventProcessor {
	return &EventProcessor{
		ingestor:      ingestor,
		attacher:      attacher,
		shopify:       syncer,
		defaultSource: defaultSource,
		logger:        logger,
	}
}

type ingestCommand struct {
	Path       string `json:"path"`
	Force      bool   `json:"force"`
	CreateOnly bool   `json:"create_only"`
}

type imagesCommand struct {
	Policies map[models.View]string `json:"policies"`
}

type shopifySyncCommand struct {
	Force bool `json:"force"`
}

func (ep *EventProcessor) Process(ctx context.Context, event events.Event) error {
	ep.logger.Debug("processing event", zap.String("type", event.Type), zap.String("product_id", event.ProductID))

	switch event.Type {
	case events.TypeIngestRequested:
		var cmd ingestCommand
		if err := decodeData(event, &cmd); err != nil {
			return err
		}
		path, err := ingest.ResolveSource(ep.defaultSource, cmd.Path)
		if err != nil {
			return err
		}
		cmd.Path = path
		res, err := ep.ingestor.IngestFile(ctx, cmd.Path, ingest.Options{Force: cmd.Force, CreateOnly: cmd.CreateOnly})
		if err != nil {
			return fmt.Errorf("ingest %s: %w", cmd.Path, err)
		}
		ep.logger.Info("ingest command done", zap.String("path", cmd.Path), zap.Int("created", res.Created), zap.Int("updated", res.Updated), zap.Int("errors", len(res.Errors)))

	case events.TypeImagesRequested:
		var cmd imagesCommand
		if err := decodeData(event, &cmd); err != nil {
			return err
		}
		opts := images.Options{}
		for view, raw := range cmd.Policies {
			policy, err := images.ParsePolicy(raw)
			if err != nil {
				return err
			}
			if opts.Policies == nil {
				opts.Policies = map[models.View]images.Policy{}
			}
			opts.Policies[view] = policy
		}
		res, err := ep.attacher.Attach(ctx, opts)
		if err != nil {
			return fmt.Errorf("attach images: %w", err)
		}
		ep.logger.Info("images command done", zap.Int("processed", res.Processed), zap.Int("updated", res.Updated), zap.Int("errors", len(res.Errors)))

	case events.TypeShopifySyncRequested:
		if ep.shopify == nil {
			return errShopifyUnavailable
		}
		var cmd shopifySyncCommand
		if err := decodeData(event, &cmd); err != nil {
			return err
		}
		res, err := ep.shopify.SyncMany(ctx, shopify.SyncManyOptions{Force: cmd.Force})
		if err != nil {
			return fmt.Errorf("shopify sync: %w", err)
		}
		ep.logger.Info("shopify sync command done", zap.Int("synced", res.Synced), zap.Int("updated", res.Updated), zap.Int("errors", len(res.Errors)))

	case events.TypeShopifySyncProduct:
		if ep.shopify == nil {
			return errShopifyUnavailable
		}
		if event.ProductID == "" {
			return &apperrors.ErrValidation{Message: "product_id is required", Fields: map[string]string{"product_id": "is required"}}
		}
		if _, err := ep.shopify.SyncOne(ctx, event.ProductID); err != nil {
			return err
		}

	default:
		return &apperrors.ErrValidation{
			Message: fmt.Sprintf("unknown event type %q", event.Type),
			Fields:  map[string]string{"type": "unknown"},
		}
	}
	return nil
}

var errShopifyUnavailable = &apperrors.ErrExternalService{Service: "shopify", Message: "shopify is not configured"}

func decodeData(event events.Event, v interface{}) error {
	if len(event.Data) == 0 {
		return nil
	}
	raw, err := json.Marshal(event.Data)
	if err != nil {
		return &apperrors.ErrParse{Input: event.Type, Err: err}
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return &apperrors.ErrValidation{Message: fmt.Sprintf("invalid %s payload: %v", event.Type, err)}
	}
	return nil
}
