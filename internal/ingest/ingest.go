package ingest

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"catalogsync/internal/batch"
	"catalogsync/internal/clock"
	"catalogsync/internal/events"
	"catalogsync/internal/guard"
	"catalogsync/internal/models"
	"catalogsync/internal/repository"
	apperrors "catalogsync/pkg/errors"
)

const (
	job = "ingest"

	excerptLength = 100
	maxLineBytes  = 16 << 20
)

// Options controls how existing records are treated.
type Options struct {
	// Force overwrites existing records regardless of analyzed_at.
	Force bool `json:"force"`
	// CreateOnly inserts unseen image_ids and skips everything else.
	CreateOnly bool `json:"create_only"`
}

type LineError struct {
	Line    int    `json:"line"`
	Excerpt string `json:"excerpt"`
	Error   string `json:"error"`
	Kind    string `json:"kind"`
}

// Result always satisfies Total == Created + Updated + Skipped + len(Errors).
type Result struct {
	Source   string      `json:"source,omitempty"`
	Total    int         `json:"total"`
	Created  int         `json:"created"`
	Updated  int         `json:"updated"`
	Skipped  int         `json:"skipped"`
	Errors   []LineError `json:"errors"`
	SyncedAt time.Time   `json:"synced_at"`
}

type SourceInfo struct {
	Path     string    `json:"path"`
	Exists   bool      `json:"exists"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
	Records  int       `json:"records"`
}

type Ingestor struct {
	store     repository.ProductStore
	guard     guard.Guard
	clock     clock.Clock
	logger    *zap.Logger
	observer  batch.Observer
	publisher events.Publisher
}

type Option func(*Ingestor)

func WithClock(c clock.Clock) Option { return func(i *Ingestor) { i.clock = c } }
func WithObserver(o batch.Observer) Option { return func(i *Ingestor) { i.observer = o } }
func WithPublisher(p events.Publisher) Option { return func(i *Ingestor) { i.publisher = p } }
func WithGuard(g guard.Guard) Option { return func(i *Ingestor) { i.guard = g } }

func New(store repository.ProductStore, logger *zap.Logger, opts ...Option) *Ingestor {
	i := &Ingestor{
		store:     store,
		guard:     guard.NewLocal(),
		clock:     clock.New(),
		logger:    logger,
		publisher: events.Nop{},
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// ResolveSource maps a caller supplied source name onto the directory of the
// configured source. Only relative names that stay inside that directory are
// accepted; an empty name selects the configured source itself.
func ResolveSource(configured, requested string) (string, error) {
	if requested == "" {
		return configured, nil
	}
	if !filepath.IsLocal(requested) {
		return "", invalidSource(requested, "must be a relative path inside the ingest directory")
	}
	switch strings.ToLower(filepath.Ext(requested)) {
	case ".ndjson", ".jsonl":
	default:
		return "", invalidSource(requested, "must be an .ndjson or .jsonl file")
	}
	return filepath.Join(filepath.Dir(configured), requested), nil
}

func invalidSource(requested, reason string) error {
	return &apperrors.ErrValidation{
		Message: fmt.Sprintf("invalid ingest source %q", requested),
		Fields:  map[string]string{"file_path": reason},
	}
}

// IngestFile reconciles the NDJSON file at path into the store. Only one run
// per path is allowed at a time; a concurrent call gets ErrConflict.
func (i *Ingestor) IngestFile(ctx context.Context, path string, opts Options) (*Result, error) {
	key := "ingest:" + path
	if abs, err := filepath.Abs(path); err == nil {
		key = "ingest:" + abs
	}
	release, err := i.guard.Acquire(ctx, key)
	if err != nil {
		return nil, err
	}
	defer release()

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &apperrors.ErrNotFound{Resource: "ingest source", ID: path}
		}
		return nil, &apperrors.ErrIO{Op: "open", Path: path, Err: err}
	}
	defer f.Close()

	res, err := i.Ingest(ctx, f, opts)
	if res != nil {
		res.Source = path
	}
	return res, err
}

// Ingest reconciles NDJSON records read from r. Per-line failures are
// collected in the result; the returned error is set only when reading r
// fails or ctx is canceled, in which case the partial result is returned too.
func (i *Ingestor) Ingest(ctx context.Context, r io.Reader, opts Options) (*Result, error) {
	proc := &lineProcessor{ingestor: i, opts: opts}
	var readErr error

	report, runErr := batch.Run(ctx, job, readLines(r, &readErr), proc, batch.Options{Observer: i.observer})

	res := &Result{
		Total:    report.Total,
		Created:  report.Count(batch.OutcomeCreated),
		Updated:  report.Count(batch.OutcomeUpdated),
		Skipped:  report.Count(batch.OutcomeSkipped),
		Errors:   make([]LineError, 0, len(report.Failures)),
		SyncedAt: i.clock.Now(),
	}
	for n, failure := range report.Failures {
		res.Errors = append(res.Errors, LineError{
			Line:    proc.failedLines[n],
			Excerpt: failure.Item,
			Error:   failure.Error,
			Kind:    failure.Kind,
		})
	}

	i.logger.Info("ingest finished",
		zap.Int("total", res.Total),
		zap.Int("created", res.Created),
		zap.Int("updated", res.Updated),
		zap.Int("skipped", res.Skipped),
		zap.Int("errors", len(res.Errors)),
		zap.Bool("force", opts.Force),
		zap.Bool("create_only", opts.CreateOnly),
	)
	i.publish(ctx, res)

	if runErr != nil {
		return res, runErr
	}
	if readErr != nil {
		return res, &apperrors.ErrIO{Op: "read", Path: "ingest source", Err: readErr}
	}
	return res, nil
}

// Inspect describes the ingest source without touching the store.
func (i *Ingestor) Inspect(path string) (*SourceInfo, error) {
	info := &SourceInfo{Path: path}
	stat, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return info, nil
		}
		return nil, &apperrors.ErrIO{Op: "stat", Path: path, Err: err}
	}
	info.Exists = true
	info.Size = stat.Size()
	info.Modified = stat.ModTime().UTC()

	f, err := os.Open(path)
	if err != nil {
		return nil, &apperrors.ErrIO{Op: "open", Path: path, Err: err}
	}
	defer f.Close()

	var readErr error
	for range readLines(f, &readErr) {
		info.Records++
	}
	if readErr != nil {
		return nil, &apperrors.ErrIO{Op: "read", Path: path, Err: readErr}
	}
	return info, nil
}

func (i *Ingestor) publish(ctx context.Context, res *Result) {
	err := i.publisher.Publish(ctx, events.Event{
		Type: events.TypeBatchCompleted,
		Data: map[string]interface{}{
			"job":     job,
			"source":  res.Source,
			"total":   res.Total,
			"created": res.Created,
			"updated": res.Updated,
			"skipped": res.Skipped,
			"errors":  len(res.Errors),
		},
		Timestamp: res.SyncedAt,
	})
	if err != nil {
		i.logger.Warn("failed to publish ingest summary", zap.Error(err))
	}
}

func (i *Ingestor) publishProduct(ctx context.Context, typ string, p *models.Product) {
	if err := i.publisher.Publish(ctx, events.ProductChanged(typ, p)); err != nil {
		i.logger.Warn("failed to publish product event", zap.String("type", typ), zap.String("product_id", p.ID), zap.Error(err))
	}
}

type line struct {
	number int
	text   []byte
}

// readLines yields the non-blank lines of r. Any scanner error is stored in
// errp once iteration ends.
func readLines(r io.Reader, errp *error) iter.Seq[line] {
	return func(yield func(line) bool) {
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 64*1024), maxLineBytes)
		n := 0
		for sc.Scan() {
			n++
			text := bytes.TrimSpace(sc.Bytes())
			if len(text) == 0 {
				continue
			}
			if !yield(line{number: n, text: bytes.Clone(text)}) {
				return
			}
		}
		*errp = sc.Err()
	}
}

func excerpt(text []byte) string {
	runes := []rune(string(text))
	if len(runes) <= excerptLength {
		return string(runes)
	}
	return string(runes[:excerptLength]) + "..."
}

type lineProcessor struct {
	ingestor    *Ingestor
	opts        Options
	failedLines []int
}

func (p *lineProcessor) Describe(l line) string {
	return excerpt(l.text)
}

func (p *lineProcessor) Handle(ctx context.Context, l line) (batch.Outcome, error) {
	outcome, err := p.handle(ctx, l)
	if err != nil {
		p.failedLines = append(p.failedLines, l.number)
	}
	return outcome, err
}

func (p *lineProcessor) handle(ctx context.Context, l line) (batch.Outcome, error) {
	if l.text[0] != '{' {
		return "", &apperrors.ErrParse{Input: excerpt(l.text), Err: errors.New("record is not a JSON object")}
	}
	var header struct {
		ImageID    *string    `json:"image_id"`
		AnalyzedAt *time.Time `json:"analyzed_at"`
	}
	if err := json.Unmarshal(l.text, &header); err != nil {
		var syntaxErr *json.SyntaxError
		if errors.As(err, &syntaxErr) || !json.Valid(l.text) {
			return "", &apperrors.ErrParse{Input: excerpt(l.text), Err: err}
		}
		return "", fieldError(err)
	}
	if header.ImageID == nil || *header.ImageID == "" {
		return "", &apperrors.ErrValidation{
			Message: "image_id is required",
			Fields:  map[string]string{"image_id": "is required"},
		}
	}
	imageID := *header.ImageID

	existing, err := p.ingestor.store.FindByKey(ctx, repository.KeyImageID, imageID)
	if err != nil && !apperrors.IsNotFound(err) {
		return "", err
	}

	if existing == nil {
		product, err := decodeNew(l.text)
		if err != nil {
			return "", err
		}
		if err := p.ingestor.store.Create(ctx, product); err != nil {
			return "", err
		}
		p.ingestor.publishProduct(ctx, events.TypeProductCreated, product)
		return batch.OutcomeCreated, nil
	}

	if p.opts.CreateOnly {
		return batch.OutcomeSkipped, nil
	}
	if !p.opts.Force && (header.AnalyzedAt == nil || !header.AnalyzedAt.After(existing.UpdatedAt)) {
		return batch.OutcomeSkipped, nil
	}

	merged, err := merge(existing, l.text)
	if err != nil {
		return "", err
	}
	if err := p.ingestor.store.Update(ctx, merged); err != nil {
		return "", err
	}
	p.ingestor.publishProduct(ctx, events.TypeProductUpdated, merged)
	return batch.OutcomeUpdated, nil
}

// decodeNew builds a draft product from a record. Fields owned by the store
// or by the Shopify sync are ignored.
func decodeNew(text []byte) (*models.Product, error) {
	var product models.Product
	if err := json.Unmarshal(text, &product); err != nil {
		return nil, fieldError(err)
	}
	product.ID = ""
	product.CreatedAt = time.Time{}
	product.UpdatedAt = time.Time{}
	product.ShopifyProductID = nil
	product.ShopifyVariantID = nil
	product.LastSynced = nil
	product.Status = models.StatusDraft
	return &product, nil
}

// merge overlays the record's keys onto a copy of existing. Identity, an
// assigned sku and the Shopify sync fields survive the overlay.
func merge(existing *models.Product, text []byte) (*models.Product, error) {
	merged := existing.Clone()
	if err := json.Unmarshal(text, merged); err != nil {
		return nil, fieldError(err)
	}

	merged.ID = existing.ID
	merged.ImageID = existing.ImageID
	merged.CreatedAt = existing.CreatedAt
	if existing.SKU != "" {
		merged.SKU = existing.SKU
	}
	merged.ShopifyProductID = existing.ShopifyProductID
	merged.ShopifyVariantID = existing.ShopifyVariantID
	merged.LastSynced = existing.LastSynced
	if merged.Status == models.StatusSynced && existing.Status != models.StatusSynced {
		merged.Status = existing.Status
	}
	return merged, nil
}

func fieldError(err error) error {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return &apperrors.ErrValidation{
			Message: fmt.Sprintf("invalid value for %s: expected %s", typeErr.Field, typeErr.Type),
			Fields:  map[string]string{typeErr.Field: "invalid type"},
		}
	}
	return &apperrors.ErrValidation{Message: err.Error()}
}
