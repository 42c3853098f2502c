package images

import (
	"context"
	"fmt"
	"mime"
	"path"
	"slices"
	"strings"

	"go.uber.org/zap"

	"catalogsync/internal/batch"
	"catalogsync/internal/guard"
	"catalogsync/internal/models"
	"catalogsync/internal/repository"
	apperrors "catalogsync/pkg/errors"
)

const job = "images"

// Policy decides how a partition's images combine with a product's current list.
type Policy string

const (
	PolicyReplace Policy = "replace"
	PolicyAppend  Policy = "append"
)

func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case PolicyReplace:
		return PolicyReplace, nil
	case PolicyAppend:
		return PolicyAppend, nil
	}
	return "", &apperrors.ErrValidation{
		Message: fmt.Sprintf("invalid image policy %q", s),
		Fields:  map[string]string{"policy": "must be replace or append"},
	}
}

type Partition struct {
	Dir    string      `json:"dir"`
	View   models.View `json:"view"`
	Policy Policy      `json:"policy"`
}

// DefaultPartitions processes front before back: front replaces, back appends.
func DefaultPartitions() []Partition {
	return []Partition{
		{Dir: "front_view_designs", View: models.ViewFront, Policy: PolicyReplace},
		{Dir: "back_view_designs", View: models.ViewBack, Policy: PolicyAppend},
	}
}

var DefaultExtensions = []string{".jpg", ".jpeg"}

type FolderError struct {
	Path  string `json:"path"`
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

type Result struct {
	Processed int           `json:"processed"`
	Updated   int           `json:"updated"`
	Errors    []FolderError `json:"errors"`
}

// Options overrides the attacher's configured partitions for one run.
type Options struct {
	Policies map[models.View]Policy `json:"policies,omitempty"`
}

type Attacher struct {
	store      repository.ProductStore
	source     Source
	logger     *zap.Logger
	guard      guard.Guard
	observer   batch.Observer
	partitions []Partition
	extensions []string
	urlPrefix  string
}

type Config struct {
	Partitions []Partition
	Extensions []string
	URLPrefix  string
	Guard      guard.Guard
	Observer   batch.Observer
}

func NewAttacher(store repository.ProductStore, source Source, logger *zap.Logger, cfg Config) *Attacher {
	a := &Attacher{
		store:      store,
		source:     source,
		logger:     logger,
		guard:      cfg.Guard,
		observer:   cfg.Observer,
		partitions: cfg.Partitions,
		extensions: cfg.Extensions,
		urlPrefix:  strings.TrimRight(cfg.URLPrefix, "/"),
	}
	if len(a.partitions) == 0 {
		a.partitions = DefaultPartitions()
	}
	if len(a.extensions) == 0 {
		a.extensions = DefaultExtensions
	}
	if a.guard == nil {
		a.guard = guard.NewLocal()
	}
	return a
}

func (a *Attacher) Partitions() []Partition {
	return slices.Clone(a.partitions)
}

// Attach matches every design folder to the product with the same
// handle_fragment and binds the folder's images to it. A missing root fails
// the whole run; anything narrower is reported per path.
func (a *Attacher) Attach(ctx context.Context, opts Options) (*Result, error) {
	release, err := a.guard.Acquire(ctx, "images:"+a.source.String())
	if err != nil {
		return nil, err
	}
	defer release()

	if err := a.source.Check(ctx); err != nil {
		return nil, err
	}

	res := &Result{Errors: []FolderError{}}
	for _, partition := range a.partitions {
		if policy, ok := opts.Policies[partition.View]; ok {
			partition.Policy = policy
		}

		folders, err := a.source.ListFolders(ctx, partition.Dir)
		if err != nil {
			a.logger.Warn("cannot list image partition", zap.String("partition", partition.Dir), zap.Error(err))
			res.Errors = append(res.Errors, FolderError{Path: partition.Dir, Error: err.Error(), Kind: apperrors.KindOf(err)})
			continue
		}

		proc := &folderProcessor{attacher: a, partition: partition}
		report, err := batch.Run(ctx, job, slices.Values(folders), proc, batch.Options{Observer: a.observer})
		res.Processed += report.Total - len(report.Failures)
		res.Updated += report.Count(batch.OutcomeUpdated)
		for _, failure := range report.Failures {
			res.Errors = append(res.Errors, FolderError{Path: failure.Item, Error: failure.Error, Kind: failure.Kind})
		}
		if err != nil {
			return res, err
		}
	}

	a.logger.Info("image sync finished",
		zap.String("source", a.source.String()),
		zap.Int("processed", res.Processed),
		zap.Int("updated", res.Updated),
		zap.Int("errors", len(res.Errors)),
	)
	return res, nil
}

type folderProcessor struct {
	attacher  *Attacher
	partition Partition
}

func (p *folderProcessor) Describe(folder string) string {
	return path.Join(p.partition.Dir, folder)
}

func (p *folderProcessor) Handle(ctx context.Context, folder string) (batch.Outcome, error) {
	a := p.attacher
	files, err := a.source.ListFiles(ctx, p.partition.Dir, folder)
	if err != nil {
		return "", err
	}
	files = filterAndSort(files, a.extensions)
	if len(files) == 0 {
		return batch.OutcomeSkipped, nil
	}

	product, err := a.store.FindByKey(ctx, repository.KeyHandleFragment, folder)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return batch.OutcomeSkipped, nil
		}
		return "", err
	}

	imgs := a.buildImages(product, p.partition, folder, files)
	switch p.partition.Policy {
	case PolicyAppend:
		product.AppendImages(imgs)
	default:
		product.ReplaceImages(imgs)
	}

	if err := a.store.Update(ctx, product); err != nil {
		return "", err
	}
	a.logger.Debug("attached images",
		zap.String("folder", folder),
		zap.String("product_id", product.ID),
		zap.Int("images", len(imgs)),
		zap.String("policy", string(p.partition.Policy)),
	)
	return batch.OutcomeUpdated, nil
}

func (a *Attacher) buildImages(product *models.Product, partition Partition, folder string, files []File) []models.Image {
	imgs := make([]models.Image, 0, len(files))
	for n, f := range files {
		imgs = append(imgs, models.Image{
			URL:      a.urlPrefix + "/" + path.Join(partition.Dir, folder, f.Name),
			AltText:  fmt.Sprintf("%s - %s View %d", product.ConceptName, viewLabel(partition.View), n+1),
			ViewType: partition.View,
			FileSize: f.Size,
			MimeType: mimeType(f.Name),
		})
	}
	return imgs
}

func viewLabel(v models.View) string {
	s := string(v)
	if s == "" {
		return ""
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func mimeType(name string) string {
	if t := mime.TypeByExtension(strings.ToLower(path.Ext(name))); t != "" {
		return t
	}
	return "application/octet-stream"
}
