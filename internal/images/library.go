package images

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"catalogsync/internal/models"
	"catalogsync/internal/repository"
	apperrors "catalogsync/pkg/errors"
)

var UploadExtensions = []string{".jpg", ".jpeg", ".png", ".webp", ".gif"}

// Upload is one file received from an admin client.
type Upload struct {
	Filename string
	Size     int64
	Open     func() (io.ReadCloser, error)
}

// Library manages the image list of a single product: uploads, removal and
// ordering. Every change leaves positions at 1..N.
type Library struct {
	store     repository.ProductStore
	dir       string
	urlPrefix string
	logger    *zap.Logger
}

func NewLibrary(store repository.ProductStore, dir, urlPrefix string, logger *zap.Logger) *Library {
	return &Library{
		store:     store,
		dir:       dir,
		urlPrefix: strings.TrimRight(urlPrefix, "/"),
		logger:    logger,
	}
}

// Upload stores files under the product's directory. With replace set, the
// product's existing images of the same view are dropped first.
func (l *Library) Upload(ctx context.Context, productID string, view models.View, files []Upload, replace bool) (*models.Product, error) {
	if len(files) == 0 {
		return nil, &apperrors.ErrValidation{Message: "no files uploaded", Fields: map[string]string{"images": "is required"}}
	}
	switch view {
	case models.ViewFront, models.ViewBack, models.ViewDetail:
	default:
		return nil, &apperrors.ErrValidation{Message: fmt.Sprintf("invalid view type %q", view), Fields: map[string]string{"view_type": "invalid"}}
	}
	for _, f := range files {
		if !hasExtension(f.Filename, UploadExtensions) {
			return nil, &apperrors.ErrValidation{Message: fmt.Sprintf("%s is not an image", f.Filename), Fields: map[string]string{"images": "unsupported file type"}}
		}
	}

	product, err := l.store.FindByKey(ctx, repository.KeyID, productID)
	if err != nil {
		return nil, err
	}

	dir := filepath.Join(l.dir, product.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &apperrors.ErrIO{Op: "mkdir", Path: dir, Err: err}
	}

	imgs := make([]models.Image, 0, len(files))
	written := make([]string, 0, len(files))
	for n, f := range files {
		name := fmt.Sprintf("%s-%s%s", view, uuid.NewString(), strings.ToLower(path.Ext(f.Filename)))
		dst := filepath.Join(dir, name)
		size, err := l.save(f, dst)
		if err != nil {
			l.discard(append(written, dst))
			return nil, err
		}
		written = append(written, dst)
		imgs = append(imgs, models.Image{
			URL:      l.urlPrefix + "/products/" + product.ID + "/" + name,
			AltText:  fmt.Sprintf("%s - %s View %d", product.ConceptName, viewLabel(view), n+1),
			ViewType: view,
			FileSize: size,
			MimeType: mimeType(name),
		})
	}

	if replace {
		product.ReplaceViewImages(view, imgs)
	} else {
		product.AppendImages(imgs)
	}
	if err := l.store.Update(ctx, product); err != nil {
		l.discard(written)
		return nil, err
	}
	l.logger.Info("images uploaded", zap.String("product_id", product.ID), zap.Int("count", len(imgs)), zap.Bool("replace", replace))
	return product, nil
}

// discard removes files written by a failed upload.
func (l *Library) discard(paths []string) {
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			l.logger.Warn("failed to clean up image file", zap.String("path", p), zap.Error(err))
		}
	}
}

func (l *Library) save(f Upload, dst string) (int64, error) {
	src, err := f.Open()
	if err != nil {
		return 0, &apperrors.ErrIO{Op: "open", Path: f.Filename, Err: err}
	}
	defer src.Close()

	out, err := os.Create(dst)
	if err != nil {
		return 0, &apperrors.ErrIO{Op: "create", Path: dst, Err: err}
	}
	defer out.Close()

	n, err := io.Copy(out, src)
	if err != nil {
		return 0, &apperrors.ErrIO{Op: "write", Path: dst, Err: err}
	}
	return n, nil
}

// Remove deletes the image at index (0-based). Files this library stored are
// removed from disk as well.
func (l *Library) Remove(ctx context.Context, productID string, index int) (*models.Product, error) {
	product, err := l.store.FindByKey(ctx, repository.KeyID, productID)
	if err != nil {
		return nil, err
	}
	removed, err := product.RemoveImage(index)
	if err != nil {
		return nil, err
	}
	if err := l.store.Update(ctx, product); err != nil {
		return nil, err
	}

	if local, ok := l.localPath(removed.URL); ok {
		if err := os.Remove(local); err != nil && !os.IsNotExist(err) {
			l.logger.Warn("failed to delete image file", zap.String("path", local), zap.Error(err))
		}
	}
	return product, nil
}

// Reorder applies order, a permutation of current 0-based indexes.
func (l *Library) Reorder(ctx context.Context, productID string, order []int) (*models.Product, error) {
	product, err := l.store.FindByKey(ctx, repository.KeyID, productID)
	if err != nil {
		return nil, err
	}
	if err := product.ReorderImages(order); err != nil {
		return nil, err
	}
	if err := l.store.Update(ctx, product); err != nil {
		return nil, err
	}
	return product, nil
}

func (l *Library) localPath(url string) (string, bool) {
	rel, ok := strings.CutPrefix(url, l.urlPrefix+"/products/")
	if !ok || strings.Contains(rel, "..") {
		return "", false
	}
	return filepath.Join(l.dir, filepath.FromSlash(rel)), true
}
