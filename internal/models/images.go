package models

import (
	"fmt"
	"sort"

	apperrors "catalogsync/pkg/errors"
)

// NormalizeImages orders images by position and renumbers them 1..N.
// Entries without a position keep their relative order after positioned ones.
func (p *Product) NormalizeImages() {
	sort.SliceStable(p.Images, func(i, j int) bool {
		return positionKey(p.Images[i].Position) < positionKey(p.Images[j].Position)
	})
	p.reindex()
}

// ReplaceImages drops every image and installs imgs at positions 1..N.
func (p *Product) ReplaceImages(imgs []Image) {
	p.Images = append(p.Images[:0:0], imgs...)
	p.reindex()
}

// AppendImages adds imgs after the current list, continuing the numbering.
func (p *Product) AppendImages(imgs []Image) {
	p.Images = append(p.Images, imgs...)
	p.reindex()
}

// ReplaceViewImages drops images of the given view and appends imgs.
func (p *Product) ReplaceViewImages(view View, imgs []Image) {
	kept := p.Images[:0:0]
	for _, img := range p.Images {
		if img.ViewType != view {
			kept = append(kept, img)
		}
	}
	p.Images = append(kept, imgs...)
	p.reindex()
}

// RemoveImage deletes the image at index (0-based) and closes the gap.
func (p *Product) RemoveImage(index int) (Image, error) {
	if index < 0 || index >= len(p.Images) {
		return Image{}, &apperrors.ErrNotFound{Resource: "image", ID: fmt.Sprintf("%d", index)}
	}
	removed := p.Images[index]
	p.Images = append(p.Images[:index], p.Images[index+1:]...)
	p.reindex()
	return removed, nil
}

// ReorderImages rearranges images so that order[k] is the old index of the
// image that ends up at position k+1. order must be a permutation.
func (p *Product) ReorderImages(order []int) error {
	if len(order) != len(p.Images) {
		return &apperrors.ErrValidation{
			Message: fmt.Sprintf("image order must list all %d images", len(p.Images)),
			Fields:  map[string]string{"image_order": "length mismatch"},
		}
	}
	seen := make([]bool, len(order))
	reordered := make([]Image, len(order))
	for k, old := range order {
		if old < 0 || old >= len(p.Images) || seen[old] {
			return &apperrors.ErrValidation{
				Message: fmt.Sprintf("invalid image index %d", old),
				Fields:  map[string]string{"image_order": "not a permutation"},
			}
		}
		seen[old] = true
		reordered[k] = p.Images[old]
	}
	p.Images = reordered
	p.reindex()
	return nil
}

func (p *Product) reindex() {
	for i := range p.Images {
		p.Images[i].Position = i + 1
	}
}

func positionKey(pos int) int {
	if pos <= 0 {
		return int(^uint(0) >> 1)
	}
	return pos
}
