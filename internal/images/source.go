package images

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	apperrors "catalogsync/pkg/errors"
)

type File struct {
	Name string
	Size int64
}

// Source lists design folders and their files under a root laid out as
// {root}/{partition}/{folder}/{file}.
type Source interface {
	// Check fails with ErrNotFound when the root itself is missing.
	Check(ctx context.Context) error
	ListFolders(ctx context.Context, partition string) ([]string, error)
	ListFiles(ctx context.Context, partition, folder string) ([]File, error)
	String() string
}

type FSSource struct {
	root string
}

func NewFSSource(root string) *FSSource {
	return &FSSource{root: root}
}

func (s *FSSource) String() string { return s.root }

func (s *FSSource) Check(context.Context) error {
	info, err := os.Stat(s.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &apperrors.ErrNotFound{Resource: "image root", ID: s.root}
		}
		return &apperrors.ErrIO{Op: "stat", Path: s.root, Err: err}
	}
	if !info.IsDir() {
		return &apperrors.ErrIO{Op: "stat", Path: s.root, Err: errors.New("not a directory")}
	}
	return nil
}

func (s *FSSource) ListFolders(_ context.Context, partition string) ([]string, error) {
	dir := filepath.Join(s.root, partition)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, &apperrors.ErrIO{Op: "readdir", Path: dir, Err: err}
	}
	var folders []string
	for _, entry := range entries {
		if entry.IsDir() {
			folders = append(folders, entry.Name())
		}
	}
	sort.Strings(folders)
	return folders, nil
}

func (s *FSSource) ListFiles(_ context.Context, partition, folder string) ([]File, error) {
	dir := filepath.Join(s.root, partition, folder)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, &apperrors.ErrIO{Op: "readdir", Path: dir, Err: err}
	}
	var files []File
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return nil, &apperrors.ErrIO{Op: "stat", Path: filepath.Join(dir, entry.Name()), Err: err}
		}
		files = append(files, File{Name: entry.Name(), Size: info.Size()})
	}
	return files, nil
}

// filterAndSort keeps files with an accepted extension and orders them by
// name, byte-wise, so that every source yields the same order.
func filterAndSort(files []File, extensions []string) []File {
	accepted := make([]File, 0, len(files))
	for _, f := range files {
		if hasExtension(f.Name, extensions) {
			accepted = append(accepted, f)
		}
	}
	sort.Slice(accepted, func(i, j int) bool { return accepted[i].Name < accepted[j].Name })
	return accepted
}

func hasExtension(name string, extensions []string) bool {
	ext := strings.ToLower(path.Ext(name))
	for _, want := range extensions {
		if ext == strings.ToLower(want) {
			return true
		}
	}
	return false
}
