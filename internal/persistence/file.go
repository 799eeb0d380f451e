package persistence

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
)

const DefaultPath = "data/monitors.json"

// File keeps the snapshot in one file, replaced atomically.
type File struct {
	path string
}

func NewFile(path string) *File {
	if path == "" {
		path = DefaultPath
	}
	return &File{path: path}
}

func (f *File) Name() string { return "file" }

func (f *File) Path() string { return f.path }

func (f *File) Write(_ context.Context, data []byte, _ time.Time) (err error) {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "mkdir %s", dir)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return errors.Wrap(err, "create temp")
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "write temp")
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "fsync temp")
	}
	if err = tmp.Close(); err != nil {
		return errors.Wrap(err, "close temp")
	}
	if err = os.Rename(tmp.Name(), f.path); err != nil {
		return errors.Wrapf(err, "rename to %s", f.path)
	}
	return nil
}

func (f *File) Read(_ context.Context) ([]byte, error) {
	b, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoSnapshot
		}
		return nil, errors.Wrapf(err, "read %s", f.path)
	}
	if len(b) == 0 {
		return nil, ErrNoSnapshot
	}
	return b, nil
}
