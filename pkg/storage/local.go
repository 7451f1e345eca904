package storage

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ajitpratap0/recordbridge/pkg/errors"
)

// Local stores objects as files under a root directory
type Local struct {
	root string
}

// NewLocal creates a store rooted at dir. An empty dir is the working
// directory.
func NewLocal(dir string) (*Local, error) {
	if dir == "" {
		dir = "."
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrorTypeFile, "invalid directory %s", dir)
	}
	return &Local{root: abs}, nil
}

// Root returns the store's directory
func (l *Local) Root() string { return l.root }

func (l *Local) path(key string) (string, error) {
	p := filepath.Join(l.root, filepath.FromSlash(key))
	if p != l.root && !strings.HasPrefix(p, l.root+string(filepath.Separator)) {
		return "", errors.Newf(errors.ErrorTypeValidation, "key %q escapes the store root", key)
	}
	return p, nil
}

// Open opens the file for key
func (l *Local) Open(_ context.Context, key string) (io.ReadCloser, error) {
	p, err := l.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p) //nolint:gosec // G304: keys are confined to the root
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(err, errors.ErrorTypeNotFound, "object %s not found", key)
		}
		return nil, errors.Wrapf(err, errors.ErrorTypeFile, "failed to open %s", p)
	}
	return f, nil
}

// Create writes to a temporary file renamed onto key by Close
func (l *Local) Create(_ context.Context, key string) (io.WriteCloser, error) {
	p, err := l.path(key)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return nil, errors.Wrapf(err, errors.ErrorTypeFile, "failed to create directory for %s", p)
	}
	tmp, err := os.CreateTemp(filepath.Dir(p), "."+filepath.Base(p)+".*.tmp")
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrorTypeFile, "failed to create %s", p)
	}
	return &localWriter{File: tmp, target: p}, nil
}

type localWriter struct {
	*os.File
	target string
	closed bool
}

func (w *localWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.File.Close(); err != nil {
		_ = os.Remove(w.Name())
		return errors.Wrapf(err, errors.ErrorTypeFile, "failed to write %s", w.target)
	}
	if err := os.Rename(w.Name(), w.target); err != nil {
		_ = os.Remove(w.Name())
		return errors.Wrapf(err, errors.ErrorTypeFile, "failed to move %s into place", w.target)
	}
	return nil
}

// List walks the root for files whose key starts with prefix
func (l *Local) List(_ context.Context, prefix string) ([]ObjectInfo, error) {
	if _, err := os.Stat(l.root); os.IsNotExist(err) {
		return nil, nil
	}
	var objects []ObjectInfo
	err := filepath.WalkDir(l.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(l.root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		objects = append(objects, ObjectInfo{Key: key, Size: info.Size(), Modified: info.ModTime()})
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrorTypeFile, "failed to list %s", l.root)
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })
	return objects, nil
}

// Delete removes the file for key
func (l *Local) Delete(_ context.Context, key string) error {
	p, err := l.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, errors.ErrorTypeFile, "failed to delete %s", p)
	}
	return nil
}

// Ping checks the root exists or can be created
func (l *Local) Ping(context.Context) error {
	if err := os.MkdirAll(l.root, 0o755); err != nil {
		return errors.Wrapf(err, errors.ErrorTypeFile, "directory %s is not usable", l.root)
	}
	return nil
}

// URL returns the file path of key
func (l *Local) URL(key string) string {
	return filepath.Join(l.root, filepath.FromSlash(key))
}

// Close is a no-op
func (l *Local) Close() error { return nil }
