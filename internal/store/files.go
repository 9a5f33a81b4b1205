package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/imrishuroy/photo-orderflow/internal/orders"
)

const fileExt = ".json"

// FileBackend stores one JSON document per record under <dir>/<area>/.
// Writes go to a temporary file that is renamed into place. Preconditions
// are checked under a process-local lock, so the directory must not be
// shared between processes.
type FileBackend struct {
	dir string
	mu  sync.Mutex
}

// NewFileBackend creates the area directories under dir.
func NewFileBackend(dir string) (*FileBackend, error) {
	for _, area := range []orders.Area{orders.AreaTemp, orders.AreaFinal} {
		if err := os.MkdirAll(filepath.Join(dir, string(area)), 0o755); err != nil {
			return nil, fmt.Errorf("create %s area: %w", area, err)
		}
	}
	return &FileBackend{dir: dir}, nil
}

func (f *FileBackend) path(area orders.Area, ref string) (string, error) {
	if ref == "" || strings.ContainsAny(ref, `/\`) || strings.HasPrefix(ref, ".") {
		return "", fmt.Errorf("invalid reference %q", ref)
	}
	return filepath.Join(f.dir, string(area), ref+fileExt), nil
}

func (f *FileBackend) Get(ctx context.Context, area orders.Area, ref string) (*orders.Record, error) {
	p, err := f.path(area, ref)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, orders.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", p, err)
	}
	var rec orders.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode %s: %w", p, err)
	}
	return &rec, nil
}

// check loads the stored copy of ref and tests cond against it.
func (f *FileBackend) check(ctx context.Context, area orders.Area, ref string, cond Precondition) error {
	if cond == (Precondition{}) {
		return nil
	}
	cur, err := f.Get(ctx, area, ref)
	if errors.Is(err, orders.ErrNotFound) {
		cur, err = nil, nil
	}
	if err != nil {
		return err
	}
	if !cond.Holds(cur) {
		return fmt.Errorf("%s: %w", ref, orders.ErrConflict)
	}
	return nil
}

func (f *FileBackend) Put(ctx context.Context, rec *orders.Record, cond Precondition) error {
	p, err := f.path(rec.Area, rec.Reference)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(ctx, rec.Area, rec.Reference, cond); err != nil {
		return err
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode %s: %w", rec.Reference, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(p), "."+rec.Reference+"-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return fmt.Errorf("rename into %s: %w", p, err)
	}
	return nil
}

func (f *FileBackend) List(ctx context.Context, area orders.Area) ([]*orders.Record, error) {
	dir := filepath.Join(f.dir, string(area))
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	out := make([]*orders.Record, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, fileExt) {
			continue
		}
		rec, err := f.Get(ctx, area, strings.TrimSuffix(name, fileExt))
		if errors.Is(err, orders.ErrNotFound) {
			// removed between ReadDir and Get
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (f *FileBackend) Delete(ctx context.Context, area orders.Area, ref string, cond Precondition) error {
	p, err := f.path(area, ref)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(ctx, area, ref, cond); err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", p, err)
	}
	return nil
}
