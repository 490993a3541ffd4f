package library

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
)

const stagePrefix = ".import-"

// Library is the directory holding imported files. Files are referred to
// by name only.
type Library struct {
	dir string
}

// New creates the directory if needed
func New(dir string) (*Library, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create library directory: %w", err)
	}
	l := &Library{dir: dir}
	l.sweep()
	return l, nil
}

// Dir returns the library directory
func (l *Library) Dir() string {
	return l.dir
}

// Path returns where name is stored
func (l *Library) Path(name string) string {
	return filepath.Join(l.dir, filepath.Base(name))
}

// Exists reports whether name is stored as a regular file
func (l *Library) Exists(name string) bool {
	if name == "" {
		return false
	}
	info, err := os.Stat(l.Path(name))
	return err == nil && info.Mode().IsRegular()
}

// Staged is a copied file not yet visible under its final name
type Staged struct {
	Name string
	Path string
}

// Stage copies src into a temp file inside the library. Nothing under the
// final name is touched until Commit.
func (l *Library) Stage(ctx context.Context, src Source) (*Staged, error) {
	name, err := sanitizeName(src.Name())
	if err != nil {
		return nil, err
	}

	r, err := src.Open(ctx)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	f, err := os.CreateTemp(l.dir, stagePrefix+"*"+filepath.Ext(name))
	if err != nil {
		return nil, fmt.Errorf("failed to create staging file: %w", err)
	}
	tmp := f.Name()

	n, err := io.Copy(f, &ctxReader{ctx: ctx, r: r})
	if err != nil {
		f.Close()
		os.Remove(tmp)
		return nil, fmt.Errorf("failed to copy %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return nil, fmt.Errorf("failed to write %s: %w", name, err)
	}
	if n == 0 {
		os.Remove(tmp)
		return nil, fmt.Errorf("%w: %s is empty", ErrInvalidSource, name)
	}

	log.Printf("[LIBRARY] Staged %s (%d bytes)", name, n)
	return &Staged{Name: name, Path: tmp}, nil
}

// Commit moves a staged file to its final name, replacing any file with
// the same name
func (l *Library) Commit(st *Staged) (string, error) {
	dst := l.Path(st.Name)
	if err := os.Rename(st.Path, dst); err != nil {
		os.Remove(st.Path)
		return "", fmt.Errorf("failed to store %s: %w", st.Name, err)
	}
	log.Printf("[LIBRARY] Stored %s", st.Name)
	return dst, nil
}

// Discard drops a staged file
func (l *Library) Discard(st *Staged) {
	if st == nil {
		return
	}
	if err := os.Remove(st.Path); err != nil && !os.IsNotExist(err) {
		log.Printf("[LIBRARY] Failed to discard %s: %v", st.Path, err)
	}
}

// Remove deletes name. A missing file is not an error.
func (l *Library) Remove(name string) error {
	if name == "" {
		return nil
	}
	if err := os.Remove(l.Path(name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove %s: %w", name, err)
	}
	return nil
}

// sweep removes staging files left by a crash
func (l *Library) sweep() {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), stagePrefix) {
			os.Remove(filepath.Join(l.dir, e.Name()))
		}
	}
}

func sanitizeName(name string) (string, error) {
	name = filepath.Base(strings.TrimSpace(name))
	if name == "" || name == "." || name == ".." || name == string(filepath.Separator) ||
		strings.HasPrefix(name, stagePrefix) {
		return "", fmt.Errorf("%w: bad file name %q", ErrInvalidSource, name)
	}
	if !IsSupported(name) {
		return "", fmt.Errorf("%w: %s", ErrUnsupported, name)
	}
	return name, nil
}

// ctxReader stops a copy once ctx is done
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
