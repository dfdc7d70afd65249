// Package assets reads asset bundles, tab-separated lists of local files and
// the remote paths they are uploaded to, and turns them into upload actions.
package assets

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/unicesi/amelia-sub000/internal/action"
	"github.com/unicesi/amelia-sub000/internal/ctxlog"
	"github.com/unicesi/amelia-sub000/internal/target"
)

// ErrMalformedRow is returned for bundle rows that cannot be parsed.
var ErrMalformedRow = errors.New("malformed asset row")

// Bundle maps local paths to the remote paths they are uploaded to, in the
// order they first appear.
type Bundle struct {
	base    string
	locals  []string
	remotes map[string][]string
}

// NewBundle creates an empty bundle. Relative local paths are resolved
// against base.
func NewBundle(base string) *Bundle {
	return &Bundle{base: base, remotes: make(map[string][]string)}
}

// Add schedules local to be uploaded to remote. Repeated pairs are ignored.
func (b *Bundle) Add(local, remote string) {
	existing, ok := b.remotes[local]
	if !ok {
		b.locals = append(b.locals, local)
	}
	for _, r := range existing {
		if r == remote {
			return
		}
	}
	b.remotes[local] = append(existing, remote)
}

// Locals returns the local paths in the bundle.
func (b *Bundle) Locals() []string {
	return append([]string(nil), b.locals...)
}

// Remotes returns the remote destinations of local.
func (b *Bundle) Remotes(local string) []string {
	return append([]string(nil), b.remotes[local]...)
}

// Len returns the number of uploads.
func (b *Bundle) Len() int {
	n := 0
	for _, r := range b.remotes {
		n += len(r)
	}
	return n
}

// Parse reads a bundle from r. Blank lines and lines starting with '#' are
// ignored.
func Parse(r io.Reader, base string) (*Bundle, error) {
	cr := csv.NewReader(r)
	cr.Comma = '\t'
	cr.Comment = '#'
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	b := NewBundle(base)
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return b, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedRow, err)
		}
		line, _ := cr.FieldPos(0)
		if len(row) != 2 {
			return nil, fmt.Errorf("%w: line %d: expected 2 fields, got %d", ErrMalformedRow, line, len(row))
		}
		local, remote := strings.TrimSpace(row[0]), strings.TrimSpace(row[1])
		if local == "" || remote == "" {
			return nil, fmt.Errorf("%w: line %d: empty path", ErrMalformedRow, line)
		}
		b.Add(local, remote)
	}
}

// Load parses the bundle file at path. Relative local paths are resolved
// against the directory of the file.
func Load(path string) (*Bundle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open asset bundle: %w", err)
	}
	defer f.Close()
	b, err := Parse(f, filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return b, nil
}

func (b *Bundle) resolve(local string) string {
	if filepath.IsAbs(local) || b.base == "" {
		return local
	}
	return filepath.Join(b.base, local)
}

// Behavior returns an action behavior uploading every entry of the bundle
// through the target's transfer handle.
func (b *Bundle) Behavior(overwrite bool) action.Behavior {
	return func(ctx context.Context, t *target.Target, _ *regexp.Regexp) (string, error) {
		logger := ctxlog.FromContext(ctx).With("target", t.Name())
		tr, err := t.Transfer()
		if err != nil {
			return "", err
		}
		var done []string
		for _, local := range b.locals {
			src := b.resolve(local)
			for _, remote := range b.remotes[local] {
				if err := tr.Upload(ctx, src, remote, overwrite); err != nil {
					return strings.Join(done, "\n"), fmt.Errorf("failed to upload %s to %s: %w", local, remote, err)
				}
				logger.Debug("Asset uploaded.", "local", local, "remote", remote)
				done = append(done, remote)
			}
		}
		return strings.Join(done, "\n"), nil
	}
}

// NewAction returns an action uploading the bundle.
func NewAction(id string, b *Bundle, overwrite bool, opts ...action.Option) *action.Action {
	opts = append(opts, action.WithBehavior(b.Behavior(overwrite)))
	return action.New(id, "upload", opts...)
}
