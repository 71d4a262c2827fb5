// Package validate checks recorded attributes against the files on disk.
//
// Validation is read-only. It stops at the first finding and never retries;
// it is simply run again on the next metadata change.
package validate

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"time"

	"github.com/openmined/readmesync/internal/metadata"
	"github.com/openmined/readmesync/internal/textfile"
)

const DefaultAttribute = "readme"

type Resolver interface {
	Resolve(itemID string) (string, error)
}

type Validator struct {
	resolver Resolver
	store    metadata.Store
	fs       textfile.FS
	matcher  *textfile.Matcher
	attr     string
}

type Option func(*Validator)

func WithFS(fsys textfile.FS) Option {
	return func(v *Validator) {
		v.fs = fsys
	}
}

func WithMatcher(m *textfile.Matcher) Option {
	return func(v *Validator) {
		v.matcher = m
	}
}

func WithAttribute(attr string) Option {
	return func(v *Validator) {
		v.attr = attr
	}
}

func New(resolver Resolver, store metadata.Store, opts ...Option) *Validator {
	v := &Validator{
		resolver: resolver,
		store:    store,
		fs:       textfile.OS{},
		matcher:  textfile.MustMatcher(textfile.DefaultPattern),
		attr:     DefaultAttribute,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// ValidateAll checks items in order. Items whose status is not tracked are skipped.
func (v *Validator) ValidateAll(ctx context.Context, items []metadata.Item) error {
	_, err := v.validateAll(ctx, items)
	return err
}

// ValidateIDs loads the named items from the store and validates them in order.
func (v *Validator) ValidateIDs(ctx context.Context, ids ...string) error {
	items := make([]metadata.Item, 0, len(ids))
	for _, id := range ids {
		item, err := v.store.GetItem(ctx, id)
		if errors.Is(err, metadata.ErrItemNotFound) {
			return fmt.Errorf("%w: %q", ErrUnknownItem, id)
		}
		if err != nil {
			return fmt.Errorf("load item %q: %w", id, err)
		}
		items = append(items, item)
	}
	return v.ValidateAll(ctx, items)
}

// Check validates every tracked item in the store, ordered by id.
func (v *Validator) Check(ctx context.Context) error {
	_, err := v.check(ctx)
	return err
}

// Run is Check, summarized as a Report.
func (v *Validator) Run(ctx context.Context) Report {
	start := time.Now()
	n, err := v.check(ctx)
	return newReport(n, err, start)
}

func (v *Validator) check(ctx context.Context) (int, error) {
	items, err := v.store.Items(ctx)
	if err != nil {
		return 0, fmt.Errorf("list items: %w", err)
	}
	slices.SortFunc(items, func(a, b metadata.Item) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return v.validateAll(ctx, items)
}

func (v *Validator) validateAll(ctx context.Context, items []metadata.Item) (int, error) {
	checked := 0
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return checked, err
		}
		if !item.Status.Tracked() {
			continue
		}
		if err := v.validateOne(ctx, item.ID); err != nil {
			slog.Debug("validation finding", "item", item.ID, "error", err)
			return checked, err
		}
		checked++
	}
	return checked, nil
}

func (v *Validator) validateOne(ctx context.Context, itemID string) error {
	recorded, err := v.store.Get(ctx, itemID, v.attr)
	if err != nil {
		return fmt.Errorf("item %q: get %s: %w", itemID, v.attr, err)
	}
	if !recorded.Present() {
		return &MissingAttributeError{ItemID: itemID, Attribute: v.attr}
	}

	dir, err := v.resolver.Resolve(itemID)
	if err != nil {
		return err
	}

	path, ok, err := textfile.Find(v.fs, v.matcher, dir)
	if err != nil {
		return &IOError{ItemID: itemID, Op: "list", Path: dir, Err: err}
	}

	if !ok {
		if recorded.IsNotFound() {
			return nil
		}
		return v.mismatch(itemID, "", "no qualifying file but attribute recorded")
	}

	content, err := textfile.ReadText(v.fs, path)
	if err != nil {
		return &IOError{ItemID: itemID, Op: "read", Path: path, Err: err}
	}

	name := filepath.Base(path)
	switch {
	case recorded.IsNotFound():
		return v.mismatch(itemID, path, fmt.Sprintf("%s exists but attribute records no file", name))
	case recorded.Text != content:
		return v.mismatch(itemID, path, fmt.Sprintf("content of %s differs from recorded attribute", name))
	}
	return nil
}

func (v *Validator) mismatch(itemID, path, reason string) error {
	return &MismatchError{ItemID: itemID, Attribute: v.attr, File: path, Reason: reason}
}
