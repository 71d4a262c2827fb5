// Package layout maps item identifiers to their directories under the install root.
package layout

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/openmined/readmesync/internal/utils"
)

var (
	ErrNoInstallRoot = errors.New("no install root")
	ErrInvalidItemID = errors.New("invalid item id")
)

// ConfigError is a missing precondition. It is never retried.
type ConfigError struct {
	ItemID string
	Err    error
}

func (e *ConfigError) Error() string {
	if e.ItemID == "" {
		return fmt.Sprintf("configuration error: %v", e.Err)
	}
	return fmt.Sprintf("configuration error for item %q: %v", e.ItemID, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// IsConfigError reports whether err, or anything it wraps, is a *ConfigError.
func IsConfigError(err error) bool {
	var cfgErr *ConfigError
	return errors.As(err, &cfgErr)
}

// RootFunc returns the current install root. It is consulted on every Resolve
// because the root may change between calls.
type RootFunc func() (string, error)

// StaticRoot is a RootFunc for a fixed directory.
func StaticRoot(root string) RootFunc {
	return func() (string, error) {
		return root, nil
	}
}

type Resolver struct {
	root RootFunc
}

func New(root RootFunc) *Resolver {
	return &Resolver{root: root}
}

// Resolve returns the absolute directory of an item. The result is never cached.
func (r *Resolver) Resolve(itemID string) (string, error) {
	if err := ValidateItemID(itemID); err != nil {
		return "", &ConfigError{ItemID: itemID, Err: err}
	}

	if r.root == nil {
		return "", &ConfigError{ItemID: itemID, Err: ErrNoInstallRoot}
	}
	root, err := r.root()
	if err != nil {
		return "", &ConfigError{ItemID: itemID, Err: fmt.Errorf("%w: %w", ErrNoInstallRoot, err)}
	}
	if strings.TrimSpace(root) == "" {
		return "", &ConfigError{ItemID: itemID, Err: ErrNoInstallRoot}
	}

	abs, err := utils.ResolvePath(root)
	if err != nil {
		return "", &ConfigError{ItemID: itemID, Err: fmt.Errorf("%w: %w", ErrNoInstallRoot, err)}
	}
	return filepath.Join(abs, itemID), nil
}

// ValidateItemID checks that id names exactly one directory directly under the root.
func ValidateItemID(id string) error {
	switch {
	case strings.TrimSpace(id) == "":
		return fmt.Errorf("%w: empty", ErrInvalidItemID)
	case id == "." || id == "..":
		return fmt.Errorf("%w: %q", ErrInvalidItemID, id)
	case strings.ContainsAny(id, `/\`) || filepath.Base(id) != id:
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidItemID, id)
	}
	return nil
}
