package validate

import (
	"errors"
	"fmt"

	"github.com/openmined/readmesync/internal/layout"
)

var ErrUnknownItem = errors.New("unknown item")

// MissingAttributeError means a tracked item has no recorded attribute at all,
// not even the not-found marker.
type MissingAttributeError struct {
	ItemID    string
	Attribute string
}

func (e *MissingAttributeError) Error() string {
	return fmt.Sprintf("item %q: %s attribute missing", e.ItemID, e.Attribute)
}

// MismatchError means the recorded attribute disagrees with the directory.
type MismatchError struct {
	ItemID    string
	Attribute string
	File      string // empty when no qualifying file exists
	Reason    string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("item %q: %s mismatch: %s", e.ItemID, e.Attribute, e.Reason)
}

// IOError is a listing or read failure. Validation does not retry it.
type IOError struct {
	ItemID string
	Op     string
	Path   string
	Err    error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("item %q: %s %s: %v", e.ItemID, e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// Finding codes, as reported over the control plane.
const (
	CodeMissingAttribute = "missing_attribute"
	CodeMismatch         = "mismatch"
	CodeIO               = "io"
	CodeConfig           = "config"
	CodeUnknownItem      = "unknown_item"
	CodeInternal         = "internal"
)

// Classify returns the finding code and the offending item, if any.
func Classify(err error) (code string, itemID string) {
	var (
		missing  *MissingAttributeError
		mismatch *MismatchError
		ioErr    *IOError
		cfgErr   *layout.ConfigError
	)
	switch {
	case err == nil:
		return "", ""
	case errors.As(err, &missing):
		return CodeMissingAttribute, missing.ItemID
	case errors.As(err, &mismatch):
		return CodeMismatch, mismatch.ItemID
	case errors.As(err, &ioErr):
		return CodeIO, ioErr.ItemID
	case errors.As(err, &cfgErr):
		return CodeConfig, cfgErr.ItemID
	case errors.Is(err, ErrUnknownItem):
		return CodeUnknownItem, ""
	default:
		return CodeInternal, ""
	}
}

// IsFinding reports whether err is a validation finding rather than a failure
// to validate.
func IsFinding(err error) bool {
	var (
		missing  *MissingAttributeError
		mismatch *MismatchError
	)
	return errors.As(err, &missing) || errors.As(err, &mismatch)
}
