package metadata

import (
	"fmt"
	"time"
)

// NotFoundDisplay is what the attribute provider shows for NotFound.
const NotFoundDisplay = "No readme found"

type Kind string

const (
	KindAbsent   Kind = ""
	KindNotFound Kind = "not_found"
	KindText     Kind = "text"
)

// Value is a recorded attribute: absent (never recorded), NotFound (recorded
// that no qualifying file exists) or Text (verbatim file content). NotFound is
// a distinct kind, so no file content can be mistaken for it.
type Value struct {
	Kind Kind   `json:"kind"`
	Text string `json:"text,omitempty"`
}

func Absent() Value {
	return Value{Kind: KindAbsent}
}

func NotFound() Value {
	return Value{Kind: KindNotFound}
}

func Text(s string) Value {
	return Value{Kind: KindText, Text: s}
}

func (v Value) Present() bool {
	return v.Kind != KindAbsent
}

func (v Value) IsNotFound() bool {
	return v.Kind == KindNotFound
}

func (v Value) IsText() bool {
	return v.Kind == KindText
}

// Display renders the value for a read-only viewer.
func (v Value) Display() string {
	switch v.Kind {
	case KindText:
		return v.Text
	case KindNotFound:
		return NotFoundDisplay
	default:
		return NotFoundDisplay
	}
}

func (v Value) String() string {
	switch v.Kind {
	case KindText:
		return fmt.Sprintf("text(%d bytes)", len(v.Text))
	case KindNotFound:
		return "not_found"
	default:
		return "absent"
	}
}

type Status string

const (
	StatusInstalling Status = "installing"
	StatusInstalled  Status = "installed"
	StatusEnabled    Status = "enabled"
	StatusDisabled   Status = "disabled"
)

func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusInstalling, StatusInstalled, StatusEnabled, StatusDisabled:
		return st, nil
	}
	return "", fmt.Errorf("%w: %q", ErrBadStatus, s)
}

// Tracked reports whether the validator checks items in this status.
func (s Status) Tracked() bool {
	return s == StatusInstalled || s == StatusEnabled
}

type Item struct {
	ID        string    `json:"id" db:"id"`
	Status    Status    `json:"status" db:"status"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
