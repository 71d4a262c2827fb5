// Package textfile recognizes qualifying files in an item directory and reads
// them as text.
package textfile

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// DefaultPattern matches any .txt file regardless of extension case.
const DefaultPattern = "*.txt"

// Matcher decides which file names qualify. Names are lower-cased before matching.
type Matcher struct {
	pattern string
}

func NewMatcher(pattern string) (*Matcher, error) {
	pattern = strings.ToLower(pattern)
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, doublestar.ErrBadPattern)
	}
	return &Matcher{pattern: pattern}, nil
}

// MustMatcher panics on an invalid pattern. Meant for constants.
func MustMatcher(pattern string) *Matcher {
	m, err := NewMatcher(pattern)
	if err != nil {
		panic(err)
	}
	return m
}

func (m *Matcher) Pattern() string {
	return m.pattern
}

func (m *Matcher) Match(name string) bool {
	base := strings.ToLower(filepath.Base(name))
	ok, err := doublestar.Match(m.pattern, base)
	return err == nil && ok
}

// Select picks the qualifying file among names. With several candidates the
// lexicographically smallest name wins, independent of directory listing order.
func (m *Matcher) Select(names []string) (string, bool) {
	var candidates []string
	for _, name := range names {
		if m.Match(name) {
			candidates = append(candidates, name)
		}
	}
	if len(candidates) == 0 {
		return "", false
	}
	return slices.Min(candidates), true
}
