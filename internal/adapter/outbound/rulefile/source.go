// Package rulefile reads rule documents from disk and watches them for
// changes.
package rulefile

import (
	"context"
	"fmt"
	"os"
)

// Source reads a rule document from a file. It implements
// service.RuleSource.
type Source struct {
	path string
}

// NewSource creates a Source for path.
func NewSource(path string) *Source {
	return &Source{path: path}
}

// ReadRules returns the file contents.
func (s *Source) ReadRules(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read rule file %s: %w", s.path, err)
	}
	return data, nil
}

// Path returns the watched file path.
func (s *Source) Path() string {
	return s.path
}
