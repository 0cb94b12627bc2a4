// Package clipboard writes text to the system clipboard.
package clipboard

import (
	"errors"
	"fmt"

	"github.com/atotto/clipboard"
)

var ErrUnsupported = errors.New("clipboard: no clipboard utility available")

// System is the desktop clipboard. A zero value is ready to use.
type System struct {
	write func(string) error
}

func New() *System {
	return &System{write: clipboard.WriteAll}
}

func (s *System) WriteAll(text string) error {
	if s.write == nil {
		s.write = clipboard.WriteAll
	}
	if clipboard.Unsupported {
		return ErrUnsupported
	}
	if err := s.write(text); err != nil {
		return fmt.Errorf("write clipboard: %w", err)
	}
	return nil
}
