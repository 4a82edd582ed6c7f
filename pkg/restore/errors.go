package restore

import (
	"github.com/pkg/errors"
)

var (
	ErrReferenceUnresolved = errors.New("reference unresolved")
	ErrInvalidRecord       = errors.New("invalid record")
)

func unresolved(kind Kind, name string) error {
	return errors.Wrapf(ErrReferenceUnresolved, "%s %q", kind, name)
}

func invalidRecord(format string, args ...any) error {
	return errors.Wrapf(ErrInvalidRecord, format, args...)
}
