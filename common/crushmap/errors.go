package crushmap

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrKeyNotFound       = errors.New("key not found")
	ErrInvalidRuleFormat = errors.New("invalid crush map format")
	ErrIntegrity         = errors.New("crush map integrity error")
)

// NotFoundError is returned by every lookup on a CrushMap which misses.
// It matches ErrNotFound with errors.Is, and tunable misses additionally
// match ErrKeyNotFound.
type NotFoundError struct {
	Kind string
	Key  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.Key)
}

func (e *NotFoundError) Is(target error) bool {
	if target == ErrNotFound {
		return true
	}
	return target == ErrKeyNotFound && e.Kind == kindTunable
}

const (
	kindTunable = "tunable"
	kindType    = "type"
	kindBucket  = "bucket"
	kindRule    = "rule"
	kindDevice  = "device"
)

func notFound(kind string, key any) error {
	return &NotFoundError{Kind: kind, Key: fmt.Sprintf("%v", key)}
}

// IntegrityErrorf builds an error wrapping ErrIntegrity.
func IntegrityErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrIntegrity, fmt.Sprintf(format, args...))
}

// RuleFormatErrorf builds an error wrapping ErrInvalidRuleFormat.
func RuleFormatErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRuleFormat, fmt.Sprintf(format, args...))
}
