package tracker

import (
	"fmt"
	"strings"
)

// ValidateKey validates a tracker key.
func ValidateKey(k Key) error {
	if k.RunNumber <= 0 {
		return ErrInvalidInput
	}
	if strings.ContainsAny(k.SliceKey, "/\\") {
		return ErrInvalidInput
	}
	return nil
}

// ValidateTransition allows forward moves only. States may be skipped, so
// an unsliced run goes from raw straight to focused and normalization is
// optional.
func ValidateTransition(from, to State) error {
	if !from.Valid() || !to.Valid() {
		return ErrInvalidInput
	}
	if stateRank[to] <= stateRank[from] {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
