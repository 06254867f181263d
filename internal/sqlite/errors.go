package sqlite

import (
	"fmt"
	"strings"

	"github.com/neutrons/PyVDrive-sub000/internal/repository"
)

// translate maps SQLite constraint failures onto the repository taxonomy and
// wraps everything else with op.
func translate(err error, op string) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return repository.ErrDuplicate
	case strings.Contains(msg, "FOREIGN KEY constraint failed"):
		return repository.ErrForeignKeyViolation
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}
