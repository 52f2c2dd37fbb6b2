package auth

import (
	"errors"
	"fmt"

	"github.com/openclaw/flux/pkg/models"
)

// ErrInsufficientRole is returned by RequireRole when the caller's role
// ranks below the required one.
var ErrInsufficientRole = errors.New("insufficient role")

// RequireRole enforces the linear role hierarchy readonly < user < admin
// (SPEC_FULL.md §4.9 invariant): have must rank at or above want.
func RequireRole(have, want models.UserRole) error {
	if have.Rank() < 0 {
		return fmt.Errorf("%w: unknown role %q", ErrInsufficientRole, have)
	}
	if have.Rank() < want.Rank() {
		return fmt.Errorf("%w: role %q does not satisfy required role %q", ErrInsufficientRole, have, want)
	}
	return nil
}

// CanAccess is the boolean form of RequireRole, used in places that only
// need a yes/no decision (e.g. HTTP route guards).
func CanAccess(have, want models.UserRole) bool {
	return RequireRole(have, want) == nil
}
