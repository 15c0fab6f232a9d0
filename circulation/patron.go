package circulation

import (
	"time"

	"github.com/google/uuid"
)

// Patron represents a borrower account.
//
// Only the Active flag participates in lending decisions; name and role are
// carried for display and never inspected by the rules.
type Patron struct {
	ID        uuid.UUID
	Name      string
	Role      string
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// BuildPatron creates a new, active patron account.
func BuildPatron(id uuid.UUID, name string, role string, createdAt time.Time) Patron {
	patron := Patron{
		ID:        id,
		Name:      name,
		Role:      role,
		Active:    true,
		CreatedAt: createdAt.UTC(),
		UpdatedAt: createdAt.UTC(),
	}

	return patron
}

// CanBorrow reports whether this patron may check out a book right now,
// given the number of overdue loans they currently hold.
// Returns ErrPatronInactive for deactivated accounts and
// ErrPatronHasOverdueItems when any overdue loan is outstanding.
func (p Patron) CanBorrow(overdueLoanCount int) error {
	if !p.Active {
		return ErrPatronInactive
	}

	if overdueLoanCount > 0 {
		return ErrPatronHasOverdueItems
	}

	return nil
}

// WithActive returns the patron with the active flag set accordingly.
// Deactivating an account blocks new checkouts only; existing loans can
// still be returned and renewed.
func (p Patron) WithActive(active bool, at time.Time) Patron {
	p.Active = active
	p.UpdatedAt = at.UTC()

	return p
}
