package circulation

import (
	"time"

	"github.com/google/uuid"
)

// BookStatus represents the availability of a catalog title.
type BookStatus string

const (
	// BookStatusAvailable means at least one copy can be checked out.
	BookStatusAvailable BookStatus = "available"

	// BookStatusCheckedOut means every copy is currently on loan.
	BookStatusCheckedOut BookStatus = "checked_out"

	// BookStatusMissing is an administrative override that blocks checkouts
	// regardless of the copy counts. It is never derived, only set explicitly.
	BookStatusMissing BookStatus = "missing"
)

// Book represents a catalog title and its physical inventory.
//
// The counts always satisfy 0 <= AvailableCopies <= TotalCopies; the
// transition methods refuse any change that would break this.
type Book struct {
	ID              uuid.UUID
	Title           string
	Author          string
	TotalCopies     int
	AvailableCopies int
	Status          BookStatus
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// BuildBook creates a new catalog entry with all copies available.
// Returns ErrInvalidCopyCount if totalCopies is negative.
func BuildBook(id uuid.UUID, title string, author string, totalCopies int, createdAt time.Time) (Book, error) {
	if totalCopies < 0 {
		return Book{}, ErrInvalidCopyCount
	}

	book := Book{
		ID:              id,
		Title:           title,
		Author:          author,
		TotalCopies:     totalCopies,
		AvailableCopies: totalCopies,
		Status:          DeriveBookStatus(totalCopies),
		CreatedAt:       createdAt.UTC(),
		UpdatedAt:       createdAt.UTC(),
	}

	return book, nil
}

// DeriveBookStatus returns the availability status implied by the copy count:
// checked_out when no copy is available, available otherwise.
// The missing status is never derived; see Book.MarkMissing.
func DeriveBookStatus(availableCopies int) BookStatus {
	if availableCopies <= 0 {
		return BookStatusCheckedOut
	}

	return BookStatusAvailable
}

// CanLend reports whether a copy of this book may be checked out.
// Returns ErrBookUnavailable when the book is marked missing or no copy is available.
func (b Book) CanLend() error {
	if b.Status == BookStatusMissing {
		return ErrBookUnavailable
	}

	if b.AvailableCopies <= 0 {
		return ErrBookUnavailable
	}

	return nil
}

// Checkout returns the book with one copy handed out.
// Returns ErrInventoryExhausted if no copy is available, so a concurrent
// checkout that took the last copy loses cleanly instead of driving the
// count negative.
func (b Book) Checkout(at time.Time) (Book, error) {
	if b.AvailableCopies <= 0 {
		return Book{}, ErrInventoryExhausted
	}

	b.AvailableCopies--
	b.UpdatedAt = at.UTC()

	if b.Status != BookStatusMissing {
		b.Status = DeriveBookStatus(b.AvailableCopies)
	}

	return b, nil
}

// CheckIn returns the book with one copy back on the shelf.
// Returns ErrInvalidCopyCount if the available count is already at the total,
// which would mean more copies came back than ever went out.
func (b Book) CheckIn(at time.Time) (Book, error) {
	if b.AvailableCopies >= b.TotalCopies {
		return Book{}, ErrInvalidCopyCount
	}

	b.AvailableCopies++
	b.UpdatedAt = at.UTC()

	if b.Status != BookStatusMissing {
		b.Status = DeriveBookStatus(b.AvailableCopies)
	}

	return b, nil
}

// WithTotalCopies returns the book with its total copy count adjusted,
// keeping the number of copies currently out on loan unchanged.
// Returns ErrInvalidCopyCount if totalCopies is negative or smaller than
// the number of copies currently out.
func (b Book) WithTotalCopies(totalCopies int, at time.Time) (Book, error) {
	if totalCopies < 0 {
		return Book{}, ErrInvalidCopyCount
	}

	copiesOut := b.TotalCopies - b.AvailableCopies
	if totalCopies < copiesOut {
		return Book{}, ErrInvalidCopyCount
	}

	b.TotalCopies = totalCopies
	b.AvailableCopies = totalCopies - copiesOut
	b.UpdatedAt = at.UTC()

	if b.Status != BookStatusMissing {
		b.Status = DeriveBookStatus(b.AvailableCopies)
	}

	return b, nil
}

// MarkMissing returns the book with the administrative missing override set.
// A missing book refuses checkouts but still accepts returns and renewals of
// loans already out.
func (b Book) MarkMissing(at time.Time) Book {
	b.Status = BookStatusMissing
	b.UpdatedAt = at.UTC()

	return b
}

// ClearMissing returns the book with the missing override lifted and the
// status re-derived from the copy counts.
func (b Book) ClearMissing(at time.Time) Book {
	b.Status = DeriveBookStatus(b.AvailableCopies)
	b.UpdatedAt = at.UTC()

	return b
}
