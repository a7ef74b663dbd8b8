package domain

import (
	"strings"
	"time"
	"unicode/utf8"
)

const (
	// MaxQuantity bounds every stored quantity and every single delta.
	MaxQuantity = 1_000_000_000
	// MaxRequestAmount bounds a single procurement request line.
	MaxRequestAmount = 1000

	minNoteLength = 3
	maxNoteLength = 500
)

type Item struct {
	ID        int64
	Name      string
	Quantity  int
	UpdatedAt time.Time
}

// StockLevel is a committed quantity tagged with the id of the ledger line
// that produced it. Versions of one item grow with every commit, because the
// line is written while the item row is locked.
type StockLevel struct {
	ItemID   int64
	Quantity int
	Version  int64
}

// BulkLine sets an item to an absolute quantity.
type BulkLine struct {
	ItemID      int64
	NewQuantity int
}

// CheckNote trims note and enforces the length bounds for ledger notes.
func CheckNote(note string) (string, error) {
	note = strings.TrimSpace(note)
	n := utf8.RuneCountInString(note)
	switch {
	case n == 0:
		return "", Invalid("note is required")
	case n < minNoteLength:
		return "", Invalid("note must be at least %d characters", minNoteLength)
	case n > maxNoteLength:
		return "", Invalid("note must be at most %d characters", maxNoteLength)
	}
	return note, nil
}

// CheckQuantity validates an absolute quantity.
func CheckQuantity(q int) error {
	if q < 0 || q > MaxQuantity {
		return Invalid("quantity %d out of range 0..%d", q, MaxQuantity)
	}
	return nil
}
