// internal/catalog/domain.go
package catalog

import (
	"time"

	"github.com/google/uuid"
)

// CopyStatus is the shelf state of a physical copy.
type CopyStatus string

const (
	StatusAvailable CopyStatus = "AVAILABLE"
	StatusOnLoan    CopyStatus = "ON_LOAN"
	StatusReserved  CopyStatus = "RESERVED"
	StatusLost      CopyStatus = "LOST"
	StatusDamaged   CopyStatus = "DAMAGED"
)

// Valid reports whether s is a known status.
func (s CopyStatus) Valid() bool {
	switch s {
	case StatusAvailable, StatusOnLoan, StatusReserved, StatusLost, StatusDamaged:
		return true
	}
	return false
}

// InCirculation reports whether the copy is currently bound to a loan or a hold.
func (s CopyStatus) InCirculation() bool {
	return s == StatusOnLoan || s == StatusReserved
}

// Book is a bibliographic record.
type Book struct {
	ID        uuid.UUID `json:"id"`
	ISBN      string    `json:"isbn"`
	Title     string    `json:"title"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"created_at"`
}

// Copy is a physical, individually loanable instance of a Book.
type Copy struct {
	ID      uuid.UUID  `json:"id"`
	BookID  uuid.UUID  `json:"book_id"`
	Title   string     `json:"title"`
	Barcode string     `json:"barcode"`
	Status  CopyStatus `json:"status"`
	Version int        `json:"version"`
}

// Availability summarises the copies of a book.
type Availability struct {
	BookID    uuid.UUID `json:"book_id"`
	Total     int       `json:"total"`
	Available int       `json:"available"`
}

// Tally computes the availability of bookID from its copies.
func Tally(bookID uuid.UUID, copies []Copy) *Availability {
	a := &Availability{BookID: bookID}
	for _, c := range copies {
		if c.BookID != bookID {
			continue
		}
		a.Total++
		if c.Status == StatusAvailable {
			a.Available++
		}
	}
	return a
}
