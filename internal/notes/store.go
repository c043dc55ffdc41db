package notes

import (
	"context"
	"time"
)

// ConcertRecord is one row in the concert tracking collection.
type ConcertRecord struct {
	EventName       string
	EventDate       time.Time
	DateKnown       bool
	VenueAddress    string
	PresaleInfo     string
	TicketLink      string
	AdditionalNotes string
	Summary         string
}

// Store persists concert records in an external notes collection.
type Store interface {
	Insert(ctx context.Context, collectionID string, record ConcertRecord) error
}
