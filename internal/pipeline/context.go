package pipeline

import (
	"time"

	"mailmaestro/internal/mail"
)

// RecruiterInfo is what the extractor pulls out of a recruiter email.
type RecruiterInfo struct {
	Name    string
	Company string
	Role    string
	// Summary is the composed reply body, filled by the composer.
	Summary string
}

// ConcertDetails is what the extractor pulls out of a concert announcement.
type ConcertDetails struct {
	EventName       string `json:"event_name"`
	DateTime        string `json:"date_time"`
	VenueAddress    string `json:"venue_address"`
	PresaleInfo     string `json:"presale_info"`
	TicketLink      string `json:"ticket_link"`
	AdditionalNotes string `json:"additional_notes"`
	// Summary is the composed description, filled by the composer.
	Summary string `json:"-"`
}

// Context carries one message through the stages.
type Context struct {
	Message  mail.Message
	Category string
	// Body is the normalized text the stages work on, not the raw part.
	Body     string
	Language string
	// Env names the deployment environment the message was processed in.
	Env string
	Now time.Time

	Recruiter *RecruiterInfo
	Concert   *ConcertDetails
}
