package mail

import "context"

// Message is a fetched inbox message reduced to the fields the pipeline
// consumes. Body holds the preferred text part (plain text when present,
// HTML otherwise), unprocessed. InlineImages carries every image part,
// inline or attached, for OCR.
type Message struct {
	ID           string
	ThreadID     string
	Subject      string
	Sender       string
	Snippet      string
	Body         string
	HTMLBody     bool
	InlineImages []Attachment
}

// Draft is an unsent reply placed in the drafts mailbox.
type Draft struct {
	To        string
	Subject   string
	Body      string
	InReplyTo string
}

// Attachment is a file part on an outgoing message.
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// OutgoingMessage is mail sent immediately rather than drafted.
type OutgoingMessage struct {
	To          string
	Subject     string
	Body        string
	Attachments []Attachment
}

// Client is the mailbox the triage run operates on.
type Client interface {
	// FetchUnread returns all unseen messages in the configured inbox
	// without marking them read.
	FetchUnread(ctx context.Context) ([]Message, error)
	// CreateDraft stores a draft in the drafts mailbox.
	CreateDraft(ctx context.Context, draft Draft) error
	// AddLabel files a copy of the message under the named mailbox,
	// creating it if needed.
	AddLabel(ctx context.Context, messageID, label string) error
	// MarkAsRead sets the seen flag on the message.
	MarkAsRead(ctx context.Context, messageID string) error
	// Send delivers a message, attachments included.
	Send(ctx context.Context, msg OutgoingMessage) error
	// Close releases the underlying connections.
	Close() error
}
