package notes

import (
	"context"
	"fmt"

	"github.com/jomei/notionapi"

	"mailmaestro/internal/logger"
)

// Notion database property names the concert collection is expected to carry.
const (
	propTitle      = "Concert"
	propDate       = "Concert Date"
	propVenue      = "Venue Name"
	propPresale    = "Presale Information"
	propDesc       = "Description"
	propTicketLink = "Ticket Link"
	propNotes      = "Additional Notes"
)

// NotionStore writes concert records as pages of a Notion database.
type NotionStore struct {
	client *notionapi.Client
	logger logger.Logger
}

func NewNotionStore(apiKey string, log logger.Logger) *NotionStore {
	return &NotionStore{
		client: notionapi.NewClient(notionapi.Token(apiKey)),
		logger: log,
	}
}

func (s *NotionStore) Insert(ctx context.Context, collectionID string, record ConcertRecord) error {
	req := &notionapi.PageCreateRequest{
		Parent: notionapi.Parent{
			Type:       notionapi.ParentTypeDatabaseID,
			DatabaseID: notionapi.DatabaseID(collectionID),
		},
		Properties: buildProperties(record),
	}

	page, err := s.client.Page.Create(ctx, req)
	if err != nil {
		return fmt.Errorf("create page in %s: %w", collectionID, err)
	}

	s.logger.InfowCtx(ctx, "concert record stored", "page_id", page.ID, "event", record.EventName)
	return nil
}

func buildProperties(record ConcertRecord) notionapi.Properties {
	props := notionapi.Properties{
		propTitle: notionapi.TitleProperty{
			Title: richText(record.EventName),
		},
	}

	if record.DateKnown {
		d := notionapi.Date(record.EventDate)
		props[propDate] = notionapi.DateProperty{
			Date: &notionapi.DateObject{Start: &d},
		}
	}
	if record.VenueAddress != "" {
		props[propVenue] = notionapi.RichTextProperty{RichText: richText(record.VenueAddress)}
	}
	if record.PresaleInfo != "" {
		props[propPresale] = notionapi.RichTextProperty{RichText: richText(record.PresaleInfo)}
	}
	if record.Summary != "" {
		props[propDesc] = notionapi.RichTextProperty{RichText: richText(record.Summary)}
	}
	if record.TicketLink != "" {
		props[propTicketLink] = notionapi.URLProperty{URL: record.TicketLink}
	}
	if record.AdditionalNotes != "" {
		props[propNotes] = notionapi.RichTextProperty{RichText: richText(record.AdditionalNotes)}
	}

	return props
}

func richText(s string) []notionapi.RichText {
	return []notionapi.RichText{
		{Text: &notionapi.Text{Content: s}},
	}
}
