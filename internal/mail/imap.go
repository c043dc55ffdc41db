package mail

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	gomail "github.com/emersion/go-message/mail"

	// Register charset decoders (windows-1252, iso-8859-*, koi8-r, etc.)
	_ "github.com/emersion/go-message/charset"

	"mailmaestro/internal/config"
	"mailmaestro/internal/logger"
	"mailmaestro/pkg/retry"
)

// IMAPClient implements Client against an IMAP mailbox for reads and drafts
// and an SMTP relay for outgoing mail.
type IMAPClient struct {
	mu     sync.Mutex
	conn   *imapclient.Client
	cfg    config.MailConfig
	sender *smtpSender
	logger logger.Logger

	// Message-ID header to UID mapping from the most recent fetch. IMAP
	// flag and copy commands address messages by UID.
	uids map[string]imap.UID
}

// NewIMAPClient dials and authenticates. Transient dial failures are retried
// with exponential backoff; authentication failures are not.
func NewIMAPClient(ctx context.Context, cfg config.MailConfig, log logger.Logger) (*IMAPClient, error) {
	var conn *imapclient.Client
	err := retry.Retry(ctx, retry.DefaultPolicy(), func() error {
		c, err := imapclient.DialTLS(cfg.IMAP.Address, nil)
		if err != nil {
			return fmt.Errorf("dial %s: %w", cfg.IMAP.Address, err)
		}
		if err := c.Login(cfg.IMAP.Username, cfg.IMAP.Password).Wait(); err != nil {
			c.Close()
			return retry.NewFatalError(fmt.Errorf("login failed: %w", err))
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &IMAPClient{
		conn:   conn,
		cfg:    cfg,
		sender: newSMTPSender(cfg.SMTP),
		logger: log,
		uids:   make(map[string]imap.UID),
	}, nil
}

func (c *IMAPClient) FetchUnread(ctx context.Context) ([]Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.conn.Select(c.cfg.Inbox, &imap.SelectOptions{ReadOnly: true}).Wait(); err != nil {
		return nil, fmt.Errorf("SELECT %s failed: %w", c.cfg.Inbox, err)
	}

	criteria := &imap.SearchCriteria{NotFlag: []imap.Flag{imap.FlagSeen}}
	searchData, err := c.conn.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("SEARCH failed: %w", err)
	}
	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return nil, nil
	}

	var uidSet imap.UIDSet
	uidSet.AddNum(uids...)

	bodySection := &imap.FetchItemBodySection{Peek: true}
	fetchOpts := &imap.FetchOptions{
		UID:         true,
		Envelope:    true,
		BodySection: []*imap.FetchItemBodySection{bodySection},
	}

	var messages []Message
	fetchCmd := c.conn.Fetch(uidSet, fetchOpts)
	for {
		msgData := fetchCmd.Next()
		if msgData == nil {
			break
		}

		msg, ok := c.buildMessage(msgData)
		if !ok {
			continue
		}
		messages = append(messages, msg)
	}
	if err := fetchCmd.Close(); err != nil {
		return messages, fmt.Errorf("FETCH failed: %w", err)
	}

	c.logger.InfowCtx(ctx, "fetched unread messages", "count", len(messages), "mailbox", c.cfg.Inbox)
	return messages, nil
}

func (c *IMAPClient) buildMessage(msgData *imapclient.FetchMessageData) (Message, bool) {
	var (
		msg Message
		uid imap.UID
		raw []byte
	)

	for {
		item := msgData.Next()
		if item == nil {
			break
		}
		switch data := item.(type) {
		case imapclient.FetchItemDataUID:
			uid = data.UID
		case imapclient.FetchItemDataEnvelope:
			if e := data.Envelope; e != nil {
				msg.ID = e.MessageID
				msg.Subject = decodeHeader(e.Subject)
				msg.Sender = formatAddresses(e.From)
				if len(e.InReplyTo) > 0 {
					msg.ThreadID = e.InReplyTo[0]
				}
			}
		case imapclient.FetchItemDataBodySection:
			b, err := io.ReadAll(data.Literal)
			if err == nil {
				raw = b
			}
		}
	}

	if msg.ID == "" {
		if uid == 0 {
			return Message{}, false
		}
		msg.ID = fmt.Sprintf("uid:%d", uid)
	}
	if msg.ThreadID == "" {
		msg.ThreadID = msg.ID
	}
	c.uids[msg.ID] = uid

	msg.Body, msg.HTMLBody, msg.InlineImages = extractBody(raw)
	msg.Snippet = snippet(msg.Body, 160)
	return msg, true
}

// extractBody pulls the preferred text part from a raw RFC 5322 message.
// Plain text wins; HTML is kept as a fallback and flagged so callers can
// strip the markup. Image parts, inline or attached, are collected for OCR.
func extractBody(raw []byte) (body string, isHTML bool, images []Attachment) {
	if len(raw) == 0 {
		return "", false, nil
	}

	mr, err := gomail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return rawBody(raw), false, nil
	}

	var plainText, htmlText string
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}
		switch h := p.Header.(type) {
		case *gomail.InlineHeader:
			ct, _, _ := mime.ParseMediaType(h.Get("Content-Type"))
			b, readErr := io.ReadAll(p.Body)
			if readErr != nil {
				continue
			}
			switch {
			case ct == "text/html":
				if htmlText == "" {
					htmlText = string(b)
				}
			case strings.HasPrefix(ct, "image/"):
				images = append(images, Attachment{ContentType: ct, Content: b})
			default:
				if plainText == "" {
					plainText = string(b)
				}
			}
		case *gomail.AttachmentHeader:
			ct, _, _ := mime.ParseMediaType(h.Get("Content-Type"))
			if !strings.HasPrefix(ct, "image/") {
				continue
			}
			b, readErr := io.ReadAll(p.Body)
			if readErr != nil {
				continue
			}
			filename, _ := h.Filename()
			images = append(images, Attachment{Filename: filename, ContentType: ct, Content: b})
		}
	}

	if plainText != "" {
		return strings.TrimSpace(plainText), false, images
	}
	if htmlText != "" {
		return strings.TrimSpace(htmlText), true, images
	}
	return rawBody(raw), false, images
}

// rawBody falls back to everything after the header block.
func rawBody(raw []byte) string {
	if idx := bytes.Index(raw, []byte("\r\n\r\n")); idx >= 0 {
		return strings.TrimSpace(string(raw[idx+4:]))
	}
	if idx := bytes.Index(raw, []byte("\n\n")); idx >= 0 {
		return strings.TrimSpace(string(raw[idx+2:]))
	}
	return ""
}

func snippet(body string, max int) string {
	s := strings.Join(strings.Fields(body), " ")
	if len(s) <= max {
		return s
	}
	cut := s[:max]
	if idx := strings.LastIndexByte(cut, ' '); idx > 0 {
		cut = cut[:idx]
	}
	return cut
}

func (c *IMAPClient) CreateDraft(ctx context.Context, draft Draft) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var buf bytes.Buffer
	if err := writeDraftMessage(&buf, c.cfg.SMTP.From, draft); err != nil {
		return fmt.Errorf("build draft: %w", err)
	}

	appendCmd := c.conn.Append(c.cfg.DraftsMailbox, int64(buf.Len()), &imap.AppendOptions{
		Flags: []imap.Flag{imap.FlagDraft},
		Time:  time.Now(),
	})
	if _, err := appendCmd.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("APPEND write failed: %w", err)
	}
	if err := appendCmd.Close(); err != nil {
		return fmt.Errorf("APPEND close failed: %w", err)
	}
	if _, err := appendCmd.Wait(); err != nil {
		return fmt.Errorf("APPEND to %s failed: %w", c.cfg.DraftsMailbox, err)
	}

	c.logger.InfowCtx(ctx, "draft created", "to", draft.To, "subject", draft.Subject)
	return nil
}

func (c *IMAPClient) AddLabel(ctx context.Context, messageID, label string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	uidSet, err := c.uidSetFor(messageID)
	if err != nil {
		return err
	}

	if _, err := c.conn.Select(c.cfg.Inbox, nil).Wait(); err != nil {
		return fmt.Errorf("SELECT %s failed: %w", c.cfg.Inbox, err)
	}

	if _, err := c.conn.Copy(uidSet, label).Wait(); err != nil {
		// Destination mailbox may not exist yet.
		if createErr := c.conn.Create(label, nil).Wait(); createErr != nil {
			return fmt.Errorf("COPY to %s failed: %w", label, err)
		}
		if _, err := c.conn.Copy(uidSet, label).Wait(); err != nil {
			return fmt.Errorf("COPY to %s failed: %w", label, err)
		}
	}

	c.logger.InfowCtx(ctx, "message labeled", "label", label)
	return nil
}

func (c *IMAPClient) MarkAsRead(ctx context.Context, messageID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	uidSet, err := c.uidSetFor(messageID)
	if err != nil {
		return err
	}

	if _, err := c.conn.Select(c.cfg.Inbox, nil).Wait(); err != nil {
		return fmt.Errorf("SELECT %s failed: %w", c.cfg.Inbox, err)
	}

	storeFlags := &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  []imap.Flag{imap.FlagSeen},
	}
	if err := c.conn.Store(uidSet, storeFlags, nil).Close(); err != nil {
		return fmt.Errorf("STORE failed: %w", err)
	}
	return nil
}

func (c *IMAPClient) Send(ctx context.Context, msg OutgoingMessage) error {
	return c.sender.Send(ctx, msg)
}

func (c *IMAPClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.Close()
}

func (c *IMAPClient) uidSetFor(messageID string) (imap.UIDSet, error) {
	uid, ok := c.uids[messageID]
	if !ok || uid == 0 {
		return nil, fmt.Errorf("unknown message id %q", messageID)
	}
	var uidSet imap.UIDSet
	uidSet.AddNum(uid)
	return uidSet, nil
}

var mimeWordDecoder = &mime.WordDecoder{}

func decodeHeader(s string) string {
	decoded, err := mimeWordDecoder.DecodeHeader(s)
	if err != nil {
		return s
	}
	return decoded
}

func formatAddresses(addrs []imap.Address) string {
	parts := make([]string, 0, len(addrs))
	for _, a := range addrs {
		email := fmt.Sprintf("%s@%s", a.Mailbox, a.Host)
		if name := decodeHeader(a.Name); name != "" {
			parts = append(parts, fmt.Sprintf("%s <%s>", name, email))
		} else {
			parts = append(parts, email)
		}
	}
	return strings.Join(parts, ", ")
}
