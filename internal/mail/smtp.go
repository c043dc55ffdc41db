package mail

import (
	"bytes"
	"context"
	"fmt"
	"io"
	netmail "net/mail"
	"strings"
	"time"

	gomail "github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"mailmaestro/internal/config"
)

type smtpSender struct {
	cfg config.SMTPConfig
}

func newSMTPSender(cfg config.SMTPConfig) *smtpSender {
	return &smtpSender{cfg: cfg}
}

func (s *smtpSender) Send(ctx context.Context, msg OutgoingMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := writeOutgoingMessage(&buf, s.cfg.From, msg); err != nil {
		return fmt.Errorf("build message: %w", err)
	}

	recipients, err := splitAddresses(msg.To)
	if err != nil {
		return err
	}

	auth := sasl.NewPlainClient("", s.cfg.Username, s.cfg.Password)
	if err := smtp.SendMail(s.cfg.Address, auth, s.cfg.From, recipients, &buf); err != nil {
		return fmt.Errorf("send to %s: %w", msg.To, err)
	}
	return nil
}

func splitAddresses(to string) ([]string, error) {
	list, err := netmail.ParseAddressList(to)
	if err != nil {
		return nil, fmt.Errorf("invalid recipient %q: %w", to, err)
	}
	addrs := make([]string, len(list))
	for i, a := range list {
		addrs[i] = a.Address
	}
	return addrs, nil
}

func writeOutgoingMessage(w io.Writer, from string, msg OutgoingMessage) error {
	var h gomail.Header
	h.SetDate(time.Now())
	if err := setAddressHeader(&h, "From", from); err != nil {
		return err
	}
	if err := setAddressHeader(&h, "To", msg.To); err != nil {
		return err
	}
	h.SetSubject(msg.Subject)

	mw, err := gomail.CreateWriter(w, h)
	if err != nil {
		return err
	}

	var th gomail.InlineHeader
	th.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	tw, err := mw.CreateSingleInline(th)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(tw, msg.Body); err != nil {
		return err
	}
	if err := tw.Close(); err != nil {
		return err
	}

	for _, att := range msg.Attachments {
		var ah gomail.AttachmentHeader
		ah.SetFilename(att.Filename)
		ah.SetContentType(att.ContentType, nil)
		aw, err := mw.CreateAttachment(ah)
		if err != nil {
			return err
		}
		if _, err := aw.Write(att.Content); err != nil {
			return err
		}
		if err := aw.Close(); err != nil {
			return err
		}
	}

	return mw.Close()
}

func writeDraftMessage(w io.Writer, from string, draft Draft) error {
	var h gomail.Header
	h.SetDate(time.Now())
	if err := setAddressHeader(&h, "From", from); err != nil {
		return err
	}
	if err := setAddressHeader(&h, "To", draft.To); err != nil {
		return err
	}
	h.SetSubject(draft.Subject)
	if draft.InReplyTo != "" {
		h.SetMsgIDList("In-Reply-To", []string{strings.Trim(draft.InReplyTo, "<>")})
		h.SetMsgIDList("References", []string{strings.Trim(draft.InReplyTo, "<>")})
	}

	mw, err := gomail.CreateWriter(w, h)
	if err != nil {
		return err
	}

	var th gomail.InlineHeader
	th.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	tw, err := mw.CreateSingleInline(th)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(tw, draft.Body); err != nil {
		return err
	}
	if err := tw.Close(); err != nil {
		return err
	}

	return mw.Close()
}

func setAddressHeader(h *gomail.Header, field, value string) error {
	list, err := netmail.ParseAddressList(value)
	if err != nil {
		return fmt.Errorf("invalid %s address %q: %w", field, value, err)
	}
	addrs := make([]*gomail.Address, len(list))
	for i, a := range list {
		addrs[i] = &gomail.Address{Name: a.Name, Address: a.Address}
	}
	h.SetAddressList(field, addrs)
	return nil
}
