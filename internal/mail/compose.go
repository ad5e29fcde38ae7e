package mail

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/OliverSchlueter/goutils/idgen"
	gomail "github.com/wneessen/go-mail"
)

const userAgent = "mail-submit"

var ErrNoRecipients = errors.New("message has no recipients")

// Compose renders m into the bytes streamed after DATA.
func Compose(m Message) ([]byte, error) {
	if len(m.Recipients()) == 0 {
		return nil, ErrNoRecipients
	}

	msg := gomail.NewMsg()
	if err := msg.From(m.From); err != nil {
		return nil, fmt.Errorf("failed to set From address: %w", err)
	}
	if err := msg.To(m.To...); err != nil {
		return nil, fmt.Errorf("failed to set To address: %w", err)
	}
	if len(m.Cc) > 0 {
		if err := msg.Cc(m.Cc...); err != nil {
			return nil, fmt.Errorf("failed to set Cc address: %w", err)
		}
	}
	if m.ReplyTo != "" {
		if err := msg.ReplyTo(m.ReplyTo); err != nil {
			return nil, fmt.Errorf("failed to set Reply-To address: %w", err)
		}
	}
	msg.Subject(m.Subject)

	date := m.Date
	if date.IsZero() {
		date = time.Now()
	}
	msg.SetDateWithValue(date)

	domain := m.Domain
	if domain == "" {
		domain = DomainOf(m.From)
	}
	msg.SetMessageIDWithValue(idgen.GenerateID(20) + "@" + domain)
	msg.SetUserAgent(userAgent)

	contentType := gomail.TypeTextPlain
	if m.HTML {
		contentType = gomail.TypeTextHTML
	}
	msg.SetBodyString(contentType, m.Body)

	for _, path := range m.Attachments {
		msg.AttachFile(path)
	}

	var buf bytes.Buffer
	if _, err := msg.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to render message: %w", err)
	}
	return buf.Bytes(), nil
}

// Envelope reads the sender and all recipients from the headers of a
// rendered message.
func Envelope(raw []byte) (string, []string, error) {
	msg, err := gomail.EMLToMsgFromReader(bytes.NewReader(raw))
	if err != nil {
		return "", nil, fmt.Errorf("failed to parse message: %w", err)
	}

	from, err := msg.GetSender(false)
	if err != nil {
		return "", nil, fmt.Errorf("failed to get sender: %w", err)
	}
	to, err := msg.GetRecipients()
	if err != nil {
		return "", nil, fmt.Errorf("failed to get recipients: %w", err)
	}
	return from, to, nil
}

// DomainOf returns the part of addr after the last '@'.
func DomainOf(addr string) string {
	addr = strings.Trim(strings.TrimSpace(addr), "<>")
	if i := strings.LastIndex(addr, "@"); i >= 0 {
		return addr[i+1:]
	}
	return "localhost"
}
