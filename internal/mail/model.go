package mail

import "time"

// Message is an outgoing mail before it is rendered to RFC 5322 bytes.
type Message struct {
	From    string   `json:"from" toml:"from"`
	To      []string `json:"to" toml:"to"`
	Cc      []string `json:"cc" toml:"cc"`
	ReplyTo string   `json:"reply_to" toml:"reply_to"`
	Subject string   `json:"subject" toml:"subject"`
	Body    string   `json:"body" toml:"body"`
	// HTML switches the body content type to text/html.
	HTML        bool      `json:"html" toml:"html"`
	Attachments []string  `json:"attachments" toml:"attachments"`
	Date        time.Time `json:"date" toml:"date"`
	// Domain is used for the Message-ID; defaults to the sender's domain.
	Domain string `json:"domain" toml:"domain"`
}

// Recipients returns every envelope recipient of m.
func (m Message) Recipients() []string {
	rcpts := make([]string, 0, len(m.To)+len(m.Cc))
	rcpts = append(rcpts, m.To...)
	rcpts = append(rcpts, m.Cc...)
	return rcpts
}
