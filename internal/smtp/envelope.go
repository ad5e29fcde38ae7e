package smtp

import "strings"

// Envelope is the MAIL FROM / RCPT TO state of one submission.
type Envelope struct {
	From string
	To   []string

	rcptQueue  []string
	rcptFailed []string
	current    string
}

func newEnvelope(from string, to []string) *Envelope {
	e := &Envelope{From: normalizeAddress(from)}
	for _, addr := range to {
		if addr = normalizeAddress(addr); addr != "" {
			e.To = append(e.To, addr)
		}
	}
	e.rcptQueue = append([]string(nil), e.To...)
	return e
}

// next dequeues the next recipient into current.
func (e *Envelope) next() (string, bool) {
	if len(e.rcptQueue) == 0 {
		return "", false
	}
	e.current, e.rcptQueue = e.rcptQueue[0], e.rcptQueue[1:]
	return e.current, true
}

func (e *Envelope) reject() {
	e.rcptFailed = append(e.rcptFailed, e.current)
}

func (e *Envelope) allRejected() bool {
	return len(e.rcptFailed) == len(e.To)
}

// FailedRecipients returns the soft-rejected recipients so far.
func (e *Envelope) FailedRecipients() []string {
	return append([]string(nil), e.rcptFailed...)
}

// normalizeAddress strips surrounding whitespace and angle brackets.
func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	addr = strings.TrimPrefix(addr, "<")
	addr = strings.TrimSuffix(addr, ">")
	return strings.TrimSpace(addr)
}
