package mails

import "time"

// Mail is a message accepted by a server, as seen on the wire.
type Mail struct {
	ID         string    `json:"id"`
	AuthUser   string    `json:"auth_user"`
	From       string    `json:"from"`
	To         []string  `json:"to"`
	Data       string    `json:"data"`
	ReceivedAt time.Time `json:"received_at"`
}

// Size returns the length of Data in bytes.
func (m Mail) Size() int {
	return len(m.Data)
}
