package smtptest

import "strings"

type session struct {
	remoteAddr   string
	hostname     string
	heloReceived bool
	authUser     string
	auth         authState
	mail         mail
}

type authState struct {
	pending  string // "login-user", "login-pass", "plain", "xoauth2-error"
	username string
}

type mail struct {
	from        string
	hasFrom     bool
	to          []string
	dataBuffer  []string
	readingData bool
	size        int
}

func (m *mail) reset() {
	*m = mail{}
}

func (m *mail) body() string {
	if len(m.dataBuffer) == 0 {
		return ""
	}
	return strings.Join(m.dataBuffer, "\r\n") + "\r\n"
}
