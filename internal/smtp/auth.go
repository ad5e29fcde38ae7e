package smtp

import (
	"encoding/base64"
	"fmt"
	"regexp"
	"strings"

	"github.com/emersion/go-sasl"
)

// AuthMechanism is a SASL mechanism this client can drive.
type AuthMechanism int

const (
	AuthAuto AuthMechanism = iota
	AuthPlain
	AuthLogin
	AuthXOAuth2
)

func (m AuthMechanism) String() string {
	switch m {
	case AuthAuto:
		return "AUTO"
	case AuthPlain:
		return "PLAIN"
	case AuthLogin:
		return "LOGIN"
	case AuthXOAuth2:
		return "XOAUTH2"
	default:
		return fmt.Sprintf("AuthMechanism(%d)", int(m))
	}
}

// ParseAuthMechanism maps a mechanism name to an AuthMechanism. An empty name
// selects AuthAuto.
func ParseAuthMechanism(name string) (AuthMechanism, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "", "AUTO":
		return AuthAuto, nil
	case "PLAIN":
		return AuthPlain, nil
	case "LOGIN":
		return AuthLogin, nil
	case "XOAUTH2":
		return AuthXOAuth2, nil
	default:
		return AuthAuto, fmt.Errorf("%w: %s", ErrUnknownAuthMechanism, name)
	}
}

// Credentials authenticate the session. XOAuth2Token is the bearer token
// used by XOAUTH2; Pass is used by PLAIN and LOGIN.
type Credentials struct {
	User         string
	Pass         string
	XOAuth2Token string
}

var (
	authPlainPattern   = regexp.MustCompile(`(?i)AUTH(?:\s+[^\n]*\s+|\s+)PLAIN`)
	authLoginPattern   = regexp.MustCompile(`(?i)AUTH(?:\s+[^\n]*\s+|\s+)LOGIN`)
	authXOAuth2Pattern = regexp.MustCompile(`(?i)AUTH(?:\s+[^\n]*\s+|\s+)XOAUTH2`)
	sizePattern        = regexp.MustCompile(`(?i)SIZE (\d+)`)
)

// detectAuthMechanisms scans an EHLO reply for supported mechanisms, in the
// fixed order PLAIN, LOGIN, XOAUTH2.
func detectAuthMechanisms(ehlo string) []AuthMechanism {
	var mechs []AuthMechanism
	if authPlainPattern.MatchString(ehlo) {
		mechs = append(mechs, AuthPlain)
	}
	if authLoginPattern.MatchString(ehlo) {
		mechs = append(mechs, AuthLogin)
	}
	if authXOAuth2Pattern.MatchString(ehlo) {
		mechs = append(mechs, AuthXOAuth2)
	}
	return mechs
}

// selectAuthMechanism picks the explicit mechanism, else XOAUTH2 when a token
// is configured, else the first server mechanism, else PLAIN.
func selectAuthMechanism(explicit AuthMechanism, creds *Credentials, supported []AuthMechanism) AuthMechanism {
	if explicit != AuthAuto {
		return explicit
	}
	if creds.XOAuth2Token != "" {
		return AuthXOAuth2
	}
	if len(supported) > 0 {
		return supported[0]
	}
	return AuthPlain
}

// plainInitialResponse returns the base64 AUTH PLAIN payload with an empty
// authorization identity.
func plainInitialResponse(creds *Credentials) (string, error) {
	_, ir, err := sasl.NewPlainClient("", creds.User, creds.Pass).Start()
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(ir), nil
}

func xoauth2InitialResponse(creds *Credentials) string {
	token := "user=" + creds.User + "\x01auth=Bearer " + creds.XOAuth2Token + "\x01\x01"
	return base64.StdEncoding.EncodeToString([]byte(token))
}

func encodeBase64(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}
