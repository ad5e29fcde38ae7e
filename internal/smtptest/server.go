// Package smtptest runs an in-process SMTP server with scriptable behaviour
// for exercising the submission client over real TCP.
package smtptest

import (
	"bufio"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/OliverSchlueter/goutils/sloki"
	"github.com/OliverSchlueter/mail-submit/internal/mails"
	"github.com/OliverSchlueter/mail-submit/internal/mails/database/fake"
	"github.com/OliverSchlueter/mail-submit/internal/users"
	"github.com/emersion/go-sasl"
)

type Configuration struct {
	Hostname string
	// Users enables AUTH; nil means AUTH is not advertised.
	Users *users.Store
	// Mails receives accepted messages; defaults to an in-memory store.
	Mails *mails.Store
	// AuthMechanisms advertised in EHLO. Defaults to PLAIN LOGIN XOAUTH2
	// when Users is set.
	AuthMechanisms []string
	RequireAuth    bool
	// CheckSender refuses MAIL FROM addresses the authenticated user
	// does not own.
	CheckSender bool
	RejectEHLO  bool
	// MaxSize is advertised as SIZE and enforced on DATA; 0 disables it.
	MaxSize          int
	RejectRecipients []string
	// DataAck and DataReply override the DATA and end-of-data replies.
	DataAck   string
	DataReply string
	// Greeting overrides the 220 banner.
	Greeting string
}

type Server struct {
	cfg      Configuration
	listener net.Listener

	mu    sync.Mutex
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
}

func NewServer(config Configuration) *Server {
	if config.Hostname == "" {
		config.Hostname = "localhost"
	}
	if config.Users != nil && len(config.AuthMechanisms) == 0 {
		config.AuthMechanisms = []string{"PLAIN", "LOGIN", "XOAUTH2"}
	}
	if config.Mails == nil {
		config.Mails = mails.NewStore(mails.Configuration{DB: fake.NewDB()})
	}

	return &Server{
		cfg:   config,
		conns: make(map[net.Conn]struct{}),
	}
}

// Start listens on a random loopback port and serves in the background.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.listener = listener

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := listener.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					return
				}
				slog.Warn("Failed to accept connection", sloki.WrapError(err))
				continue
			}

			s.mu.Lock()
			s.conns[conn] = struct{}{}
			s.mu.Unlock()

			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.handle(conn)

				s.mu.Lock()
				delete(s.conns, conn)
				s.mu.Unlock()
			}()
		}
	}()
	return nil
}

// Addr returns host and port of the listener.
func (s *Server) Addr() (string, int) {
	addr := s.listener.Addr().(*net.TCPAddr)
	return addr.IP.String(), addr.Port
}

func (s *Server) Close() error {
	err := s.listener.Close()

	s.mu.Lock()
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	return err
}

// Messages returns the mails accepted so far.
func (s *Server) Messages() []mails.Mail {
	msgs, err := s.cfg.Mails.GetMails()
	if err != nil {
		slog.Error("Failed to get mails", sloki.WrapError(err))
		return nil
	}
	return msgs
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()

	session := &session{remoteAddr: conn.RemoteAddr().String()}
	slog.Debug("New connection established", "remote_addr", session.remoteAddr)

	r := bufio.NewReader(conn)
	w := bufio.NewWriter(conn)

	if s.cfg.Greeting != "" {
		writeLine(w, s.cfg.Greeting)
	} else {
		writeLine(w, fmt.Sprintf(StatusServiceReady, s.cfg.Hostname))
	}

	for {
		if err := conn.SetDeadline(time.Now().Add(2 * time.Minute)); err != nil {
			slog.Error("Failed to set connection deadline", sloki.WrapError(err))
			return
		}

		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")
		slog.Debug("C: " + line)

		if session.mail.readingData {
			s.handleDataLine(session, w, line)
			continue
		}
		if session.auth.pending != "" {
			s.handleAuthContinuation(session, w, line)
			continue
		}

		upper := strings.ToUpper(line)
		switch {
		case strings.HasPrefix(upper, "EHLO "):
			s.handleEhlo(session, w, line[len("EHLO "):])
		case strings.HasPrefix(upper, "HELO "):
			s.handleHelo(session, w, line[len("HELO "):])
		case strings.HasPrefix(upper, "AUTH "):
			s.handleAuth(session, w, line[len("AUTH "):])
		case strings.HasPrefix(upper, "MAIL FROM:"):
			s.handleMailFrom(session, w, line[len("MAIL FROM:"):])
		case strings.HasPrefix(upper, "RCPT TO:"):
			s.handleRcptTo(session, w, line[len("RCPT TO:"):])
		case upper == "DATA":
			s.handleData(session, w)
		case upper == "RSET":
			session.mail.reset()
			session.authUser = ""
			writeLine(w, StatusOK)
		case upper == "NOOP":
			writeLine(w, StatusOK)
		case upper == "QUIT":
			writeLine(w, fmt.Sprintf(StatusConnClosed, s.cfg.Hostname))
			return
		default:
			writeLine(w, StatusBadCommand)
		}
	}
}

func (s *Server) handleEhlo(session *session, w *bufio.Writer, clientHostname string) {
	if s.cfg.RejectEHLO {
		writeLine(w, StatusBadCommand)
		return
	}

	session.heloReceived = true
	session.hostname = clientHostname

	lines := []string{fmt.Sprintf("%s greets %s", s.cfg.Hostname, clientHostname)}
	if len(s.cfg.AuthMechanisms) > 0 {
		lines = append(lines, "AUTH "+strings.Join(s.cfg.AuthMechanisms, " "))
	}
	if s.cfg.MaxSize > 0 {
		lines = append(lines, fmt.Sprintf("SIZE %d", s.cfg.MaxSize))
	}
	lines = append(lines, "ENHANCEDSTATUSCODES")

	for i, l := range lines {
		sep := "-"
		if i == len(lines)-1 {
			sep = " "
		}
		writeLine(w, "250"+sep+l)
	}
}

func (s *Server) handleHelo(session *session, w *bufio.Writer, clientHostname string) {
	session.heloReceived = true
	session.hostname = clientHostname
	writeLine(w, fmt.Sprintf(StatusGreeting, s.cfg.Hostname, clientHostname))
}

func (s *Server) handleAuth(session *session, w *bufio.Writer, args string) {
	if !session.heloReceived {
		writeLine(w, fmt.Sprintf(StatusBadSequence, "EHLO"))
		return
	}
	if s.cfg.Users == nil {
		writeLine(w, StatusNotImplemented)
		return
	}

	mech, ir, _ := strings.Cut(args, " ")
	mech = strings.ToUpper(mech)
	if !slices.Contains(s.cfg.AuthMechanisms, mech) {
		writeLine(w, StatusUnknownMechanism)
		return
	}

	switch mech {
	case "PLAIN":
		if ir == "" {
			session.auth.pending = "plain"
			writeLine(w, StatusAuthEmpty)
			return
		}
		s.authPlain(session, w, ir)
	case "LOGIN":
		session.auth.pending = "login-user"
		writeLine(w, StatusAuthUsername)
	case "XOAUTH2":
		s.authXOAuth2(session, w, ir)
	}
}

func (s *Server) handleAuthContinuation(session *session, w *bufio.Writer, line string) {
	pending := session.auth.pending
	session.auth.pending = ""

	switch pending {
	case "plain":
		s.authPlain(session, w, line)
	case "login-user":
		decoded, err := base64.StdEncoding.DecodeString(line)
		if err != nil {
			writeLine(w, StatusInvalidBase64)
			return
		}
		session.auth.username = string(decoded)
		session.auth.pending = "login-pass"
		writeLine(w, StatusAuthPassword)
	case "login-pass":
		decoded, err := base64.StdEncoding.DecodeString(line)
		if err != nil {
			writeLine(w, StatusInvalidBase64)
			return
		}
		if _, err := s.cfg.Users.Authenticate(session.auth.username, string(decoded)); err != nil {
			writeLine(w, StatusAuthenticationFailed)
			return
		}
		session.authUser = session.auth.username
		writeLine(w, StatusAuthSuccess)
	case "xoauth2-error":
		writeLine(w, StatusAuthenticationFailed)
	}
}

func (s *Server) authPlain(session *session, w *bufio.Writer, encoded string) {
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		writeLine(w, StatusInvalidBase64)
		return
	}

	var username string
	server := sasl.NewPlainServer(func(identity, user, password string) error {
		if identity != "" && identity != user {
			return errors.New("identity mismatch")
		}
		username = user
		_, err := s.cfg.Users.Authenticate(user, password)
		return err
	})
	if _, _, err := server.Next(decoded); err != nil {
		slog.Debug("AUTH PLAIN rejected", sloki.WrapError(err))
		writeLine(w, StatusAuthenticationFailed)
		return
	}

	session.authUser = username
	writeLine(w, StatusAuthSuccess)
}

func (s *Server) authXOAuth2(session *session, w *bufio.Writer, encoded string) {
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		writeLine(w, StatusInvalidBase64)
		return
	}

	var user, token string
	for _, field := range strings.Split(string(decoded), "\x01") {
		switch {
		case strings.HasPrefix(field, "user="):
			user = strings.TrimPrefix(field, "user=")
		case strings.HasPrefix(field, "auth=Bearer "):
			token = strings.TrimPrefix(field, "auth=Bearer ")
		}
	}

	if _, err := s.cfg.Users.AuthenticateToken(user, token); err != nil {
		session.auth.pending = "xoauth2-error"
		writeLine(w, "334 "+xoauth2Error)
		return
	}

	session.authUser = user
	writeLine(w, StatusAuthSuccess)
}

func (s *Server) handleMailFrom(session *session, w *bufio.Writer, arg string) {
	if !session.heloReceived {
		writeLine(w, fmt.Sprintf(StatusBadSequence, "EHLO"))
		return
	}
	if s.cfg.RequireAuth && session.authUser == "" {
		writeLine(w, StatusAuthRequired)
		return
	}

	from := strings.TrimSpace(strings.Trim(arg, "<> "))
	if s.cfg.CheckSender && session.authUser != "" {
		owner, err := s.cfg.Users.GetByEmail(from)
		if err != nil || owner.Name != session.authUser {
			writeLine(w, StatusSenderNotOwned)
			return
		}
	}

	session.mail.reset()
	session.mail.from = from
	session.mail.hasFrom = true
	writeLine(w, StatusOK)
}

func (s *Server) handleRcptTo(session *session, w *bufio.Writer, arg string) {
	if !session.mail.hasFrom {
		writeLine(w, fmt.Sprintf(StatusBadSequence, "MAIL FROM"))
		return
	}

	recipient := strings.Trim(arg, "<> ")
	if slices.Contains(s.cfg.RejectRecipients, recipient) {
		writeLine(w, StatusNoSuchUser)
		return
	}

	session.mail.to = append(session.mail.to, recipient)
	writeLine(w, StatusOK)
}

func (s *Server) handleData(session *session, w *bufio.Writer) {
	if len(session.mail.to) == 0 {
		writeLine(w, fmt.Sprintf(StatusBadSequence, "RCPT TO"))
		return
	}

	session.mail.readingData = true
	if s.cfg.DataAck != "" {
		writeLine(w, s.cfg.DataAck)
		return
	}
	writeLine(w, StatusStartMailInput)
}

func (s *Server) handleDataLine(session *session, w *bufio.Writer, line string) {
	if line != "." {
		line = strings.TrimPrefix(line, ".")
		session.mail.dataBuffer = append(session.mail.dataBuffer, line)
		session.mail.size += len(line) + 2
		return
	}

	defer session.mail.reset()

	if s.cfg.MaxSize > 0 && session.mail.size > s.cfg.MaxSize {
		writeLine(w, StatusMessageTooLarge)
		return
	}
	if s.cfg.DataReply != "" {
		writeLine(w, s.cfg.DataReply)
		return
	}

	m, err := s.cfg.Mails.CreateMail(mails.Mail{
		AuthUser: session.authUser,
		From:     session.mail.from,
		To:       slices.Clone(session.mail.to),
		Data:     session.mail.body(),
	})
	if err != nil {
		slog.Error("Failed to store mail", sloki.WrapError(err))
		writeLine(w, StatusLocalError)
		return
	}

	slog.Info("Incoming email received", "id", m.ID, "from", m.From, "to", m.To)
	writeLine(w, fmt.Sprintf(StatusQueued, m.ID))
}

func writeLine(w *bufio.Writer, line string) {
	if _, err := w.WriteString(line + "\r\n"); err != nil {
		slog.Error("Failed to write to connection", sloki.WrapError(err))
		return
	}
	if err := w.Flush(); err != nil {
		slog.Error("Failed to flush writer", sloki.WrapError(err))
		return
	}

	slog.Debug("S: " + line)
}
