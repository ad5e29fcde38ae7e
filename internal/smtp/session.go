package smtp

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/OliverSchlueter/goutils/sloki"
	"github.com/google/uuid"
)

type Configuration struct {
	Host string
	// Port defaults to 465 when Secure is set and 25 otherwise.
	Port   int
	Secure bool
	// ClientName is announced in EHLO/HELO. Defaults to "localhost".
	ClientName string
	// Credentials enable authentication; nil skips it.
	Credentials *Credentials
	AuthMethod  AuthMechanism
	// DisableEscaping turns off dot-stuffing of body chunks.
	DisableEscaping bool
	Dialer          Dialer
	Events          Events
	Logger          *slog.Logger
}

// Session drives one SMTP submission connection. It is not safe for
// concurrent use: after Connect, call it only from within its Events
// callbacks (or Abort, which may be called from anywhere).
type Session struct {
	id              string
	host            string
	port            int
	secure          bool
	clientName      string
	creds           *Credentials
	authMethod      AuthMechanism
	disableEscaping bool
	dialer          Dialer
	events          Events
	logger          *slog.Logger

	transport       Transport
	parser          *Parser
	state           State
	supportedAuth   []AuthMechanism
	maxMessageSize  uint64
	hasMaxSize      bool
	envelope        *Envelope
	dataMode        bool
	lastSentTail    string
	lastResponse    Response
	authenticatedAs string
	closing         bool
	destroyed       bool
}

func NewSession(config Configuration) *Session {
	if config.Port == 0 {
		if config.Secure {
			config.Port = 465
		} else {
			config.Port = 25
		}
	}
	if config.ClientName == "" {
		config.ClientName = "localhost"
	}
	if config.Dialer == nil {
		config.Dialer = &NetDialer{}
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	id := uuid.New().String()
	return &Session{
		id:              id,
		host:            config.Host,
		port:            config.Port,
		secure:          config.Secure,
		clientName:      config.ClientName,
		creds:           config.Credentials,
		authMethod:      config.AuthMethod,
		disableEscaping: config.DisableEscaping,
		dialer:          config.Dialer,
		events:          config.Events,
		logger:          config.Logger.With(slog.String("session_id", id), slog.String("host", config.Host)),
		state:           StateNew,
	}
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) State() State {
	return s.state
}

// Destroyed reports whether the session was closed. A destroyed session
// cannot be reconnected.
func (s *Session) Destroyed() bool {
	return s.destroyed
}

func (s *Session) DataMode() bool {
	return s.dataMode
}

// SupportedAuth returns the mechanisms detected in the EHLO reply.
func (s *Session) SupportedAuth() []AuthMechanism {
	return append([]AuthMechanism(nil), s.supportedAuth...)
}

// MaxMessageSize returns the SIZE advertised in the EHLO reply.
func (s *Session) MaxMessageSize() (uint64, bool) {
	return s.maxMessageSize, s.hasMaxSize
}

// LastResponse returns the most recent complete server reply.
func (s *Session) LastResponse() Response {
	return s.lastResponse
}

// AuthenticatedAs returns the user the session authenticated as, if any.
func (s *Session) AuthenticatedAs() string {
	return s.authenticatedAs
}

// Connect opens the transport. The session then waits for the greeting and
// negotiates on its own; OnIdle signals that it is ready for commands.
func (s *Session) Connect(ctx context.Context) error {
	if s.destroyed || s.closing {
		return usageError("connect", ErrDestroyed)
	}
	if s.state != StateNew {
		return usageError("connect", ErrAlreadyConnected)
	}

	s.logger.Debug("Connecting to SMTP server", slog.Int("port", s.port), slog.Bool("secure", s.secure))

	t, err := s.dialer.Open(ctx, s.host, s.port, s.secure)
	if err != nil {
		s.state = StateClosed
		s.destroyed = true
		return &Error{Kind: KindTransport, Op: "connect", Err: err}
	}

	s.transport = t
	s.parser = NewParser(s.handle, s.onParseError)
	s.state = StateAwaitGreeting
	t.Start(TransportHandler{
		OnData:  s.onData,
		OnDrain: s.onDrain,
		OnClose: s.onClose,
		OnError: s.onTransportError,
	})
	return nil
}

// UseEnvelope starts a new submission with MAIL FROM. Only valid while idle.
func (s *Session) UseEnvelope(from string, to []string) error {
	if err := s.checkLive("use envelope"); err != nil {
		return err
	}
	if s.state != StateIdle {
		return usageError("use envelope", ErrNotIdle)
	}

	s.envelope = newEnvelope(from, to)
	s.state = StateAwaitMailAck
	s.sendCommand(fmt.Sprintf(cmdMailFrom, s.envelope.From))
	return nil
}

// Send streams a body chunk. The returned bool is false when the transport
// is saturated; wait for OnDrain before sending more.
func (s *Session) Send(chunk []byte) (bool, error) {
	if err := s.checkLive("send"); err != nil {
		return false, err
	}
	if !s.dataMode {
		return false, usageError("send", ErrNotDataMode)
	}
	return s.sendData(chunk), nil
}

// End sends final (if any) and the end-of-data marker.
func (s *Session) End(final []byte) (bool, error) {
	if err := s.checkLive("end"); err != nil {
		return false, err
	}
	if !s.dataMode {
		return false, usageError("end", ErrNotDataMode)
	}

	if len(final) > 0 {
		s.sendData(final)
	}

	terminator := bodyTerminator(s.lastSentTail)
	s.dataMode = false
	s.state = StateAwaitStreamAck
	s.logger.Debug("C: .")
	return s.transport.Send(terminator), nil
}

// Quit sends QUIT and closes the transport once the server answers. Only
// valid while idle; a second Quit before the answer is a no-op.
func (s *Session) Quit() error {
	if err := s.checkLive("quit"); err != nil {
		return err
	}
	if s.state == StateAwaitQuitAck {
		return nil
	}
	if s.state != StateIdle {
		return usageError("quit", ErrNotIdle)
	}

	s.state = StateAwaitQuitAck
	s.sendCommand(cmdQuit)
	return nil
}

// Reset sends RSET and re-authenticates, with creds if given.
func (s *Session) Reset(creds *Credentials) error {
	if err := s.checkLive("reset"); err != nil {
		return err
	}
	if s.state != StateIdle {
		return usageError("reset", ErrNotIdle)
	}

	if creds != nil {
		s.creds = creds
	}
	s.state = StateAwaitRsetAck
	s.sendCommand(cmdRset)
	return nil
}

// Close closes the transport without QUIT.
func (s *Session) Close() error {
	if s.destroyed {
		return nil
	}
	if s.transport == nil {
		s.destroy()
		return nil
	}

	s.closing = true
	s.state = StateClosed
	return s.transport.Close()
}

// Abort closes the transport and may be called from any goroutine once
// Connect has returned. The session reports it as a lost connection.
func (s *Session) Abort() {
	if t := s.transport; t != nil {
		_ = t.Close()
	}
}

func (s *Session) checkLive(op string) error {
	if s.destroyed || s.closing {
		return usageError(op, ErrDestroyed)
	}
	if s.state == StateNew {
		return usageError(op, ErrNotConnected)
	}
	return nil
}

func (s *Session) sendCommand(cmd string) bool {
	return s.sendLine(cmd, cmd)
}

// sendSecret sends a line carrying credentials and logs logLine instead.
func (s *Session) sendSecret(line, logLine string) bool {
	return s.sendLine(line, logLine)
}

func (s *Session) sendLine(line, logLine string) bool {
	s.logger.Debug("C: " + logLine)
	return s.transport.Send([]byte(line + "\r\n"))
}

func (s *Session) sendData(chunk []byte) bool {
	if len(chunk) == 0 {
		return true
	}
	if !s.disableEscaping {
		chunk = stuffDots(chunk, atLineStart(s.lastSentTail))
	}
	s.lastSentTail = updateTail(s.lastSentTail, chunk)

	s.logger.Debug("Sending payload", slog.Int("bytes", len(chunk)))
	return s.transport.Send(chunk)
}

func (s *Session) onData(p []byte) {
	if s.destroyed {
		return
	}
	if err := s.parser.Feed(string(p)); err != nil {
		s.logger.Warn("Dropped inbound data", sloki.WrapError(err))
	}
}

func (s *Session) onDrain() {
	if s.destroyed || s.closing {
		return
	}
	s.events.drain()
}

func (s *Session) onTransportError(err error) {
	s.fail(&Error{Kind: KindTransport, Op: "transport", Err: err})
}

func (s *Session) onClose() {
	if s.destroyed {
		return
	}
	s.logger.Debug("Socket closed")

	if err := s.parser.Finish(""); err != nil {
		s.logger.Warn("Failed to flush parser", sloki.WrapError(err))
	}
	if !s.closing && s.state != StateAwaitQuitAck {
		s.fail(&Error{Kind: KindTransport, Op: "transport", Err: ErrConnectionClosed})
	}
	s.destroy()
}

func (s *Session) onParseError(err error) {
	s.logger.Warn("Malformed server response", sloki.WrapError(err))
}

// fail surfaces err once and closes the transport. The session is inert
// from here on.
func (s *Session) fail(err *Error) {
	if s.closing || s.destroyed {
		s.logger.Debug("Suppressed error on closing session", sloki.WrapError(err))
		return
	}

	s.closing = true
	s.state = StateClosed
	s.dataMode = false
	s.logger.Error("SMTP session failed", slog.String("kind", err.Kind.String()), sloki.WrapError(err))
	s.events.error(err)
	if s.transport != nil {
		_ = s.transport.Close()
	}
}

func (s *Session) destroy() {
	if s.destroyed {
		return
	}
	s.destroyed = true
	s.closing = true
	s.state = StateClosed
	s.dataMode = false
	s.events.close()
}

// handle dispatches a complete reply to the handler of the current state.
func (s *Session) handle(r Response) {
	s.logger.Debug("S: " + r.Line)

	if s.closing || s.destroyed {
		return
	}

	// the reply answers the one outstanding command; sends below re-arm
	s.lastResponse = r
	if w, ok := s.transport.(replyWaiter); ok {
		w.stopWaiting()
	}

	switch s.state {
	case StateAwaitGreeting:
		s.handleGreeting(r)
	case StateAwaitEhlo:
		s.handleEhlo(r)
	case StateAwaitHelo:
		s.handleHelo(r)
	case StateAwaitAuthPlain, StateAwaitAuthComplete:
		s.handleAuthComplete(r)
	case StateAwaitLoginUser:
		s.handleLoginUser(r)
	case StateAwaitLoginPass:
		s.handleLoginPass(r)
	case StateAwaitXOAuth2:
		s.handleXOAuth2(r)
	case StateIdle, StateData:
		s.fail(replyError(KindProtocol, "unexpected reply in state "+s.state.String(), r, nil))
	case StateAwaitMailAck:
		s.handleMailAck(r)
	case StateAwaitRcptAck:
		s.handleRcptAck(r)
	case StateAwaitDataAck:
		s.handleDataAck(r)
	case StateAwaitStreamAck:
		s.handleStreamAck(r)
	case StateAwaitRsetAck:
		s.handleRsetAck(r)
	case StateAwaitQuitAck:
		s.handleQuitAck(r)
	case StateNew, StateClosed:
		s.logger.Debug("Ignoring reply", slog.String("state", s.state.String()))
	default:
		s.fail(replyError(KindProtocol, "reply in unknown state "+s.state.String(), r, nil))
	}
}

func (s *Session) handleGreeting(r Response) {
	if r.StatusCode != CodeServiceReady {
		s.fail(replyError(KindProtocol, "greeting", r, fmt.Errorf("invalid greeting")))
		return
	}

	s.state = StateAwaitEhlo
	s.sendCommand(fmt.Sprintf(cmdEhlo, s.clientName))
}

func (s *Session) handleEhlo(r Response) {
	if !r.Success {
		s.logger.Warn("EHLO not successful, trying HELO", slog.Int("code", r.StatusCode))
		s.state = StateAwaitHelo
		s.sendCommand(fmt.Sprintf(cmdHelo, s.clientName))
		return
	}

	s.supportedAuth = detectAuthMechanisms(r.Line)
	if m := sizePattern.FindStringSubmatch(r.Line); m != nil {
		if n, err := strconv.ParseUint(m[1], 10, 64); err == nil && n > 0 {
			s.maxMessageSize = n
			s.hasMaxSize = true
		}
	}

	s.authenticate()
}

func (s *Session) handleHelo(r Response) {
	if !r.Success {
		s.fail(replyError(KindProtocol, "helo", r, nil))
		return
	}
	s.authenticate()
}

// authenticate enters the auth sub-machine, or goes idle without credentials.
func (s *Session) authenticate() {
	if s.creds == nil {
		s.authenticatedAs = ""
		s.goIdle()
		return
	}

	mech := selectAuthMechanism(s.authMethod, s.creds, s.supportedAuth)
	s.logger.Debug("Authenticating", slog.String("mechanism", mech.String()), slog.String("user", s.creds.User))

	switch mech {
	case AuthPlain:
		ir, err := plainInitialResponse(s.creds)
		if err != nil {
			s.fail(&Error{Kind: KindAuth, Op: "auth plain", Err: err})
			return
		}
		s.state = StateAwaitAuthPlain
		s.sendSecret(fmt.Sprintf(cmdAuth, "PLAIN "+ir), "AUTH PLAIN ****")
	case AuthLogin:
		s.state = StateAwaitLoginUser
		s.sendCommand(fmt.Sprintf(cmdAuth, "LOGIN"))
	case AuthXOAuth2:
		s.state = StateAwaitXOAuth2
		s.sendSecret(fmt.Sprintf(cmdAuth, "XOAUTH2 "+xoauth2InitialResponse(s.creds)), "AUTH XOAUTH2 ****")
	default:
		s.fail(&Error{Kind: KindAuth, Op: "auth", Err: fmt.Errorf("%w: %s", ErrUnknownAuthMechanism, mech)})
	}
}

func (s *Session) handleLoginUser(r Response) {
	if r.StatusCode != CodeAuthContinue || r.Data != challengeUsername {
		s.fail(replyError(KindAuth, "auth login", r, fmt.Errorf("%w: expected %q", ErrInvalidLoginSequence, challengeUsername)))
		return
	}

	s.state = StateAwaitLoginPass
	s.sendSecret(encodeBase64(s.creds.User), "****")
}

func (s *Session) handleLoginPass(r Response) {
	if r.StatusCode != CodeAuthContinue || r.Data != challengePassword {
		s.fail(replyError(KindAuth, "auth login", r, fmt.Errorf("%w: expected %q", ErrInvalidLoginSequence, challengePassword)))
		return
	}

	s.state = StateAwaitAuthComplete
	s.sendSecret(encodeBase64(s.creds.Pass), "****")
}

// handleXOAuth2 answers a failed XOAUTH2 reply with one empty line so the
// server can finish its challenge; the next reply is final.
func (s *Session) handleXOAuth2(r Response) {
	if !r.Success {
		s.state = StateAwaitAuthComplete
		s.sendCommand("")
		return
	}
	s.handleAuthComplete(r)
}

func (s *Session) handleAuthComplete(r Response) {
	if !r.Success {
		s.fail(replyError(KindAuth, "auth", r, nil))
		return
	}

	s.authenticatedAs = s.creds.User
	s.logger.Info("Authenticated", slog.String("user", s.creds.User))
	s.goIdle()
}

func (s *Session) goIdle() {
	s.state = StateIdle
	s.events.idle()
}

func (s *Session) handleMailAck(r Response) {
	if !r.Success {
		s.fail(replyError(KindProtocol, "mail from", r, nil))
		return
	}

	rcpt, ok := s.envelope.next()
	if !ok {
		s.fail(replyError(KindRecipients, "mail from", r, ErrNoRecipients))
		return
	}

	s.state = StateAwaitRcptAck
	s.sendCommand(fmt.Sprintf(cmdRcptTo, rcpt))
}

func (s *Session) handleRcptAck(r Response) {
	if !r.Success {
		s.logger.Warn("Recipient rejected", slog.String("to", s.envelope.current), slog.Int("code", r.StatusCode))
		s.envelope.reject()
	}

	if rcpt, ok := s.envelope.next(); ok {
		s.sendCommand(fmt.Sprintf(cmdRcptTo, rcpt))
		return
	}

	if s.envelope.allRejected() {
		s.state = StateIdle
		s.events.error(replyError(KindRecipients, "rcpt to", r, ErrRecipientsRejected))
		if s.state == StateIdle && !s.closing {
			s.events.idle()
		}
		return
	}

	s.state = StateAwaitDataAck
	s.sendCommand(cmdData)
}

func (s *Session) handleDataAck(r Response) {
	if r.StatusCode != CodeStartMailInput && r.StatusCode != CodeOK {
		s.fail(replyError(KindProtocol, "data", r, nil))
		return
	}

	s.dataMode = true
	s.lastSentTail = ""
	s.state = StateData
	s.events.ready(s.envelope.FailedRecipients())
}

func (s *Session) handleStreamAck(r Response) {
	if r.Success {
		s.logger.Info("Message sent successfully", slog.String("from", s.envelope.From), slog.Any("to", s.envelope.To))
	} else {
		s.logger.Error("Message sending failed", slog.Int("code", r.StatusCode), slog.String("reply", r.Data))
	}

	s.state = StateIdle
	s.events.done(r.Success)
	if s.state == StateIdle && !s.closing {
		s.events.idle()
	}
}

func (s *Session) handleRsetAck(r Response) {
	if !r.Success {
		s.fail(replyError(KindProtocol, "rset", r, nil))
		return
	}

	s.authenticatedAs = ""
	s.authenticate()
}

func (s *Session) handleQuitAck(Response) {
	s.closing = true
	_ = s.transport.Close()
}
