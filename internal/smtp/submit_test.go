package smtp_test

import (
	"bufio"
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/OliverSchlueter/mail-submit/internal/smtp"
	"github.com/OliverSchlueter/mail-submit/internal/smtptest"
	"github.com/OliverSchlueter/mail-submit/internal/users"
	"github.com/OliverSchlueter/mail-submit/internal/users/database/fake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBody = "Subject: Test Mail\r\n\r\n.leading dot\r\nThis is a test mail.\r\n"

func startServer(t *testing.T, config smtptest.Configuration) (*smtptest.Server, smtp.Configuration) {
	t.Helper()

	if config.Users == nil {
		us := users.NewStore(users.Configuration{DB: fake.NewDB()})
		err := us.Create(users.User{
			Name:         "oliver",
			Password:     "oliver123",
			Token:        "ya29.token",
			PrimaryEmail: "oliver@localhost",
		})
		require.NoError(t, err)
		config.Users = us
	}

	srv := smtptest.NewServer(config)
	require.NoError(t, srv.Start())
	t.Cleanup(func() { _ = srv.Close() })

	host, port := srv.Addr()
	return srv, smtp.Configuration{
		Host: host,
		Port: port,
		Dialer: &smtp.NetDialer{
			Timeout:       5 * time.Second,
			SocketTimeout: 5 * time.Second,
		},
	}
}

func submit(t *testing.T, config smtp.Configuration, to ...string) (*smtp.Result, error) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return smtp.Submit(ctx, config, "oliver@localhost", to, []byte(testBody))
}

func TestSubmitAuthPlain(t *testing.T) {
	srv, config := startServer(t, smtptest.Configuration{RequireAuth: true})
	config.Credentials = &smtp.Credentials{User: "oliver", Pass: "oliver123"}

	res, err := submit(t, config, "peter@localhost")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.NotEmpty(t, res.SessionID)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "oliver", msgs[0].AuthUser)
	assert.Equal(t, "oliver@localhost", msgs[0].From)
	assert.Equal(t, []string{"peter@localhost"}, msgs[0].To)
	assert.Equal(t, testBody, msgs[0].Data)
}

func TestSubmitAuthLogin(t *testing.T) {
	srv, config := startServer(t, smtptest.Configuration{RequireAuth: true, AuthMechanisms: []string{"LOGIN"}})
	config.Credentials = &smtp.Credentials{User: "oliver", Pass: "oliver123"}

	_, err := submit(t, config, "peter@localhost")
	require.NoError(t, err)
	require.Len(t, srv.Messages(), 1)
}

func TestSubmitXOAuth2(t *testing.T) {
	srv, config := startServer(t, smtptest.Configuration{RequireAuth: true})
	config.Credentials = &smtp.Credentials{User: "oliver", XOAuth2Token: "ya29.token"}

	_, err := submit(t, config, "peter@localhost")
	require.NoError(t, err)
	require.Len(t, srv.Messages(), 1)
}

func TestSubmitXOAuth2Rejected(t *testing.T) {
	srv, config := startServer(t, smtptest.Configuration{RequireAuth: true})
	config.Credentials = &smtp.Credentials{User: "oliver", XOAuth2Token: "expired"}

	_, err := submit(t, config, "peter@localhost")
	require.Error(t, err)
	assert.Equal(t, smtp.KindAuth, smtp.KindOf(err))
	assert.Empty(t, srv.Messages())
}

func TestSubmitWithoutAuthRequired(t *testing.T) {
	_, config := startServer(t, smtptest.Configuration{RequireAuth: true})

	_, err := submit(t, config, "peter@localhost")
	require.Error(t, err)
	assert.Equal(t, smtp.KindProtocol, smtp.KindOf(err))
}

func TestSubmitHeloFallback(t *testing.T) {
	srv, config := startServer(t, smtptest.Configuration{RejectEHLO: true})

	_, err := submit(t, config, "peter@localhost")
	require.NoError(t, err)
	require.Len(t, srv.Messages(), 1)
}

func TestSubmitPartialRecipients(t *testing.T) {
	srv, config := startServer(t, smtptest.Configuration{RejectRecipients: []string{"nobody@localhost"}})

	res, err := submit(t, config, "nobody@localhost", "peter@localhost")
	require.NoError(t, err)
	assert.Equal(t, []string{"nobody@localhost"}, res.FailedRecipients)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, []string{"peter@localhost"}, msgs[0].To)
}

func TestSubmitAllRecipientsRejected(t *testing.T) {
	srv, config := startServer(t, smtptest.Configuration{RejectRecipients: []string{"nobody@localhost"}})

	_, err := submit(t, config, "nobody@localhost")
	require.ErrorIs(t, err, smtp.ErrRecipientsRejected)
	assert.Equal(t, smtp.KindRecipients, smtp.KindOf(err))
	assert.Empty(t, srv.Messages())
}

func TestSubmitTooLarge(t *testing.T) {
	srv, config := startServer(t, smtptest.Configuration{MaxSize: 16})

	_, err := submit(t, config, "peter@localhost")
	require.ErrorIs(t, err, smtp.ErrMessageTooLarge)
	assert.Empty(t, srv.Messages())
}

func TestSubmitMessageRejected(t *testing.T) {
	_, config := startServer(t, smtptest.Configuration{DataReply: "554 5.7.1 Message rejected as spam"})

	res, err := submit(t, config, "peter@localhost")
	require.ErrorIs(t, err, smtp.ErrMessageRejected)
	assert.False(t, res.Success)
	assert.False(t, smtp.IsTemporary(err))
}

func TestSubmitMessageDeferred(t *testing.T) {
	_, config := startServer(t, smtptest.Configuration{DataReply: "451 4.7.1 Try again later"})

	_, err := submit(t, config, "peter@localhost")
	require.ErrorIs(t, err, smtp.ErrMessageRejected)
	assert.True(t, smtp.IsTemporary(err))
	assert.Contains(t, err.Error(), "451")
}

func TestSubmitBadGreeting(t *testing.T) {
	_, config := startServer(t, smtptest.Configuration{Greeting: "554 5.3.2 Service unavailable"})

	_, err := submit(t, config, "peter@localhost")
	require.Error(t, err)
	assert.Equal(t, smtp.KindProtocol, smtp.KindOf(err))
}

func TestSubmitConnectionRefused(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	var errs, closes int
	config := smtp.Configuration{
		Host: "127.0.0.1",
		Port: port,
		Events: smtp.Events{
			OnError: func(error) { errs++ },
			OnClose: func() { closes++ },
		},
	}

	_, err = submit(t, config, "peter@localhost")
	require.Error(t, err)
	assert.Equal(t, smtp.KindTransport, smtp.KindOf(err))
	assert.Equal(t, 1, errs)
	assert.Equal(t, 1, closes)
}

// silentServer accepts one connection, greets, reads EHLO, optionally
// writes answer and then never speaks again.
func silentServer(t *testing.T, answer string) int {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	stop := make(chan struct{})
	t.Cleanup(func() { _ = l.Close() })
	t.Cleanup(func() { close(stop) })

	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		_, _ = conn.Write([]byte("220 silent.example ESMTP\r\n"))
		_, _ = bufio.NewReader(conn).ReadString('\n')
		if answer != "" {
			_, _ = conn.Write([]byte(answer))
		}
		<-stop
	}()

	return l.Addr().(*net.TCPAddr).Port
}

func TestSessionSocketTimeout(t *testing.T) {
	tests := []struct {
		name   string
		answer string
	}{
		{name: "no reply", answer: ""},
		{name: "partial multiline reply", answer: "250-silent.example\r\n"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			port := silentServer(t, tc.answer)

			var (
				mu     sync.Mutex
				errs   []error
				closes int
				closed = make(chan struct{})
			)
			s := smtp.NewSession(smtp.Configuration{
				Host:   "127.0.0.1",
				Port:   port,
				Dialer: &smtp.NetDialer{SocketTimeout: 200 * time.Millisecond},
				Events: smtp.Events{
					OnError: func(err error) {
						mu.Lock()
						errs = append(errs, err)
						mu.Unlock()
					},
					OnClose: func() {
						mu.Lock()
						closes++
						mu.Unlock()
						close(closed)
					},
				},
			})

			start := time.Now()
			require.NoError(t, s.Connect(context.Background()))

			select {
			case <-closed:
			case <-time.After(5 * time.Second):
				s.Abort()
				t.Fatal("session did not time out")
			}

			mu.Lock()
			defer mu.Unlock()
			assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)
			require.Len(t, errs, 1)
			assert.True(t, errors.Is(errs[0], smtp.ErrTimeout))
			assert.Equal(t, smtp.KindTransport, smtp.KindOf(errs[0]))
			assert.Equal(t, 1, closes)
		})
	}
}

func TestSubmitLargeBodyWithBackpressure(t *testing.T) {
	srv, config := startServer(t, smtptest.Configuration{})
	config.Dialer = &smtp.NetDialer{HighWaterMark: 1024}

	var body []byte
	for i := 0; i < 2000; i++ {
		body = append(body, ".line of text that needs stuffing\r\n"...)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := smtp.Submit(ctx, config, "oliver@localhost", []string{"peter@localhost"}, body)
	require.NoError(t, err)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, string(body), msgs[0].Data)
}
