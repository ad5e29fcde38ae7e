package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/OliverSchlueter/goutils/sloki"
	"github.com/OliverSchlueter/mail-submit/internal/mail"
	"github.com/OliverSchlueter/mail-submit/internal/mailhandler"
	"github.com/OliverSchlueter/mail-submit/internal/mails"
	fakemails "github.com/OliverSchlueter/mail-submit/internal/mails/database/fake"
	"github.com/OliverSchlueter/mail-submit/internal/smtp"
	"github.com/OliverSchlueter/mail-submit/internal/smtptest"
	"github.com/OliverSchlueter/mail-submit/internal/submission"
	"github.com/OliverSchlueter/mail-submit/internal/users"
	"github.com/OliverSchlueter/mail-submit/internal/users/database/fake"
	"golang.org/x/sync/errgroup"
)

const hostname = "localhost"

func main() {
	lokiService := sloki.NewService(sloki.Configuration{
		URL:          "http://localhost:3100/loki/api/v1/push",
		Service:      "mail-submit-e2e",
		ConsoleLevel: slog.LevelDebug,
		LokiLevel:    slog.LevelInfo,
		EnableLoki:   false,
	})
	slog.SetDefault(slog.New(lokiService))

	// users
	us := users.NewStore(users.Configuration{
		DB: fake.NewDB(),
	})

	// add test users
	_ = us.Create(users.User{
		Name:         "oliver",
		Password:     "oliver123",
		Token:        "oliver-token",
		PrimaryEmail: "oliver@" + hostname,
		Emails: []string{
			"oliver@" + hostname,
		},
	})

	// mails
	ms := mails.NewStore(mails.Configuration{
		DB: fakemails.NewDB(),
	})

	// smtp server
	srv := smtptest.NewServer(smtptest.Configuration{
		Hostname:         hostname,
		Users:            us,
		Mails:            ms,
		RequireAuth:      true,
		CheckSender:      true,
		MaxSize:          10 * 1024 * 1024,
		RejectRecipients: []string{"nobody@" + hostname},
	})
	if err := srv.Start(); err != nil {
		slog.Error("Failed to start SMTP server", sloki.WrapError(err))
		os.Exit(1)
	}
	defer srv.Close()
	host, port := srv.Addr()
	slog.Info("Started SMTP server", "host", host, "port", port)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// one session per mechanism, in parallel
	g, gctx := errgroup.WithContext(ctx)
	for _, creds := range []smtp.Credentials{
		{User: "oliver", Pass: "oliver123"},
		{User: "oliver", XOAuth2Token: "oliver-token"},
	} {
		g.Go(func() error {
			return submit(gctx, host, port, creds)
		})
	}
	if err := g.Wait(); err != nil {
		slog.Error("End-to-end submission failed", sloki.WrapError(err))
		os.Exit(1)
	}

	// http api
	submitter := submission.NewSubmitter(submission.Configuration{
		Session: smtp.Configuration{
			Host:        host,
			Port:        port,
			Credentials: &smtp.Credentials{User: "oliver", Pass: "oliver123"},
		},
	})
	mux := http.NewServeMux()
	mailhandler.New(ms, submitter).Register("/api/v1", mux)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		slog.Error("Failed to listen for HTTP", sloki.WrapError(err))
		os.Exit(1)
	}
	httpSrv := &http.Server{Handler: mux}
	go func() {
		if err := httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server stopped", sloki.WrapError(err))
		}
	}()
	defer httpSrv.Close()

	if err := submitHTTP(ctx, "http://"+ln.Addr().String()+"/api/v1"); err != nil {
		slog.Error("HTTP submission failed", sloki.WrapError(err))
		os.Exit(1)
	}

	for _, m := range srv.Messages() {
		slog.Info("Server received message", "id", m.ID, "auth_user", m.AuthUser, "to", m.To, "bytes", m.Size())
	}
}

func submitHTTP(ctx context.Context, baseURL string) error {
	data, err := json.Marshal(mailhandler.CreateSubmissionReq{
		From:    "oliver@" + hostname,
		To:      []string{"peter@" + hostname},
		Subject: "Sent through the API",
		Body:    "Hello from the HTTP endpoint.\r\n",
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/submissions", bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	var created mailhandler.CreateSubmissionResp
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return err
	}
	slog.Info("Submitted message over HTTP", "session_id", created.SessionID)
	return nil
}

func submit(ctx context.Context, host string, port int, creds smtp.Credentials) error {
	m := mail.Message{
		From:    "oliver@" + hostname,
		To:      []string{"peter@" + hostname, "nobody@" + hostname},
		Subject: "Why are you not using mail-submit yet?",
		Body:    ".A line starting with a dot\r\nYou won't need a sales pitch.\r\n",
	}
	body, err := mail.Compose(m)
	if err != nil {
		return err
	}

	res, err := smtp.Submit(ctx, smtp.Configuration{
		Host:        host,
		Port:        port,
		Credentials: &creds,
	}, m.From, m.Recipients(), body)
	if err != nil {
		return err
	}

	slog.Info("Submitted message", "session_id", res.SessionID, "failed_recipients", res.FailedRecipients)
	return nil
}
