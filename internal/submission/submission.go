// Package submission ties message signing, metrics and the SMTP client
// together for the CLI.
package submission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/OliverSchlueter/goutils/sloki"
	"github.com/OliverSchlueter/mail-submit/internal/mail"
	"github.com/OliverSchlueter/mail-submit/internal/metrics"
	"github.com/OliverSchlueter/mail-submit/internal/smtp"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"
)

type Configuration struct {
	Session smtp.Configuration
	// Signer DKIM-signs every body when set.
	Signer  *mail.Signer
	Metrics *metrics.Metrics

	Concurrency     int
	BreakerFailures int
	BreakerTimeout  time.Duration
}

type Submitter struct {
	session smtp.Configuration
	signer  *mail.Signer
	metrics *metrics.Metrics
	breaker *gobreaker.CircuitBreaker

	concurrency int
}

// Outcome is the result of one file of a batch. Temporary is set when the
// server deferred the message with a 4xx reply.
type Outcome struct {
	Path      string
	Result    *smtp.Result
	Err       error
	Temporary bool
}

func NewSubmitter(config Configuration) *Submitter {
	if config.Metrics == nil {
		config.Metrics = metrics.New()
	}
	if config.Concurrency < 1 {
		config.Concurrency = 1
	}
	if config.BreakerFailures < 1 {
		config.BreakerFailures = 5
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "smtp-submit",
		MaxRequests: 1,
		Timeout:     config.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(config.BreakerFailures)
		},
		// the server judging a message is not a failure of the connection
		IsSuccessful: func(err error) bool {
			return err == nil || smtp.KindOf(err) != smtp.KindTransport
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			slog.Warn("Circuit breaker state changed",
				"name", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})

	return &Submitter{
		session:     config.Session,
		signer:      config.Signer,
		metrics:     config.Metrics,
		breaker:     breaker,
		concurrency: config.Concurrency,
	}
}

func (s *Submitter) Metrics() *metrics.Metrics {
	return s.metrics
}

// Send signs body if configured and submits it over a new session.
func (s *Submitter) Send(ctx context.Context, from string, to []string, body []byte) (*smtp.Result, error) {
	if s.signer != nil {
		signed, err := s.signer.Sign(body)
		if err != nil {
			return nil, err
		}
		body = signed
	}

	config := s.session
	config.Events = smtp.Merge(config.Events, s.metrics.Instrument())

	res, err := smtp.Submit(ctx, config, from, to, body)
	if err != nil {
		return res, err
	}
	s.metrics.ObserveBody(len(body))
	return res, nil
}

// SendFiles submits every RFC 5322 file in paths, each over its own session.
// Envelope sender and recipients come from the message headers. Transport
// failures count towards the circuit breaker; once it opens the remaining
// files fail with gobreaker.ErrOpenState.
func (s *Submitter) SendFiles(ctx context.Context, paths []string) []Outcome {
	outcomes := make([]Outcome, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for i, path := range paths {
		g.Go(func() error {
			res, err := s.sendFile(gctx, path)
			outcomes[i] = Outcome{Path: path, Result: res, Err: err, Temporary: smtp.IsTemporary(err)}
			if err != nil {
				slog.Error("Failed to submit message",
					slog.String("path", path),
					slog.Bool("temporary", outcomes[i].Temporary),
					sloki.WrapError(err),
				)
			} else {
				slog.Info("Submitted message", slog.String("path", path), slog.String("session_id", res.SessionID))
			}
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

func (s *Submitter) sendFile(ctx context.Context, path string) (*smtp.Result, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	from, to, err := mail.Envelope(raw)
	if err != nil {
		return nil, err
	}

	v, err := s.breaker.Execute(func() (interface{}, error) {
		return s.Send(ctx, from, to, raw)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("skipped %s: %w", path, err)
	}

	res, _ := v.(*smtp.Result)
	return res, err
}

// Failed counts outcomes with an error.
func Failed(outcomes []Outcome) int {
	n := 0
	for _, o := range outcomes {
		if o.Err != nil {
			n++
		}
	}
	return n
}
