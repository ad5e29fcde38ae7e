package smtp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

const submitChunkSize = 16 * 1024

// Result describes a finished submission.
type Result struct {
	SessionID        string
	Success          bool
	FailedRecipients []string
}

// Submit sends one message over a new Session: connect, authenticate,
// envelope, body, QUIT. It blocks until the session has closed. config.Events
// still receive every event.
func Submit(ctx context.Context, config Configuration, from string, to []string, body []byte) (*Result, error) {
	var (
		sess     *Session
		result   = &Result{}
		firstErr error
		started  bool
		ended    bool
		offset   int
		closed   = make(chan struct{})
	)

	setErr := func(err error) {
		if firstErr == nil {
			firstErr = err
		}
	}

	quit := func() {
		if err := sess.Quit(); err != nil && !errors.Is(err, ErrDestroyed) {
			setErr(err)
			_ = sess.Close()
		}
	}

	pump := func() {
		for !ended {
			if offset >= len(body) {
				ended = true
				if _, err := sess.End(nil); err != nil {
					setErr(err)
					_ = sess.Close()
				}
				return
			}

			end := min(offset+submitChunkSize, len(body))
			ok, err := sess.Send(body[offset:end])
			if err != nil {
				setErr(err)
				_ = sess.Close()
				return
			}
			offset = end
			if !ok {
				return
			}
		}
	}

	own := Events{
		OnIdle: func() {
			if started {
				quit()
				return
			}
			started = true

			if limit, ok := sess.MaxMessageSize(); ok && uint64(len(body)) > limit {
				setErr(&Error{Kind: KindUsage, Op: "submit", Err: fmt.Errorf("%w: %d > %d bytes", ErrMessageTooLarge, len(body), limit)})
				quit()
				return
			}
			if err := sess.UseEnvelope(from, to); err != nil {
				setErr(err)
				quit()
			}
		},
		OnReady: func(failed []string) {
			result.FailedRecipients = failed
			pump()
		},
		OnDrain: pump,
		OnDone: func(success bool) {
			result.Success = success
			if !success {
				setErr(replyError(KindProtocol, "submit", sess.LastResponse(), ErrMessageRejected))
			}
			quit()
		},
		OnError: setErr,
		OnClose: func() {
			close(closed)
		},
	}

	config.Events = Merge(config.Events, own)
	sess = NewSession(config)
	result.SessionID = sess.ID()

	if err := sess.Connect(ctx); err != nil {
		// Connect returns dial failures without events; end the session for listeners
		config.Events.error(err)
		config.Events.close()
		return result, err
	}

	select {
	case <-closed:
	case <-ctx.Done():
		sess.Abort()
		<-closed
		return result, fmt.Errorf("submission aborted: %w", ctx.Err())
	}

	if firstErr != nil {
		return result, firstErr
	}
	if !result.Success {
		// closed before the server judged the message
		return result, &Error{Kind: KindTransport, Op: "submit", Err: ErrConnectionClosed}
	}

	sess.logger.Info("Email submitted", slog.Int("bytes", len(body)), slog.Int("failed_recipients", len(result.FailedRecipients)))
	return result, nil
}
