package smtp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"
)

const (
	DefaultDialTimeout    = 30 * time.Second
	DefaultSocketTimeout  = 10 * time.Second
	DefaultTimeoutPerByte = 100 * time.Microsecond
	DefaultHighWaterMark  = 64 * 1024
)

// TransportHandler receives inbound transport events. A Transport invokes
// the callbacks sequentially from a single goroutine and OnClose last.
type TransportHandler struct {
	OnData  func(p []byte)
	OnDrain func()
	OnClose func()
	OnError func(err error)
}

// Transport is a byte pipe to the server.
type Transport interface {
	// Start begins delivering events to h.
	Start(h TransportHandler)
	// Send queues p and reports false when the outbound buffer is saturated;
	// OnDrain fires once it has been flushed.
	Send(p []byte) bool
	// Close tears the connection down. OnClose still fires.
	Close() error
}

// replyWaiter is implemented by transports that time out a silent server.
// The session calls stopWaiting once a complete reply has arrived.
type replyWaiter interface {
	stopWaiting()
}

// Dialer opens transports.
type Dialer interface {
	Open(ctx context.Context, host string, port int, secure bool) (Transport, error)
}

// NetDialer opens TCP transports, wrapped in TLS when secure is set.
type NetDialer struct {
	Timeout   time.Duration
	TLSConfig *tls.Config
	// SocketTimeout and TimeoutPerByte bound how long the server may stay
	// silent after a send: SocketTimeout + len(p)*TimeoutPerByte. Partial
	// replies extend the wait by SocketTimeout.
	SocketTimeout  time.Duration
	TimeoutPerByte time.Duration
	HighWaterMark  int
}

func (d *NetDialer) Open(ctx context.Context, host string, port int, secure bool) (Transport, error) {
	dialer := &net.Dialer{Timeout: orDefault(d.Timeout, DefaultDialTimeout)}
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	var (
		conn net.Conn
		err  error
	)
	if secure {
		cfg := &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12}
		if d.TLSConfig != nil {
			cfg = d.TLSConfig.Clone()
			if cfg.ServerName == "" {
				cfg.ServerName = host
			}
		}
		tlsDialer := &tls.Dialer{NetDialer: dialer, Config: cfg}
		conn, err = tlsDialer.DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SMTP server %s: %w", addr, err)
	}

	hwm := d.HighWaterMark
	if hwm <= 0 {
		hwm = DefaultHighWaterMark
	}
	return newNetTransport(conn, orDefault(d.SocketTimeout, DefaultSocketTimeout), orDefault(d.TimeoutPerByte, DefaultTimeoutPerByte), hwm), nil
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

type transportEventKind int

const (
	transportData transportEventKind = iota
	transportDrain
	transportError
	transportClose
)

type transportEvent struct {
	kind transportEventKind
	data []byte
	err  error
}

type netTransport struct {
	conn           net.Conn
	socketTimeout  time.Duration
	timeoutPerByte time.Duration
	highWaterMark  int

	mu        sync.Mutex
	cond      *sync.Cond
	queue     [][]byte
	queued    int
	saturated bool
	closed    bool
	writeErr  error

	handler TransportHandler
	events  chan transportEvent
	done    chan struct{}
}

func newNetTransport(conn net.Conn, socketTimeout, perByte time.Duration, highWaterMark int) *netTransport {
	t := &netTransport{
		conn:           conn,
		socketTimeout:  socketTimeout,
		timeoutPerByte: perByte,
		highWaterMark:  highWaterMark,
		events:         make(chan transportEvent, 16),
		done:           make(chan struct{}),
	}
	t.cond = sync.NewCond(&t.mu)
	return t
}

func (t *netTransport) Start(h TransportHandler) {
	t.handler = h
	go t.dispatch()
	go t.writeLoop()
	go t.readLoop()
}

func (t *netTransport) Send(p []byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return false
	}

	buf := append([]byte(nil), p...)
	t.queue = append(t.queue, buf)
	t.queued += len(buf)
	_ = t.conn.SetReadDeadline(time.Now().Add(t.socketTimeout + time.Duration(len(buf))*t.timeoutPerByte))
	t.cond.Signal()

	if t.queued >= t.highWaterMark {
		t.saturated = true
		return false
	}
	return true
}

func (t *netTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.cond.Broadcast()
	t.mu.Unlock()

	return t.conn.Close()
}

func (t *netTransport) stopWaiting() {
	_ = t.conn.SetReadDeadline(time.Time{})
}

func (t *netTransport) post(ev transportEvent) {
	select {
	case t.events <- ev:
	case <-t.done:
	}
}

func (t *netTransport) dispatch() {
	defer close(t.done)

	for ev := range t.events {
		switch ev.kind {
		case transportData:
			if t.handler.OnData != nil {
				t.handler.OnData(ev.data)
			}
		case transportDrain:
			if t.handler.OnDrain != nil {
				t.handler.OnDrain()
			}
		case transportError:
			if t.handler.OnError != nil {
				t.handler.OnError(ev.err)
			}
		case transportClose:
			if t.handler.OnClose != nil {
				t.handler.OnClose()
			}
			return
		}
	}
}

func (t *netTransport) writeLoop() {
	for {
		t.mu.Lock()
		for len(t.queue) == 0 && !t.closed {
			t.cond.Wait()
		}
		if t.closed {
			t.mu.Unlock()
			return
		}
		buf := t.queue[0]
		t.queue = t.queue[1:]
		t.mu.Unlock()

		if _, err := t.conn.Write(buf); err != nil {
			t.mu.Lock()
			if !t.closed {
				t.closed = true
				t.writeErr = err
				t.cond.Broadcast()
			}
			t.mu.Unlock()
			_ = t.conn.Close()
			return
		}

		t.mu.Lock()
		t.queued -= len(buf)
		drained := t.saturated && t.queued == 0
		if drained {
			t.saturated = false
		}
		t.mu.Unlock()

		if drained {
			t.post(transportEvent{kind: transportDrain})
		}
	}
}

func (t *netTransport) readLoop() {
	buf := make([]byte, 4096)
	for {
		n, err := t.conn.Read(buf)
		if n > 0 {
			_ = t.conn.SetReadDeadline(time.Now().Add(t.socketTimeout))
			t.post(transportEvent{kind: transportData, data: append([]byte(nil), buf[:n]...)})
		}
		if err == nil {
			continue
		}

		t.mu.Lock()
		closedByUs := t.closed && t.writeErr == nil
		writeErr := t.writeErr
		t.closed = true
		t.cond.Broadcast()
		t.mu.Unlock()

		switch {
		case writeErr != nil:
			t.post(transportEvent{kind: transportError, err: writeErr})
		case closedByUs || errors.Is(err, io.EOF):
		default:
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				err = ErrTimeout
			}
			t.post(transportEvent{kind: transportError, err: err})
		}

		_ = t.conn.Close()
		t.post(transportEvent{kind: transportClose})
		return
	}
}
