package smtp

// Events are the caller-facing notifications of a Session. All callbacks run
// on the transport's event goroutine, one at a time, and may call back into
// the Session. Nil callbacks are skipped.
type Events struct {
	// OnIdle fires when the session accepts a new envelope, reset or quit.
	OnIdle func()
	// OnReady fires after DATA was accepted; the body may now be streamed.
	OnReady func(failedRecipients []string)
	// OnDrain fires when a saturated transport can take more data.
	OnDrain func()
	// OnDone reports the server's verdict on a whole message.
	OnDone  func(success bool)
	OnClose func()
	OnError func(err error)
}

func (e Events) idle() {
	if e.OnIdle != nil {
		e.OnIdle()
	}
}

func (e Events) ready(failed []string) {
	if e.OnReady != nil {
		e.OnReady(failed)
	}
}

func (e Events) drain() {
	if e.OnDrain != nil {
		e.OnDrain()
	}
}

func (e Events) done(success bool) {
	if e.OnDone != nil {
		e.OnDone(success)
	}
}

func (e Events) close() {
	if e.OnClose != nil {
		e.OnClose()
	}
}

func (e Events) error(err error) {
	if e.OnError != nil {
		e.OnError(err)
	}
}

// Merge returns Events that invoke each non-nil callback of all in order.
func Merge(all ...Events) Events {
	return Events{
		OnIdle: func() {
			for _, e := range all {
				e.idle()
			}
		},
		OnReady: func(failed []string) {
			for _, e := range all {
				e.ready(failed)
			}
		},
		OnDrain: func() {
			for _, e := range all {
				e.drain()
			}
		},
		OnDone: func(success bool) {
			for _, e := range all {
				e.done(success)
			}
		},
		OnClose: func() {
			for _, e := range all {
				e.close()
			}
		},
		OnError: func(err error) {
			for _, e := range all {
				e.error(err)
			}
		},
	}
}
