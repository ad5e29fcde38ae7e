package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/OliverSchlueter/mail-submit/internal/smtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// value returns the value of the counter, gauge or histogram sample count
// named name whose labels match labels.
func value(t *testing.T, m *Metrics, name string, labels map[string]string) float64 {
	t.Helper()

	families, err := m.Registry().Gather()
	require.NoError(t, err)

	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	metrics:
		for _, metric := range mf.GetMetric() {
			for _, l := range metric.GetLabel() {
				if labels[l.GetName()] != l.GetValue() {
					continue metrics
				}
			}
			switch {
			case metric.GetCounter() != nil:
				return metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				return metric.GetGauge().GetValue()
			case metric.GetHistogram() != nil:
				return float64(metric.GetHistogram().GetSampleCount())
			}
		}
	}
	return 0
}

func TestInstrumentSuccess(t *testing.T) {
	m := New()
	events := m.Instrument()
	assert.Equal(t, 1.0, value(t, m, "mail_submit_sessions_active", nil))

	events.OnReady([]string{"a@example.com", "b@example.com"})
	events.OnDone(true)
	events.OnClose()

	assert.Equal(t, 1.0, value(t, m, "mail_submit_submissions_total", map[string]string{"result": ResultSuccess}))
	assert.Equal(t, 2.0, value(t, m, "mail_submit_rejected_recipients_total", nil))
	assert.Equal(t, 0.0, value(t, m, "mail_submit_sessions_active", nil))
	assert.Equal(t, 1.0, value(t, m, "mail_submit_session_duration_seconds", nil))
}

func TestInstrumentFailure(t *testing.T) {
	m := New()
	events := m.Instrument()

	events.OnError(&smtp.Error{Kind: smtp.KindAuth, Op: "auth", Err: fmt.Errorf("bad")})
	events.OnClose()

	assert.Equal(t, 1.0, value(t, m, "mail_submit_session_errors_total", map[string]string{"kind": "auth"}))
	assert.Equal(t, 1.0, value(t, m, "mail_submit_submissions_total", map[string]string{"result": ResultFailed}))
}

func TestInstrumentRecipientsRejected(t *testing.T) {
	m := New()
	events := m.Instrument()

	events.OnError(&smtp.Error{Kind: smtp.KindRecipients, Op: "rcpt to", Err: smtp.ErrRecipientsRejected})
	events.OnClose()

	assert.Equal(t, 1.0, value(t, m, "mail_submit_submissions_total", map[string]string{"result": ResultRejected}))
	assert.Equal(t, 0.0, value(t, m, "mail_submit_submissions_total", map[string]string{"result": ResultFailed}))
}

func TestWriteTextfile(t *testing.T) {
	m := New()
	m.ObserveBody(1234)

	path := filepath.Join(t.TempDir(), "submit.prom")
	require.NoError(t, m.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "mail_submit_body_bytes_total 1234")
}
