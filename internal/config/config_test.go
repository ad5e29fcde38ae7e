package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/OliverSchlueter/mail-submit/internal/smtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "submit.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
host = "smtp.example.com"
port = 587
auth_method = "login"

[auth]
user = "oliver"
pass = "oliver123"

[timeouts]
socket = "20s"

[log]
level = "debug"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "smtp.example.com", cfg.Host)
	assert.Equal(t, 587, cfg.Port)
	assert.Equal(t, "oliver", cfg.Auth.User)
	assert.Equal(t, "20s", cfg.Timeouts.Socket)
	// untouched defaults survive
	assert.Equal(t, "localhost", cfg.ClientName)
	assert.Equal(t, 4, cfg.Batch.Concurrency)

	level, err := cfg.LogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)
}

func TestLoadUnknownKey(t *testing.T) {
	path := writeConfig(t, `
host = "smtp.example.com"
hots = "typo"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hots")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"SUBMIT_HOST":          "mx.example.com",
		"SUBMIT_PORT":          "2525",
		"SUBMIT_USER":          "peter",
		"SUBMIT_XOAUTH2_TOKEN": "tok",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := Default()
	require.NoError(t, cfg.ApplyEnv(lookup))
	assert.Equal(t, "mx.example.com", cfg.Host)
	assert.Equal(t, 2525, cfg.Port)
	assert.Equal(t, "peter", cfg.Auth.User)
	assert.Equal(t, "tok", cfg.Auth.XOAuth2Token)

	env["SUBMIT_PORT"] = "abc"
	assert.Error(t, cfg.ApplyEnv(lookup))
}

func TestValidate(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	cfg.Host = ""
	cfg.Port = 70000
	cfg.AuthMethod = "CRAM-MD5"
	cfg.Auth.Pass = "secret"
	cfg.Timeouts.Socket = "soon"
	cfg.DKIM.KeyFile = "/does/not/exist.pem"
	cfg.Batch.Concurrency = 0

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"host", "port", "auth_method", "auth.user", "timeouts.socket", "dkim.domain", "dkim.key_file", "batch.concurrency"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestSession(t *testing.T) {
	cfg := Default()
	cfg.Host = "smtp.example.com"
	cfg.Secure = true
	cfg.AuthMethod = "xoauth2"
	cfg.Auth = Auth{User: "oliver", XOAuth2Token: "tok"}
	cfg.Timeouts.PerByte = "1ms"

	sc, err := cfg.Session()
	require.NoError(t, err)
	assert.Equal(t, "smtp.example.com", sc.Host)
	assert.True(t, sc.Secure)
	assert.Equal(t, smtp.AuthXOAuth2, sc.AuthMethod)
	require.NotNil(t, sc.Credentials)
	assert.Equal(t, "tok", sc.Credentials.XOAuth2Token)

	dialer, ok := sc.Dialer.(*smtp.NetDialer)
	require.True(t, ok)
	assert.Equal(t, time.Millisecond, dialer.TimeoutPerByte)
	assert.Equal(t, smtp.DefaultSocketTimeout, dialer.SocketTimeout)
}

func TestSessionWithoutCredentials(t *testing.T) {
	sc, err := Default().Session()
	require.NoError(t, err)
	assert.Nil(t, sc.Credentials)
}

func TestSignerDisabled(t *testing.T) {
	signer, err := Default().Signer()
	require.NoError(t, err)
	assert.Nil(t, signer)
}

func TestEncodeRedacted(t *testing.T) {
	cfg := Default()
	cfg.Auth = Auth{User: "oliver", Pass: "oliver123"}

	var buf bytes.Buffer
	require.NoError(t, cfg.Redacted().Encode(&buf))
	assert.NotContains(t, buf.String(), "oliver123")
	assert.Equal(t, "oliver123", cfg.Auth.Pass)

	var decoded Config
	_, err := toml.Decode(buf.String(), &decoded)
	require.NoError(t, err)
	assert.Equal(t, "oliver", decoded.Auth.User)
	assert.Equal(t, redacted, decoded.Auth.Pass)
	assert.Equal(t, cfg.Timeouts, decoded.Timeouts)
}
