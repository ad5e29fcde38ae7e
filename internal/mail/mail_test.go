package mail

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-msgauth/dkim"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMessage() Message {
	return Message{
		From:    "oliver@localhost",
		To:      []string{"peter@otherdomain.com"},
		Cc:      []string{"anna@otherdomain.com"},
		Subject: "Hello",
		Body:    "Hello world",
		Date:    time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestCompose(t *testing.T) {
	raw, err := Compose(testMessage())
	require.NoError(t, err)

	s := string(raw)
	assert.Contains(t, s, "Subject: Hello\r\n")
	assert.Contains(t, s, "oliver@localhost")
	assert.Contains(t, s, "peter@otherdomain.com")
	assert.Contains(t, s, "Message-ID: <")
	assert.Contains(t, s, "@localhost>")
	assert.Contains(t, s, "Hello world")
	assert.True(t, strings.Contains(s, "\r\n\r\n"), "headers and body must be separated")
}

func TestComposeNoRecipients(t *testing.T) {
	m := testMessage()
	m.To = nil
	m.Cc = nil

	_, err := Compose(m)
	assert.ErrorIs(t, err, ErrNoRecipients)
}

func TestComposeInvalidFrom(t *testing.T) {
	m := testMessage()
	m.From = "not an address"

	_, err := Compose(m)
	assert.Error(t, err)
}

func TestEnvelope(t *testing.T) {
	raw, err := Compose(testMessage())
	require.NoError(t, err)

	from, to, err := Envelope(raw)
	require.NoError(t, err)
	assert.Equal(t, "oliver@localhost", from)
	assert.ElementsMatch(t, []string{"peter@otherdomain.com", "anna@otherdomain.com"}, to)
}

func TestRecipients(t *testing.T) {
	assert.Equal(t, []string{"peter@otherdomain.com", "anna@otherdomain.com"}, testMessage().Recipients())
}

func TestDomainOf(t *testing.T) {
	assert.Equal(t, "example.com", DomainOf("<a@example.com>"))
	assert.Equal(t, "localhost", DomainOf("nobody"))
}

func TestSignVerifies(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	pub, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	record := "v=DKIM1; k=rsa; p=" + base64.StdEncoding.EncodeToString(pub)

	m := testMessage()
	m.From = "oliver@example.com"
	raw, err := Compose(m)
	require.NoError(t, err)

	signer := &Signer{Domain: "example.com", Selector: "mail", Key: key}
	signed, err := signer.Sign(raw)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(signed, []byte("DKIM-Signature:")))

	verifications, err := dkim.VerifyWithOptions(bytes.NewReader(signed), &dkim.VerifyOptions{
		LookupTXT: func(domain string) ([]string, error) {
			assert.Equal(t, "mail._domainkey.example.com", domain)
			return []string{record}, nil
		},
	})
	require.NoError(t, err)
	require.Len(t, verifications, 1)
	assert.NoError(t, verifications[0].Err)
	assert.Equal(t, "example.com", verifications[0].Domain)
}

func TestLoadPrivateKey(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 1024)
	require.NoError(t, err)
	dir := t.TempDir()

	pkcs1 := filepath.Join(dir, "pkcs1.pem")
	require.NoError(t, os.WriteFile(pkcs1, pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}), 0o600))
	loaded, err := LoadPrivateKey(pkcs1)
	require.NoError(t, err)
	assert.True(t, key.Equal(loaded))

	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	pkcs8 := filepath.Join(dir, "pkcs8.pem")
	require.NoError(t, os.WriteFile(pkcs8, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), 0o600))
	loaded, err = LoadPrivateKey(pkcs8)
	require.NoError(t, err)
	assert.True(t, key.Equal(loaded))

	_, err = ParsePrivateKey([]byte("nope"))
	assert.Error(t, err)
}
