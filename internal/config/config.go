package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/OliverSchlueter/mail-submit/internal/mail"
	"github.com/OliverSchlueter/mail-submit/internal/smtp"
	gotoml "github.com/pelletier/go-toml/v2"
)

const redacted = "****"

type Config struct {
	Host               string `toml:"host"`
	Port               int    `toml:"port"`
	Secure             bool   `toml:"secure"`
	InsecureSkipVerify bool   `toml:"insecure_skip_verify"`
	ClientName         string `toml:"client_name"`
	AuthMethod         string `toml:"auth_method"`
	DisableEscaping    bool   `toml:"disable_escaping"`

	Auth     Auth     `toml:"auth"`
	DKIM     DKIM     `toml:"dkim"`
	Timeouts Timeouts `toml:"timeouts"`
	Log      Log      `toml:"log"`
	Metrics  Metrics  `toml:"metrics"`
	Batch    Batch    `toml:"batch"`
}

type Auth struct {
	User         string `toml:"user"`
	Pass         string `toml:"pass"`
	XOAuth2Token string `toml:"xoauth2_token"`
}

type DKIM struct {
	Domain   string `toml:"domain"`
	Selector string `toml:"selector"`
	KeyFile  string `toml:"key_file"`
}

// Timeouts are Go duration strings, e.g. "30s" or "100us".
type Timeouts struct {
	Dial    string `toml:"dial"`
	Socket  string `toml:"socket"`
	PerByte string `toml:"per_byte"`
}

type Log struct {
	Level   string `toml:"level"`
	Loki    bool   `toml:"loki"`
	LokiURL string `toml:"loki_url"`
	Service string `toml:"service"`
}

type Metrics struct {
	// Textfile is a node-exporter textfile path; empty disables the export.
	Textfile string `toml:"textfile"`
}

type Batch struct {
	Concurrency     int    `toml:"concurrency"`
	BreakerFailures int    `toml:"breaker_failures"`
	BreakerTimeout  string `toml:"breaker_timeout"`
}

func Default() *Config {
	return &Config{
		Host:       "localhost",
		ClientName: "localhost",
		DKIM: DKIM{
			Selector: "mail",
		},
		Timeouts: Timeouts{
			Dial:    smtp.DefaultDialTimeout.String(),
			Socket:  smtp.DefaultSocketTimeout.String(),
			PerByte: smtp.DefaultTimeoutPerByte.String(),
		},
		Log: Log{
			Level:   "info",
			LokiURL: "http://localhost:3100/loki/api/v1/push",
			Service: "mail-submit",
		},
		Batch: Batch{
			Concurrency:     4,
			BreakerFailures: 5,
			BreakerTimeout:  "30s",
		},
	}
}

// Load decodes path over the defaults. Unknown keys are an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return nil, fmt.Errorf("config parse failed (%s): unknown keys %s", path, strings.Join(keys, ", "))
	}

	return cfg, nil
}

// ApplyEnv overrides fields from SUBMIT_* variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}

	if v, ok := lookup("SUBMIT_HOST"); ok {
		c.Host = v
	}
	if v, ok := lookup("SUBMIT_PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid SUBMIT_PORT %q: %w", v, err)
		}
		c.Port = port
	}
	if v, ok := lookup("SUBMIT_USER"); ok {
		c.Auth.User = v
	}
	if v, ok := lookup("SUBMIT_PASS"); ok {
		c.Auth.Pass = v
	}
	if v, ok := lookup("SUBMIT_XOAUTH2_TOKEN"); ok {
		c.Auth.XOAuth2Token = v
	}
	if v, ok := lookup("SUBMIT_LOG_LEVEL"); ok {
		c.Log.Level = v
	}
	return nil
}

func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Host) == "" {
		errs = append(errs, errors.New("host must not be empty"))
	}
	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid port %d", c.Port))
	}
	if _, err := smtp.ParseAuthMechanism(c.AuthMethod); err != nil {
		errs = append(errs, fmt.Errorf("invalid auth_method: %w", err))
	}
	if c.Auth.Pass != "" || c.Auth.XOAuth2Token != "" {
		if c.Auth.User == "" {
			errs = append(errs, errors.New("auth.user is required when credentials are set"))
		}
	}
	for name, v := range map[string]string{
		"timeouts.dial":         c.Timeouts.Dial,
		"timeouts.socket":       c.Timeouts.Socket,
		"timeouts.per_byte":     c.Timeouts.PerByte,
		"batch.breaker_timeout": c.Batch.BreakerTimeout,
	} {
		if _, err := duration(v); err != nil {
			errs = append(errs, fmt.Errorf("invalid %s: %w", name, err))
		}
	}
	if _, err := c.LogLevel(); err != nil {
		errs = append(errs, err)
	}
	if c.DKIM.KeyFile != "" {
		if c.DKIM.Domain == "" {
			errs = append(errs, errors.New("dkim.domain is required when dkim.key_file is set"))
		}
		if _, err := os.Stat(c.DKIM.KeyFile); err != nil {
			errs = append(errs, fmt.Errorf("dkim.key_file: %w", err))
		}
	}
	if c.Batch.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("batch.concurrency must be positive, got %d", c.Batch.Concurrency))
	}

	return errors.Join(errs...)
}

func (c *Config) LogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return 0, fmt.Errorf("invalid log.level %q: %w", c.Log.Level, err)
	}
	return level, nil
}

func (c *Config) BreakerTimeout() time.Duration {
	d, _ := duration(c.Batch.BreakerTimeout)
	return d
}

// Session returns the client configuration. Events and Logger are left to
// the caller.
func (c *Config) Session() (smtp.Configuration, error) {
	method, err := smtp.ParseAuthMechanism(c.AuthMethod)
	if err != nil {
		return smtp.Configuration{}, err
	}

	dialer := &smtp.NetDialer{}
	if dialer.Timeout, err = duration(c.Timeouts.Dial); err != nil {
		return smtp.Configuration{}, err
	}
	if dialer.SocketTimeout, err = duration(c.Timeouts.Socket); err != nil {
		return smtp.Configuration{}, err
	}
	if dialer.TimeoutPerByte, err = duration(c.Timeouts.PerByte); err != nil {
		return smtp.Configuration{}, err
	}
	if c.Secure && c.InsecureSkipVerify {
		dialer.TLSConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in for test servers
	}

	var creds *smtp.Credentials
	if c.Auth.User != "" {
		creds = &smtp.Credentials{
			User:         c.Auth.User,
			Pass:         c.Auth.Pass,
			XOAuth2Token: c.Auth.XOAuth2Token,
		}
	}

	return smtp.Configuration{
		Host:            c.Host,
		Port:            c.Port,
		Secure:          c.Secure,
		ClientName:      c.ClientName,
		Credentials:     creds,
		AuthMethod:      method,
		DisableEscaping: c.DisableEscaping,
		Dialer:          dialer,
	}, nil
}

// Signer loads the DKIM key, or returns nil when signing is not configured.
func (c *Config) Signer() (*mail.Signer, error) {
	if c.DKIM.KeyFile == "" {
		return nil, nil
	}

	key, err := mail.LoadPrivateKey(c.DKIM.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load DKIM key: %w", err)
	}
	return &mail.Signer{
		Domain:   c.DKIM.Domain,
		Selector: c.DKIM.Selector,
		Key:      key,
	}, nil
}

// Redacted returns a copy with secrets masked.
func (c *Config) Redacted() *Config {
	cp := *c
	if cp.Auth.Pass != "" {
		cp.Auth.Pass = redacted
	}
	if cp.Auth.XOAuth2Token != "" {
		cp.Auth.XOAuth2Token = redacted
	}
	return &cp
}

// Encode writes c as TOML.
func (c *Config) Encode(w io.Writer) error {
	enc := gotoml.NewEncoder(w)
	enc.SetIndentTables(true)
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

func duration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %s", s)
	}
	return d, nil
}
