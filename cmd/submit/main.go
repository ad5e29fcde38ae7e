package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/OliverSchlueter/goutils/sloki"
	"github.com/OliverSchlueter/mail-submit/internal/config"
	"github.com/OliverSchlueter/mail-submit/internal/submission"
	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "unknown"
)

var (
	configPath string
	cfg        *config.Config
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit mail to an SMTP server",
		Long: `submit hands messages to an SMTP submission server: it negotiates
EHLO/HELO, authenticates with PLAIN, LOGIN or XOAUTH2 and streams the body.`,
		Version:           fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:      true,
		PersistentPreRunE: setup,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to configuration file")
	rootCmd.PersistentFlags().String("host", "", "SMTP server host")
	rootCmd.PersistentFlags().Int("port", 0, "SMTP server port (25, or 465 with --secure)")
	rootCmd.PersistentFlags().Bool("secure", false, "connect with implicit TLS")
	rootCmd.PersistentFlags().String("auth", "", "auth method: plain, login or xoauth2")
	rootCmd.PersistentFlags().String("user", "", "auth user")
	rootCmd.PersistentFlags().String("log-level", "", "log level")

	rootCmd.AddCommand(sendCmd())
	rootCmd.AddCommand(batchCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(versionCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

// setup loads the configuration, applies env and flag overrides and installs
// the logger.
func setup(cmd *cobra.Command, _ []string) error {
	if cmd.Name() == "version" || cmd.Name() == "help" {
		return nil
	}

	var err error
	if configPath != "" {
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
	} else {
		cfg = config.Default()
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return err
	}
	applyFlags(cmd)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	level, _ := cfg.LogLevel()
	lokiService := sloki.NewService(sloki.Configuration{
		URL:          cfg.Log.LokiURL,
		Service:      cfg.Log.Service,
		ConsoleLevel: level,
		LokiLevel:    slog.LevelInfo,
		EnableLoki:   cfg.Log.Loki,
	})
	slog.SetDefault(slog.New(lokiService))
	return nil
}

func applyFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.Host, _ = flags.GetString("host")
	}
	if flags.Changed("port") {
		cfg.Port, _ = flags.GetInt("port")
	}
	if flags.Changed("secure") {
		cfg.Secure, _ = flags.GetBool("secure")
	}
	if flags.Changed("auth") {
		cfg.AuthMethod, _ = flags.GetString("auth")
	}
	if flags.Changed("user") {
		cfg.Auth.User, _ = flags.GetString("user")
	}
	if flags.Changed("log-level") {
		cfg.Log.Level, _ = flags.GetString("log-level")
	}
}

func newSubmitter() (*submission.Submitter, error) {
	session, err := cfg.Session()
	if err != nil {
		return nil, err
	}
	signer, err := cfg.Signer()
	if err != nil {
		return nil, err
	}

	return submission.NewSubmitter(submission.Configuration{
		Session:         session,
		Signer:          signer,
		Concurrency:     cfg.Batch.Concurrency,
		BreakerFailures: cfg.Batch.BreakerFailures,
		BreakerTimeout:  cfg.BreakerTimeout(),
	}), nil
}

// writeMetrics exports the submitter's metrics when a textfile is configured.
func writeMetrics(s *submission.Submitter) {
	if cfg.Metrics.Textfile == "" {
		return
	}
	if err := s.Metrics().WriteTextfile(cfg.Metrics.Textfile); err != nil {
		slog.Error("Failed to write metrics", sloki.WrapError(err))
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "submit %s\n", cmd.Root().Version)
		},
	}
}

func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration with secrets masked",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cfg.Redacted().Encode(cmd.OutOrStdout())
		},
	}
}
