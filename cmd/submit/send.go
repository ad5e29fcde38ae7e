package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/OliverSchlueter/mail-submit/internal/mail"
	"github.com/spf13/cobra"
)

func sendCmd() *cobra.Command {
	var (
		msg      mail.Message
		bodyFile string
		rawFile  string
	)

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Compose and send one message",
		Example: `  submit send --from me@example.com --to you@example.com --subject Hi --body "Hello"
  submit send --raw message.eml`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var (
				body []byte
				from string
				to   []string
				err  error
			)

			if rawFile != "" {
				body, err = readInput(cmd, rawFile)
				if err != nil {
					return err
				}
				from, to, err = mail.Envelope(body)
				if err != nil {
					return err
				}
			} else {
				if bodyFile != "" {
					text, err := readInput(cmd, bodyFile)
					if err != nil {
						return err
					}
					msg.Body = string(text)
				}
				msg.Domain = cfg.DKIM.Domain
				body, err = mail.Compose(msg)
				if err != nil {
					return err
				}
				from, to = msg.From, msg.Recipients()
			}

			s, err := newSubmitter()
			if err != nil {
				return err
			}
			defer writeMetrics(s)

			res, err := s.Send(cmd.Context(), from, to, body)
			if err != nil {
				return err
			}

			slog.Info("Message accepted", slog.String("session_id", res.SessionID), slog.Int("recipients", len(to)))
			if len(res.FailedRecipients) > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "rejected recipients: %s\n", strings.Join(res.FailedRecipients, ", "))
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&msg.From, "from", "", "sender address")
	flags.StringSliceVar(&msg.To, "to", nil, "recipient addresses")
	flags.StringSliceVar(&msg.Cc, "cc", nil, "carbon copy addresses")
	flags.StringVar(&msg.ReplyTo, "reply-to", "", "reply-to address")
	flags.StringVar(&msg.Subject, "subject", "", "subject")
	flags.StringVar(&msg.Body, "body", "", "message text")
	flags.StringVar(&bodyFile, "body-file", "", "read the message text from a file, - for stdin")
	flags.BoolVar(&msg.HTML, "html", false, "send the body as text/html")
	flags.StringSliceVar(&msg.Attachments, "attach", nil, "files to attach")
	flags.StringVar(&rawFile, "raw", "", "send a ready RFC 5322 message, - for stdin")
	cmd.MarkFlagsMutuallyExclusive("raw", "from")
	cmd.MarkFlagsMutuallyExclusive("body", "body-file")

	return cmd
}

func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(path)
}
