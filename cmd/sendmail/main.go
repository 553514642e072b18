package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/OliverSchlueter/goutils/sloki"
	"github.com/OliverSchlueter/mail-transport/internal/config"
	"github.com/OliverSchlueter/mail-transport/internal/smtp"
	"github.com/cenkalti/backoff/v5"
	"github.com/spf13/cobra"
)

type options struct {
	from     string
	fromName string
	to       []string
	subject  string
	body     string
	bodyFile string
	headers  []string
	retries  uint
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "sendmail",
		Short: "Send a single HTML message through the SMTP server configured in the environment",
		Long: `Send a single HTML message through the SMTP server configured with the
SMTP_* environment variables (a .env file is honoured).`,
		Example: `sendmail --from oliver@example.com --to anna@example.com --subject Hi --body "<p>Hi</p>"`,
		Args:              cobra.NoArgs,
		SilenceUsage:      true,
		DisableAutoGenTag: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.from, "from", "", "sender address")
	flags.StringVar(&opts.fromName, "from-name", "", "sender display name")
	flags.StringSliceVar(&opts.to, "to", nil, "recipient address (repeatable)")
	flags.StringVar(&opts.subject, "subject", "", "message subject")
	flags.StringVar(&opts.body, "body", "", "HTML body")
	flags.StringVar(&opts.bodyFile, "body-file", "", "read the HTML body from a file")
	flags.StringArrayVar(&opts.headers, "header", nil, "extra header as Name=Value (repeatable)")
	flags.UintVar(&opts.retries, "retries", 0, "retry transient failures this many times")

	cmd.MarkFlagRequired("from")
	cmd.MarkFlagRequired("to")
	cmd.MarkFlagsMutuallyExclusive("body", "body-file")

	return cmd
}

func run(ctx context.Context, opts options) error {
	var logCfg config.Logging
	if err := config.Load(&logCfg); err != nil {
		return err
	}
	logCfg.Install("sendmail")

	var transportCfg config.Transport
	if err := config.Load(&transportCfg); err != nil {
		return err
	}

	smtpCfg, err := transportCfg.SMTPConfiguration()
	if err != nil {
		return err
	}

	env, err := buildEnvelope(opts)
	if err != nil {
		return err
	}

	transport := smtp.NewTransport(smtpCfg)
	if err := sendWithRetry(ctx, transport, env, opts.retries, backoff.NewExponentialBackOff()); err != nil {
		slog.Error("Failed to send mail", sloki.WrapError(err))
		return err
	}

	slog.Info("Mail sent", "to", opts.to, "subject", opts.subject)
	return nil
}

func buildEnvelope(opts options) (smtp.Envelope, error) {
	body := opts.body
	if opts.bodyFile != "" {
		data, err := os.ReadFile(opts.bodyFile)
		if err != nil {
			return smtp.Envelope{}, fmt.Errorf("could not read body file: %w", err)
		}
		body = string(data)
	}

	env := smtp.Envelope{
		From:     smtp.Address{Email: opts.from, Name: opts.fromName},
		Subject:  opts.subject,
		BodyHTML: body,
	}
	for _, to := range opts.to {
		env.To = append(env.To, smtp.Address{Email: strings.TrimSpace(to)})
	}
	for _, h := range opts.headers {
		name, value, ok := strings.Cut(h, "=")
		if !ok {
			return smtp.Envelope{}, fmt.Errorf("invalid header %q, expected Name=Value", h)
		}
		env.ExtraHeaders = append(env.ExtraHeaders, smtp.Header{Name: strings.TrimSpace(name), Value: value})
	}

	return env, env.Validate()
}

// sendWithRetry tries the send once plus up to retries more times, retrying
// only failures smtp.IsTransient reports as transient.
func sendWithRetry(ctx context.Context, sender smtp.Sender, env smtp.Envelope, retries uint, bo backoff.BackOff) error {
	operation := func() (struct{}, error) {
		err := sender.Send(env)
		if err != nil && !smtp.IsTransient(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}

	notify := func(err error, next time.Duration) {
		slog.Warn("Transient send failure, retrying", "retry_in", next, sloki.WrapError(err))
	}

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(retries+1),
		backoff.WithNotify(notify),
	)

	return err
}
