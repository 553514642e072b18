package main

import (
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/OliverSchlueter/goutils/sloki"
	"github.com/OliverSchlueter/mail-transport/internal/config"
	"github.com/OliverSchlueter/mail-transport/internal/mailhandler"
	"github.com/OliverSchlueter/mail-transport/internal/mails"
	fake2 "github.com/OliverSchlueter/mail-transport/internal/mails/database/fake"
	"github.com/OliverSchlueter/mail-transport/internal/sink"
	"github.com/OliverSchlueter/mail-transport/internal/smtp"
	"github.com/OliverSchlueter/mail-transport/internal/users"
	"github.com/OliverSchlueter/mail-transport/internal/users/database/fake"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	var logCfg config.Logging
	if err := config.Load(&logCfg); err != nil {
		slog.Error("Failed to load logging config", sloki.WrapError(err))
		os.Exit(1)
	}
	logCfg.Install("mail-sink")

	var cfg config.Sink
	if err := config.Load(&cfg); err != nil {
		slog.Error("Failed to load sink config", sloki.WrapError(err))
		os.Exit(1)
	}

	// users
	us := users.NewStore(users.Configuration{
		DB: fake.NewDB(),
	})
	accounts, err := cfg.ParseUsers()
	if err != nil {
		slog.Error("Failed to parse SINK_USERS", sloki.WrapError(err))
		os.Exit(1)
	}
	for _, u := range accounts {
		if err := us.Create(u); err != nil {
			slog.Error("Failed to create user", "name", u.Name, sloki.WrapError(err))
			os.Exit(1)
		}
	}

	// mails
	ms := mails.NewStore(mails.Configuration{
		DB: fake2.NewDB(),
	})

	// metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	sinkCfg := sink.Configuration{
		Hostname:    cfg.Hostname,
		Port:        cfg.SMTPPort,
		CertFile:    cfg.CertFile,
		KeyFile:     cfg.KeyFile,
		Users:       us,
		Mails:       ms,
		Metrics:     sink.NewMetrics(reg),
		RequireAuth: cfg.RequireAuth,
	}
	if cfg.SelfSigned && cfg.CertFile == "" {
		tlsConfig, err := sink.SelfSignedTLSConfig(cfg.Hostname)
		if err != nil {
			slog.Error("Failed to create self-signed certificate", sloki.WrapError(err))
			os.Exit(1)
		}
		sinkCfg.TLSConfig = tlsConfig
	}

	// smtp sink
	server := sink.NewServer(sinkCfg)
	go func() {
		if err := server.Start(); err != nil {
			slog.Error("SMTP sink stopped", sloki.WrapError(err))
			os.Exit(1)
		}
	}()
	slog.Info("Started SMTP sink", "port", cfg.SMTPPort)

	// http api
	mux := http.NewServeMux()
	mailhandler.New(ms, relaySender()).Register("/api/v1", mux)
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server stopped", sloki.WrapError(err))
			os.Exit(1)
		}
	}()
	slog.Info("Started HTTP server", "addr", cfg.HTTPAddr)

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c

	slog.Info("Shutting down")
	server.Close()
	httpServer.Close()
}

// relaySender returns a transport for the send endpoint when SMTP_HOST is
// configured, nil otherwise.
func relaySender() smtp.Sender {
	if os.Getenv("SMTP_HOST") == "" {
		return nil
	}

	var cfg config.Transport
	if err := config.Load(&cfg); err != nil {
		slog.Warn("Send endpoint disabled", sloki.WrapError(err))
		return nil
	}

	smtpCfg, err := cfg.SMTPConfiguration()
	if err != nil {
		slog.Warn("Send endpoint disabled", sloki.WrapError(err))
		return nil
	}

	return smtp.NewTransport(smtpCfg)
}
