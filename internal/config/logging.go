package config

import (
	"log/slog"

	"github.com/OliverSchlueter/goutils/sloki"
)

const defaultLokiURL = "http://localhost:3100/loki/api/v1/push"

// Install makes a sloki handler the default slog logger for service.
func (l Logging) Install(service string) {
	url := l.LokiURL
	if url == "" {
		url = defaultLokiURL
	}

	consoleLevel := slog.LevelInfo
	if l.Debug {
		consoleLevel = slog.LevelDebug
	}

	lokiService := sloki.NewService(sloki.Configuration{
		URL:          url,
		Service:      service,
		ConsoleLevel: consoleLevel,
		LokiLevel:    slog.LevelInfo,
		EnableLoki:   l.LokiEnabled,
	})
	slog.SetDefault(slog.New(lokiService))
}
