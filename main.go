package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/chirino/chat-service/internal/cmd/migrate"
	"github.com/chirino/chat-service/internal/cmd/serve"
	"github.com/urfave/cli/v3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.Command{
		Name:  "chat-service",
		Usage: "Multi-party chat backend with realtime fan-out",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Sources: cli.EnvVars("CHAT_SERVICE_LOG_LEVEL"),
				Value:   "info",
				Usage:   "Log level (debug|info|warn|error)",
			},
			&cli.StringFlag{
				Name:    "log-format",
				Sources: cli.EnvVars("CHAT_SERVICE_LOG_FORMAT"),
				Value:   "text",
				Usage:   "Log format (text|json|logfmt)",
			},
		},
		Before: configureLogging,
		Commands: []*cli.Command{
			serve.Command(),
			migrate.Command(),
		},
	}
	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

func configureLogging(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	level, err := log.ParseLevel(cmd.String("log-level"))
	if err != nil {
		return ctx, err
	}
	log.SetLevel(level)
	switch cmd.String("log-format") {
	case "text":
		log.SetFormatter(log.TextFormatter)
	case "json":
		log.SetFormatter(log.JSONFormatter)
	case "logfmt":
		log.SetFormatter(log.LogfmtFormatter)
	default:
		return ctx, fmt.Errorf("unknown --log-format %q", cmd.String("log-format"))
	}
	log.SetReportTimestamp(true)
	return ctx, nil
}
