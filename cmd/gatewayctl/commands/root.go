// Package commands builds the gatewayctl CLI surface: a single "start"
// command, mirroring the teacher's root.go but generalized from one
// fixed Anthropic upstream to the full multi-endpoint gateway.
package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/florianilch/anthromux/internal/gateway"
	"github.com/florianilch/anthromux/internal/gatewaycfg"
	"github.com/florianilch/anthromux/internal/observability"
)

// Execute runs the root command with the given context and arguments.
func Execute(ctx context.Context, args []string) error {
	cmd := &cli.Command{
		Name:  "gatewayctl",
		Usage: "Anthropic-compatible multiplexing gateway",
		Commands: []*cli.Command{
			startCommand(),
		},
	}

	return cmd.Run(ctx, args)
}

func startCommand() *cli.Command {
	return &cli.Command{
		Name:  "start",
		Usage: "run the gateway until interrupted",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to config file",
			},
			&cli.StringFlag{
				Name:  "logging--level",
				Usage: "log level (debug|info|warn|error)",
				Value: slog.LevelInfo.String(),
			},
			&cli.StringFlag{
				Name:  "logging--format",
				Usage: "log format (text|json)",
				Value: string(gatewaycfg.DefaultLogFormat),
			},
			&cli.StringFlag{
				Name:  "server--host",
				Usage: "server host",
				Value: gatewaycfg.DefaultServerHost,
			},
			&cli.IntFlag{
				Name:  "server--port",
				Usage: "server port",
				Value: int(gatewaycfg.DefaultServerPort),
			},
		},
		Action: startAction,
	}
}

func startAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := gatewaycfg.Load(cmd.String("config"), cmd, os.Environ)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := observability.Instrument(cfg.Logging.Level, string(cfg.Logging.Format)); err != nil {
		return fmt.Errorf("failed to set up observability layer: %w", err)
	}

	gw, err := gateway.New(ctx, cfg, slog.Default())
	if err != nil {
		return fmt.Errorf("failed to create gateway: %w", err)
	}

	slog.InfoContext(ctx, "starting")

	if err := gw.Run(ctx); err != nil {
		return fmt.Errorf("gateway failed: %w", err)
	}

	slog.InfoContext(ctx, "stopped gracefully")
	return nil
}
