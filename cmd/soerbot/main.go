package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/small-frappuccino/soerbot/pkg/app"
	"github.com/small-frappuccino/soerbot/pkg/log"
)

var root = cli.Command{
	Name:    "soerbot",
	Usage:   "Discord bot with prefixed chat commands",
	Version: app.Version,

	Flags: []cli.Flag{
		&flagConfig,
		&flagLog,
		&flagLogFormat,
	},
	Action: cliRun,
}

var (
	flagConfig = cli.StringFlag{
		Name:  "config",
		Usage: "Configuration file (yaml, json or toml); overrides SOERBOT_CONFIG",
		Action: func(ctx context.Context, cmd *cli.Command, s string) error {
			i, err := os.Stat(s)
			if err != nil {
				return err
			}
			if !i.Mode().IsRegular() {
				return errors.New("config must be a regular file")
			}
			return nil
		},
	}

	flagLog = cli.StringFlag{
		Name:  "log",
		Usage: "Logging level, one of debug, info, warn, error (default from configuration)",
		Action: func(ctx context.Context, c *cli.Command, s string) error {
			_, err := log.ParseLevel(s)
			return err
		},
	}

	flagLogFormat = cli.StringFlag{
		Name:  "log-format",
		Usage: "Logging format, either text or json (default from configuration)",
		Action: func(ctx context.Context, c *cli.Command, s string) error {
			switch strings.ToLower(s) {
			case "text", "json":
				return nil
			default:
				return errors.New("unknown logging format")
			}
		},
	}
)

func main() {
	if err := root.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Fatal:", err)
		os.Exit(1)
	}
}

func cliRun(ctx context.Context, cmd *cli.Command) error {
	return app.Run(ctx, app.RunOptions{
		ConfigFile: cmd.String("config"),
		LogLevel:   cmd.String("log"),
		LogFormat:  strings.ToLower(cmd.String("log-format")),
	})
}
