package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	v1 "battleships/contracts/battle/v1"

	"github.com/urfave/cli/v3"
)

// Version is overridden at build time with -ldflags "-X battleships/cmd/internal/app.Version=...".
var Version = "dev"

// Run is the CLI entrypoint used by cmd/battleships.
// It returns an error instead of calling os.Exit to keep defers effective.
func Run() error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return NewCommand(os.Stdin, os.Stdout, os.Stderr).Run(ctx, os.Args)
}

// NewCommand builds the command tree. Flags override environment values.
func NewCommand(in io.Reader, out, errOut io.Writer) *cli.Command {
	var a *App

	setup := func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
		if err := LoadDotEnv(cmd.String("env-file")); err != nil {
			return ctx, fmt.Errorf("load env file: %w", err)
		}

		cfg := LoadConfig()
		if cmd.IsSet("server") {
			cfg.ServerURL = cmd.String("server")
		}
		if cmd.IsSet("log-level") {
			cfg.LogLevel = cmd.String("log-level")
		}
		if cmd.IsSet("log-format") {
			cfg.LogFormat = cmd.String("log-format")
		}
		if cmd.IsSet("metrics-addr") {
			cfg.MetricsAddr = cmd.String("metrics-addr")
		}
		if err := cfg.Validate(); err != nil {
			return ctx, err
		}

		log := NewLogger(errOut, cfg.LogLevel, cfg.LogFormat, !cfg.NoColor)
		a = New(cfg, log, in, out)
		return ctx, nil
	}

	return &cli.Command{
		Name:      "battleships",
		Usage:     "play battleships against another player over the network",
		Writer:    out,
		ErrWriter: errOut,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "server", Usage: "game server websocket url (BATTLESHIPS_SERVER_URL)"},
			&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn or error (BATTLESHIPS_LOG_LEVEL)"},
			&cli.StringFlag{Name: "log-format", Usage: "pretty or json (BATTLESHIPS_LOG_FORMAT)"},
			&cli.StringFlag{Name: "metrics-addr", Usage: "serve prometheus metrics on this address (BATTLESHIPS_METRICS_ADDR)"},
			&cli.StringFlag{Name: "env-file", Value: ".env", Usage: "dotenv file loaded before reading the environment"},
		},
		Commands: []*cli.Command{
			{
				Name:      "create",
				Usage:     "host a new game and print its invite link",
				ArgsUsage: " ",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "size", Usage: "battlefield size (BATTLESHIPS_SIZE)"},
					&cli.StringFlag{
						Name:  "ships",
						Value: FormatShipsSchema(v1.DefaultSettings().ShipsSchema),
						Usage: "fleet as length:count pairs",
					},
				},
				Before: setup,
				Action: func(ctx context.Context, cmd *cli.Command) error {
					schema, err := ParseShipsSchema(cmd.String("ships"))
					if err != nil {
						return err
					}
					size := a.cfg.Size
					if cmd.IsSet("size") {
						size = cmd.Int("size")
					}
					return a.Create(ctx, v1.Settings{Size: size, ShipsSchema: schema})
				},
			},
			{
				Name:      "join",
				Usage:     "join a game by id or invite link",
				ArgsUsage: "<game id | invite link>",
				Before:    setup,
				Action: func(ctx context.Context, cmd *cli.Command) error {
					id, err := parseGameID(cmd.Args().First())
					if err != nil {
						return err
					}
					return a.Join(ctx, id)
				},
			},
			{
				Name:  "version",
				Usage: "print the client version",
				Action: func(_ context.Context, cmd *cli.Command) error {
					_, err := fmt.Fprintf(cmd.Root().Writer, "battleships %s (protocol v%d)\n", Version, v1.Version)
					return err
				},
			},
		},
	}
}
