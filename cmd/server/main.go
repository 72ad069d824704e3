// Package main is the entry point for the pantry API server.
// It loads configuration, wires the task pipeline and serves the HTTP API.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newCLI(os.Stdout).Run(ctx, os.Args); err != nil {
		slog.Error("pantry exited with error", "error", err)
		os.Exit(1)
	}
}

// newCLI builds the command tree. Running without a subcommand serves the API.
func newCLI(stdout io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "pantry",
		Usage: "asynchronous ingredient processing API",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "env",
				Usage: "dotenv file loaded before configuration",
				Value: ".env",
			},
		},
		Action: serveAction,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the HTTP API and the task workers",
				Action: serveAction,
			},
			{
				Name:  "migrate",
				Usage: "apply database migrations for the configured SQL backend",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return migrateAction(ctx, cmd, stdout)
				},
			},
			{
				Name:  "token",
				Usage: "issue a signed access token for a user",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "user",
						Usage:    "user ID placed in the token subject",
						Required: true,
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return tokenAction(ctx, cmd, stdout)
				},
			},
		},
	}
}

func serveAction(ctx context.Context, cmd *cli.Command) error {
	cfg, log, err := loadConfig(cmd.String("env"), os.Stdout)
	if err != nil {
		return err
	}

	app, err := newApplication(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	return app.Run(ctx)
}

func migrateAction(ctx context.Context, cmd *cli.Command, stdout io.Writer) error {
	cfg, log, err := loadConfig(cmd.String("env"), os.Stderr)
	if err != nil {
		return err
	}

	db, err := openDatabase(ctx, cfg, log)
	if err != nil {
		return err
	}
	if db == nil {
		return fmt.Errorf("database driver %q has no migrations", cfg.Database.Driver)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("failed to close database connection", "error", err)
		}
	}()

	version, err := db.Migrate(ctx, log)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(stdout, "database at version %d\n", version)
	return err
}

func tokenAction(ctx context.Context, cmd *cli.Command, stdout io.Writer) error {
	cfg, _, err := loadConfig(cmd.String("env"), os.Stderr)
	if err != nil {
		return err
	}

	jwtService, err := newJWTService(cfg)
	if err != nil {
		return err
	}

	token, err := jwtService.GenerateToken(ctx, cmd.String("user"))
	if err != nil {
		return fmt.Errorf("failed to generate token: %w", err)
	}

	_, err = fmt.Fprintln(stdout, token)
	return err
}
