package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/Vincentjhon31/MangaAutoScroller/internal/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp(os.Stdout, os.Stderr).Run(ctx, os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func newApp(stdout, stderr io.Writer) *cli.Command {
	s := newSettings()
	return &cli.Command{
		Name:      "mangaquant",
		Usage:     "Quantize the comic text detector model for the Android app",
		Writer:    stdout,
		ErrWriter: stderr,
		Flags:     globalFlags(s),
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			cfg, err := loadConfig(s.configPath)
			if err != nil {
				return ctx, err
			}
			s.cfg = cfg
			applyGlobalConfig(cmd, cfg, s)

			level := logger.ParseLevel(s.logLevel)
			if s.debug {
				level = logger.ParseLevel("debug")
			}
			log, err := logger.ForFormat(stderr, s.logFormat, level)
			if err != nil {
				return ctx, err
			}
			return logger.WithContext(ctx, log), nil
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return runQuantize(ctx, cmd, s, stdout)
		},
		Commands: []*cli.Command{
			quantizeCmd(s, stdout),
			inspectCmd(s, stdout),
			serveCmd(s),
			versionCmd(stdout),
		},
	}
}
