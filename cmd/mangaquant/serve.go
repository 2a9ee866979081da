package main

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/Vincentjhon31/MangaAutoScroller/internal/api"
	"github.com/Vincentjhon31/MangaAutoScroller/internal/logger"
	"github.com/Vincentjhon31/MangaAutoScroller/internal/version"
	"github.com/Vincentjhon31/MangaAutoScroller/pkg/quant"
)

func serveCmd(s *settings) *cli.Command {
	var (
		addr        string
		readTimeout time.Duration
		maxBody     int64
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the quantization API over HTTP",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "listen address",
				Value:       "127.0.0.1:8085",
				Destination: &addr,
			},
			&cli.DurationFlag{
				Name:        "read-timeout",
				Usage:       "read header timeout",
				Value:       30 * time.Second,
				Destination: &readTimeout,
			},
			&cli.Int64Flag{
				Name:        "max-body",
				Usage:       "largest accepted model in bytes",
				Value:       api.DefaultMaxBody,
				Destination: &maxBody,
			},
			&cli.StringFlag{
				Name:        "weight-type",
				Usage:       "default weight type (uint8, int8)",
				Value:       s.weightType,
				Destination: &s.weightType,
			},
			&cli.BoolFlag{
				Name:        "reduce-range",
				Usage:       "quantize weights to 7 bits by default",
				Destination: &s.reduceRange,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applyServeConfig(cmd, s.cfg, s, &addr, &maxBody)

			weightType, err := quant.ParseType(s.weightType)
			if err != nil {
				return err
			}
			server := api.NewServer(api.Config{
				MaxBody:         maxBody,
				ProducerVersion: version.Resolve().Version,
				Defaults:        quant.Options{WeightType: weightType, ReduceRange: s.reduceRange},
				Logger:          log,
			})
			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			server.Register(e)
			log.Info("starting server", "address", addr, "max_body", maxBody)
			sc := echo.StartConfig{
				Address: addr,
				BeforeServeFunc: func(srv *http.Server) error {
					srv.ReadHeaderTimeout = readTimeout
					return nil
				},
			}
			return sc.Start(ctx, e)
		},
	}
}
