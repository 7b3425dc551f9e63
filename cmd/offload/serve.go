package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/offload/internal/api"
	"github.com/samcharles93/offload/internal/logger"
	"github.com/samcharles93/offload/internal/session"
)

func serveCmd() *cli.Command {
	var (
		addr        string
		readTimeout time.Duration
		keepRuns    int64
	)

	flags := append(sessionFlags(), benchFlags()...)
	flags = append(flags,
		&cli.StringFlag{
			Name:        "addr",
			Usage:       "listen address",
			Value:       "127.0.0.1:8080",
			Destination: &addr,
		},
		&cli.DurationFlag{
			Name:        "read-timeout",
			Usage:       "read header timeout",
			Value:       30 * time.Second,
			Destination: &readTimeout,
		},
		&cli.Int64Flag{
			Name:        "keep-runs",
			Usage:       "number of benchmark reports kept in memory",
			Value:       64,
			Destination: &keepRuns,
		},
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Prepare the model once and serve offload info and benchmarks over HTTP",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			ctx, err := setup(ctx, cmd)
			if err != nil {
				return err
			}
			log := logger.FromContext(ctx)
			applyServeConfig(cmd, configFromContext(ctx), &addr)

			opts, err := sessionOptions(ctx, cmd)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			bo, err := benchOptions(ctx, cmd)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: load input: %v", err), 1)
			}

			s, err := session.Open(ctx, opts)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			defer func() {
				if err := s.Close(); err != nil {
					log.Warn("release session", "error", err)
				}
			}()

			server := api.NewServer(s, api.NewRunStore(int(keepRuns)), bo, log)
			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			server.Register(e)
			log.Info("starting server", "address", addr)
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
