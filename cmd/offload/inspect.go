package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/offload/internal/logger"
	"github.com/samcharles93/offload/internal/session"
)

func inspectCmd() *cli.Command {
	return &cli.Command{
		Name:  "inspect",
		Usage: "Apply the delegate and print the classified execution plan without benchmarking",
		Flags: sessionFlags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			ctx, err := setup(ctx, cmd)
			if err != nil {
				return err
			}
			opts, err := sessionOptions(ctx, cmd)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			s, err := session.Open(ctx, opts)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			defer func() {
				if err := s.Close(); err != nil {
					logger.FromContext(ctx).Warn("release session", "error", err)
				}
			}()

			p := s.Prepared()
			renderModel(os.Stdout, p)
			renderDelegate(os.Stdout, p)
			renderPlan(os.Stdout, p.Classes)
			renderSummary(os.Stdout, p.Summary)
			return nil
		},
	}
}
