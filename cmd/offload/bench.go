package main

import (
	"context"
	"fmt"
	"os"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/offload/internal/logger"
	"github.com/samcharles93/offload/internal/session"
)

func benchCmd() *cli.Command {
	var reportJSON string

	flags := append(sessionFlags(), benchFlags()...)
	flags = append(flags,
		&cli.StringFlag{
			Name:        "report-json",
			Usage:       "also write the full report as JSON to this path (- for stdout)",
			Destination: &reportJSON,
		},
	)

	return &cli.Command{
		Name:    "bench",
		Aliases: []string{"benchmark"},
		Usage:   "Apply the delegate, verify the offload and benchmark inference",
		Flags:   flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			ctx, err := setup(ctx, cmd)
			if err != nil {
				return err
			}
			log := logger.FromContext(ctx)

			opts, err := sessionOptions(ctx, cmd)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			bo, err := benchOptions(ctx, cmd)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: load input: %v", err), 1)
			}

			rep, err := session.Run(ctx, opts, bo)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}

			if reportJSON != "-" {
				renderReport(os.Stdout, rep)
			}
			if reportJSON != "" {
				if err := writeReport(reportJSON, rep); err != nil {
					return cli.Exit(fmt.Sprintf("error: write report: %v", err), 1)
				}
				if reportJSON != "-" {
					log.Info("report written", "path", reportJSON)
				}
			}
			return nil
		},
	}
}

func writeReport(path string, rep *session.Report) error {
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	if path == "-" {
		_, err = os.Stdout.Write(data)
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
