// Command hubctl is a command-line client for the Integration Hub API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:  "hubctl",
		Usage: "submit and inspect Integration Hub jobs",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server",
				Usage:   "Integration Hub base URL",
				Value:   "http://localhost:8080",
				Sources: cli.EnvVars("HUBCTL_SERVER"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "submit",
				Usage:     "submit a job",
				ArgsUsage: "<connector>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "payload",
						Usage: "JSON object passed to the connector",
						Value: "{}",
					},
					&cli.BoolFlag{
						Name:  "wait",
						Usage: "poll until the attempt finishes and print the job",
					},
					&cli.DurationFlag{
						Name:  "timeout",
						Usage: "how long --wait polls before giving up",
						Value: defaultWaitTimeout,
					},
				},
				Action: submitAction,
			},
			{
				Name:      "get",
				Usage:     "show a job and its executions",
				ArgsUsage: "<job-id>",
				Action:    getAction,
			},
			{
				Name:  "list",
				Usage: "list jobs, newest first",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "status", Usage: "PENDING, RUNNING, SUCCESS or FAILED"},
					&cli.StringFlag{Name: "connector", Usage: "connector name"},
					&cli.IntFlag{Name: "limit", Usage: "page size (1-200)", Value: 50},
					&cli.IntFlag{Name: "offset", Usage: "rows to skip"},
				},
				Action: listAction,
			},
			{
				Name:      "status",
				Usage:     "show a job's current status",
				ArgsUsage: "<job-id>",
				Action:    statusAction,
			},
			{
				Name:      "retry",
				Usage:     "start a new attempt for a finished job",
				ArgsUsage: "<job-id>",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "wait", Usage: "poll until the attempt finishes and print the job"},
					&cli.DurationFlag{Name: "timeout", Usage: "how long --wait polls before giving up", Value: defaultWaitTimeout},
				},
				Action: retryAction,
			},
			{
				Name:   "connectors",
				Usage:  "list registered connectors",
				Action: connectorsAction,
			},
		},
	}
}
