package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/integrationhub/internal/client"
	"github.com/kiranshivaraju/integrationhub/pkg/models"
	"github.com/urfave/cli/v3"
)

const (
	defaultWaitTimeout = 60 * time.Second
	pollInterval       = 500 * time.Millisecond
)

func newClient(cmd *cli.Command) *client.Client {
	return client.New(cmd.String("server"), nil)
}

func jobIDArg(cmd *cli.Command) (uuid.UUID, error) {
	raw := cmd.Args().First()
	if raw == "" {
		return uuid.Nil, fmt.Errorf("missing <job-id>")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid job id %q: %w", raw, err)
	}
	return id, nil
}

func submitAction(ctx context.Context, cmd *cli.Command) error {
	name := cmd.Args().First()
	if name == "" {
		return fmt.Errorf("missing <connector>")
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(cmd.String("payload")), &payload); err != nil {
		return fmt.Errorf("--payload must be a JSON object: %w", err)
	}

	c := newClient(cmd)
	sub, err := c.Submit(ctx, name, payload)
	if err != nil {
		return err
	}
	return finishSubmission(ctx, cmd, c, sub)
}

func retryAction(ctx context.Context, cmd *cli.Command) error {
	id, err := jobIDArg(cmd)
	if err != nil {
		return err
	}
	c := newClient(cmd)
	sub, err := c.Retry(ctx, id)
	if err != nil {
		return err
	}
	return finishSubmission(ctx, cmd, c, sub)
}

// finishSubmission prints the submission, or with --wait the finished job.
func finishSubmission(ctx context.Context, cmd *cli.Command, c *client.Client, sub *client.Submission) error {
	out := cmd.Root().Writer
	if !cmd.Bool("wait") {
		return printJSON(out, sub)
	}

	waitCtx, cancel := context.WithTimeout(ctx, cmd.Duration("timeout"))
	defer cancel()
	if _, err := c.WaitForTerminal(waitCtx, sub.JobID, pollInterval); err != nil {
		return err
	}
	job, err := c.GetJob(ctx, sub.JobID)
	if err != nil {
		return err
	}
	return printJSON(out, job)
}

func getAction(ctx context.Context, cmd *cli.Command) error {
	id, err := jobIDArg(cmd)
	if err != nil {
		return err
	}
	job, err := newClient(cmd).GetJob(ctx, id)
	if err != nil {
		return err
	}
	return printJSON(cmd.Root().Writer, job)
}

func statusAction(ctx context.Context, cmd *cli.Command) error {
	id, err := jobIDArg(cmd)
	if err != nil {
		return err
	}
	status, err := newClient(cmd).JobStatus(ctx, id)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.Root().Writer, status)
	return err
}

func listAction(ctx context.Context, cmd *cli.Command) error {
	page, err := newClient(cmd).ListJobs(ctx, client.ListOptions{
		Status:        models.Status(cmd.String("status")),
		ConnectorName: cmd.String("connector"),
		Limit:         cmd.Int("limit"),
		Offset:        cmd.Int("offset"),
	})
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(cmd.Root().Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "JOB ID\tCONNECTOR\tSTATUS\tCREATED")
	for _, j := range page.Jobs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", j.JobID, j.ConnectorName, j.Status, j.CreatedAt.Format(time.RFC3339))
	}
	fmt.Fprintf(tw, "\n%d of %d (offset %d)\n", len(page.Jobs), page.Meta.Total, page.Meta.Offset)
	return tw.Flush()
}

func connectorsAction(ctx context.Context, cmd *cli.Command) error {
	names, err := newClient(cmd).Connectors(ctx)
	if err != nil {
		return err
	}
	for _, n := range names {
		if _, err := fmt.Fprintln(cmd.Root().Writer, n); err != nil {
			return err
		}
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
