// Command wattctl queues allocations from usage workbooks and inspects the
// background queue.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"github.com/wattshare/wattshare/cmd/wattctl/cli"
	"github.com/wattshare/wattshare/internal/app"
)

const usage = `usage:
  wattctl allocate -bill <building-bill-id> -file <usage.xlsx> [-sheet name]
  wattctl queue [-retry n]`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	jobsCLI := cli.NewJobsCLI(cfg.RedisAddr)
	defer func() {
		if err := jobsCLI.Close(); err != nil {
			logger.Warn("close jobs cli", slog.Any("error", err))
		}
	}()

	if err := run(ctx, jobsCLI, os.Args[1], os.Args[2:]); err != nil {
		logger.Error(os.Args[1], slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, c *cli.JobsCLI, command string, args []string) error {
	switch command {
	case "allocate":
		fs := flag.NewFlagSet("allocate", flag.ExitOnError)
		bill := fs.String("bill", "", "building bill ID")
		file := fs.String("file", "", "usage workbook (.xlsx)")
		sheet := fs.String("sheet", "", "sheet name, defaults to the first sheet")
		_ = fs.Parse(args)
		id, err := uuid.Parse(*bill)
		if err != nil {
			return fmt.Errorf("invalid -bill: %w", err)
		}
		if *file == "" {
			return fmt.Errorf("-file is required")
		}
		taskID, n, err := c.EnqueueAllocationFile(ctx, id, *file, *sheet)
		if err != nil {
			return err
		}
		fmt.Printf("queued %d units as task %s\n", n, taskID)
		return nil
	case "queue":
		fs := flag.NewFlagSet("queue", flag.ExitOnError)
		retry := fs.Int("retry", 0, "also list up to n tasks awaiting retry")
		_ = fs.Parse(args)
		stats, err := c.InspectQueue(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("queue=%s pending=%d active=%d scheduled=%d retry=%d archived=%d\n",
			stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry, stats.Archived)
		if *retry > 0 {
			tasks, err := c.ListRetry(ctx, *retry)
			if err != nil {
				return err
			}
			for _, t := range tasks {
				fmt.Printf("%s\t%s\tretried=%d\t%s\n", t.ID, t.Type, t.Retried, t.LastErr)
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown command %q\n%s", command, usage)
	}
}
