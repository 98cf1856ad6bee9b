package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/drallgood/catalog-summarizer/internal/catalog"
	"github.com/drallgood/catalog-summarizer/internal/ingest"
	"github.com/drallgood/catalog-summarizer/internal/models"
	"github.com/drallgood/catalog-summarizer/internal/server"
	"github.com/drallgood/catalog-summarizer/internal/summarizer"
	"github.com/drallgood/catalog-summarizer/internal/summary"
)

func printJSON(v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	fmt.Println(string(out))
	return nil
}

func runIngest(c *cli.Context) error {
	a, err := setup(c)
	if err != nil {
		return err
	}
	defer a.Close()

	q := ingest.Query{
		Text:        c.String("query"),
		ExternalIDs: c.StringSlice("id"),
		ISBNs:       c.StringSlice("isbn"),
	}
	if q.IsEmpty() {
		return fmt.Errorf("one of --query, --id or --isbn is required")
	}

	sources := a.sources()
	if len(sources) == 0 {
		return fmt.Errorf("no catalog source is enabled")
	}

	selector := catalog.SelectAll
	if names := c.StringSlice("source"); len(names) > 0 {
		selector = catalog.SelectNames(names...)
	}

	target := c.Int("target")
	if target <= 0 {
		target = a.cfg.Ingest.TargetCount
	}

	var opts []ingest.Option
	if a.cfg.Ingest.EnqueueSummaries && !c.Bool("no-enqueue") {
		opts = append(opts, ingest.WithEnqueue(func(ctx context.Context, bookID string) error {
			_, err := a.queue.RequestSummary(ctx, bookID, false)
			return err
		}))
	}

	pipeline := ingest.NewPipeline(a.repo, ingest.Config{
		OverFetch:   a.cfg.Ingest.OverFetch,
		Window:      a.cfg.RateLimit.Window,
		MaxCalls:    a.cfg.RateLimit.MaxCalls,
		MinInterval: a.cfg.RateLimit.MinInterval,
		Cooldown:    a.cfg.RateLimit.Cooldown,
	}, a.log, opts...)

	report, runErr := pipeline.RunSources(c.Context, sources, q, target, priorityFlag(c), selector)
	fmt.Println(report.String())
	for _, name := range report.SourceNames() {
		for _, f := range report.Sources[name].Failures {
			fmt.Printf("  failed %s: %s\n", f.Candidate, f.Message)
		}
	}
	return runErr
}

func requestSummary(c *cli.Context) error {
	a, err := setup(c)
	if err != nil {
		return err
	}
	defer a.Close()

	var opts []summary.RequestOption
	if style := c.String("style"); style != "" {
		opts = append(opts, summary.WithStyle(style))
	}
	job, err := a.queue.RequestSummary(c.Context, c.String("book-id"), c.Bool("regenerate"), opts...)
	if err != nil {
		return err
	}
	return printJSON(job)
}

func runWorker(c *cli.Context) error {
	a, err := setup(c)
	if err != nil {
		return err
	}
	defer a.Close()

	client, err := summarizer.NewClient(summarizer.Config{
		BaseURL: a.cfg.Summarizer.BaseURL,
		APIKey:  a.cfg.Summarizer.APIKey,
		Timeout: a.cfg.Summarizer.Timeout,
	}, a.log)
	if err != nil {
		return err
	}

	worker := summary.NewWorker(a.repo, a.service, client, summary.WorkerConfig{
		PollInterval: a.cfg.Worker.PollInterval,
		Concurrency:  a.cfg.Worker.Concurrency,
		CallTimeout:  a.cfg.Summarizer.Timeout,
	}, a.log)

	if c.Bool("once") {
		processed, err := worker.RunOnce(c.Context)
		if !processed {
			fmt.Println("no pending job")
		}
		return err
	}

	addr := c.String("metrics-addr")
	if addr == "" {
		addr = a.cfg.Worker.MetricsAddr
	}

	g, ctx := errgroup.WithContext(c.Context)
	if addr != "" {
		srv := server.New(addr, a.service, a.queue, a.db.Health, a.log)
		g.Go(srv.Start)
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}
	g.Go(func() error {
		return worker.Run(ctx)
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func showJob(c *cli.Context) error {
	a, err := setup(c)
	if err != nil {
		return err
	}
	defer a.Close()

	if id := c.String("id"); id != "" {
		job, err := a.queue.GetJob(c.Context, id)
		if err != nil {
			return err
		}
		return printJSON(job)
	}

	jobs, err := a.queue.ListJobs(c.Context, models.JobStatus(c.String("status")), c.Int("limit"))
	if err != nil {
		return err
	}
	return printJSON(jobs)
}

func showSummary(c *cli.Context) error {
	a, err := setup(c)
	if err != nil {
		return err
	}
	defer a.Close()

	bookID := c.String("book-id")
	if c.Bool("delete") {
		if err := a.service.Delete(c.Context, bookID); err != nil {
			return err
		}
		fmt.Printf("Summary of %s deleted\n", bookID)
		return nil
	}

	s, err := a.service.Get(c.Context, bookID)
	if err != nil {
		return err
	}
	if s == nil {
		fmt.Fprintf(os.Stderr, "No summary for book %s\n", bookID)
		return nil
	}
	return printJSON(s)
}

func showBooks(c *cli.Context) error {
	a, err := setup(c)
	if err != nil {
		return err
	}
	defer a.Close()

	if id := c.String("delete"); id != "" {
		if err := a.service.DeleteBook(c.Context, id); err != nil {
			return err
		}
		fmt.Printf("Book %s deleted\n", id)
		return nil
	}

	count, err := a.repo.CountBooks(c.Context)
	if err != nil {
		return err
	}
	fmt.Printf("%d books in catalog\n", count)
	return nil
}
