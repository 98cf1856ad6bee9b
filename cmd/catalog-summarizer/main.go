// catalog-summarizer ingests book records from external catalogs and
// generates structured summaries for them through an external summarizer.
//
// Environment Variables:
//
//	DATABASE_TYPE, DATABASE_PATH   Durable store (sqlite by default)
//	CACHE_BACKEND, REDIS_URL       Summary read cache (memory or redis)
//	GOOGLE_BOOKS_API_KEY           Optional Google Books key
//	HARDCOVER_TOKEN                Enables the Hardcover source
//	SUMMARIZER_URL                 Base URL of the summarization service
//	LOG_LEVEL, LOG_FORMAT          Logging
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/drallgood/catalog-summarizer/internal/ingest"
	"github.com/drallgood/catalog-summarizer/internal/logger"
)

func init() {
	logger.Setup(logger.Config{
		Level:      "info",
		Format:     logger.FormatJSON,
		Output:     os.Stderr,
		TimeFormat: time.RFC3339,
	})
}

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	app := &cli.App{
		Name:    "catalog-summarizer",
		Usage:   "Ingest books from external catalogs and generate summaries",
		Version: fmt.Sprintf("%s (%s) %s", version, commit, date),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Load configuration from `FILE`",
				EnvVars: []string{"CONFIG_PATH"},
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Override the configured log level (debug, info, warn, error)",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "ingest",
				Usage: "Pull candidates from catalog sources into the store",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{
						Name:    "source",
						Aliases: []string{"s"},
						Usage:   "Catalog source to use (google_books, hardcover); all enabled sources when omitted",
					},
					&cli.StringFlag{
						Name:    "query",
						Aliases: []string{"q"},
						Usage:   "Search text",
					},
					&cli.StringSliceFlag{
						Name:  "id",
						Usage: "Source-specific id to fetch directly",
					},
					&cli.StringSliceFlag{
						Name:  "isbn",
						Usage: "ISBN to fetch directly",
					},
					&cli.IntFlag{
						Name:    "target",
						Aliases: []string{"n"},
						Usage:   "Maximum candidates to attempt per source (default from config)",
					},
					&cli.BoolFlag{
						Name:  "bestsellers-first",
						Usage: "Process bestseller candidates before others",
						Value: true,
					},
					&cli.BoolFlag{
						Name:  "no-enqueue",
						Usage: "Do not request summaries for newly added books",
					},
				},
				Action: runIngest,
			},
			{
				Name:  "request",
				Usage: "Request a summary for a book",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "book-id",
						Usage:    "Book to summarize",
						Required: true,
					},
					&cli.BoolFlag{
						Name:  "regenerate",
						Usage: "Generate a new summary even if one exists",
					},
					&cli.StringFlag{
						Name:  "style",
						Usage: "Summary style (concise, detailed)",
					},
				},
				Action: requestSummary,
			},
			{
				Name:  "worker",
				Usage: "Process pending summary jobs",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "once",
						Usage: "Process at most one job and exit",
					},
					&cli.StringFlag{
						Name:  "metrics-addr",
						Usage: "Serve /metrics, /healthz and the summary API on `ADDR`",
					},
				},
				Action: runWorker,
			},
			{
				Name:  "job",
				Usage: "Show a summary job or list jobs",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "id",
						Usage: "Job to show",
					},
					&cli.StringFlag{
						Name:  "status",
						Usage: "List jobs with this status (pending, processing, completed, failed)",
					},
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum jobs to list",
						Value: 20,
					},
				},
				Action: showJob,
			},
			{
				Name:  "summary",
				Usage: "Show or delete the summary of a book",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "book-id",
						Usage:    "Book whose summary to show",
						Required: true,
					},
					&cli.BoolFlag{
						Name:  "delete",
						Usage: "Delete the summary instead of showing it",
					},
				},
				Action: showSummary,
			},
			{
				Name:  "books",
				Usage: "Show catalog statistics",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "delete",
						Usage: "Delete the book with `ID` and its summary",
					},
				},
				Action: showBooks,
			},
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunContext(ctx, os.Args); err != nil {
		logger.Get().Error("Error running application", map[string]interface{}{
			"error": err.Error(),
		})
		stop()
		os.Exit(1)
	}
}

// priorityFlag returns the candidate ordering requested on the command line.
func priorityFlag(c *cli.Context) ingest.Priority {
	if c.Bool("bestsellers-first") {
		return ingest.BestsellersFirst
	}
	return nil
}
