package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/callinsights/hub/internal/models"
	"github.com/callinsights/hub/internal/service"
)

type options struct {
	owner           string
	jobType         string
	contentType     string
	forceRegenerate bool
	concurrency     int
	rate            float64
	ids             []string
	idsFile         string
	apiURL          string
	apiKey          string
	report          string
}

// runner executes one bulk request, either in process or over HTTP.
type runner interface {
	Run(ctx context.Context, caller string, req service.BulkRequest) (*service.BulkResult, error)
	Close()
}

var errNoCalls = errors.New("no call IDs given (use --ids or --ids-file)")

func newRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "bulk-enrich",
		Short: "Enqueue enrichment jobs for many calls",
		Long: `bulk-enrich fans a single job type out over a list of calls.

Each call gets its own job; cached results are reported without creating work.
Per-call failures are listed in the summary and never abort the batch.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return run(ctx, opts, cmd.OutOrStdout())
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.owner, "owner", "", "owner ID the calls belong to (required)")
	flags.StringVar(&opts.jobType, "job-type", "", "transcription, insights or embedding (required)")
	flags.StringVar(&opts.contentType, "content-type", "", "content type override (defaults per job type)")
	flags.BoolVar(&opts.forceRegenerate, "force", false, "bypass the enrichment cache")
	flags.IntVar(&opts.concurrency, "concurrency", 0, "parallel enrich calls (0 uses BULK_CONCURRENCY)")
	flags.Float64Var(&opts.rate, "rate", 0, "enrich calls started per second (0 uses BULK_RATE_LIMIT)")
	flags.StringSliceVar(&opts.ids, "ids", nil, "comma-separated call IDs")
	flags.StringVar(&opts.idsFile, "ids-file", "", "file with one call ID per line ('-' for stdin)")
	flags.StringVar(&opts.apiURL, "api-url", "", "hub base URL; when set the batch is sent over HTTP")
	flags.StringVar(&opts.apiKey, "api-key", "", "API key for --api-url (defaults to $API_KEY)")
	flags.StringVar(&opts.report, "report", "", "write an .xlsx report to this path")

	_ = cmd.MarkFlagRequired("owner")
	_ = cmd.MarkFlagRequired("job-type")

	return cmd
}

func run(ctx context.Context, opts *options, out io.Writer) error {
	req, err := buildRequest(opts)
	if err != nil {
		return err
	}

	var r runner
	if opts.apiURL != "" {
		apiKey := opts.apiKey
		if apiKey == "" {
			apiKey = os.Getenv("API_KEY")
		}

		r = newHTTPRunner(opts.apiURL, apiKey)
	} else {
		r, err = newLocalRunner(ctx, opts)
		if err != nil {
			return err
		}
	}
	defer r.Close()

	result, err := r.Run(ctx, opts.owner, req)
	if err != nil {
		return err
	}

	printSummary(out, result)

	if opts.report != "" {
		if err := writeReport(opts.report, req, result); err != nil {
			return err
		}

		fmt.Fprintf(out, "\nReport written to %s\n", opts.report)
	}

	return nil
}

func buildRequest(opts *options) (service.BulkRequest, error) {
	jobType := models.JobType(opts.jobType)
	if !jobType.IsValid() {
		return service.BulkRequest{}, fmt.Errorf("invalid --job-type %q", opts.jobType)
	}

	var file io.Reader

	switch opts.idsFile {
	case "":
	case "-":
		file = os.Stdin
	default:
		f, err := os.Open(opts.idsFile)
		if err != nil {
			return service.BulkRequest{}, fmt.Errorf("open ids file: %w", err)
		}
		defer f.Close()

		file = f
	}

	ids, err := parseCallIDs(opts.ids, file)
	if err != nil {
		return service.BulkRequest{}, err
	}

	if len(ids) == 0 {
		return service.BulkRequest{}, errNoCalls
	}

	return service.BulkRequest{
		CallIDs:         ids,
		JobType:         jobType,
		ContentType:     models.ContentType(opts.contentType),
		ForceRegenerate: opts.forceRegenerate,
		Concurrency:     opts.concurrency,
	}, nil
}

func printSummary(out io.Writer, result *service.BulkResult) {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintln(tw, "CALL\tJOB\tSTATUS\tCACHED\tERROR")

	for _, item := range result.Items {
		jobID := "-"
		if item.JobID != nil {
			jobID = item.JobID.String()
		}

		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\n", item.CallID, jobID, item.Status, item.Cached, item.Error)
	}

	fmt.Fprintf(tw, "\naccepted: %d\tcached: %d\tfailed: %d\tcancelled: %d\n",
		result.Accepted, result.Cached, result.Failed, result.Cancelled)
}
