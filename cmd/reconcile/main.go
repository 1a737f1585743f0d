package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mmdatafocus/cargo_backend/config"
	"github.com/mmdatafocus/cargo_backend/marketplace"
	"github.com/mmdatafocus/cargo_backend/models"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

type options struct {
	RequestId   string
	BatchSize   int
	SkipParked  bool
	Format      string
	connectFunc func() *gorm.DB
}

type report struct {
	RequestId      string   `json:"request_id,omitempty"`
	ParkedApplied  int      `json:"parked_applied"`
	Checked        int      `json:"checked"`
	Adjusted       int      `json:"adjusted"`
	AdjustedIds    []string `json:"adjusted_ids,omitempty"`
	QuotationCount *int64   `json:"quotation_count,omitempty"`
}

func connectFromEnv() *gorm.DB {
	config.ConnectDatabaseWithRetry()
	return config.GetDB()
}

func newRootCommand(connect func() *gorm.DB) *cobra.Command {
	opts := &options{connectFunc: connect}

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Heal quotation counts and apply parked quotations",
		Long: `Apply quotations parked while their request was unknown, then set every
request's quotation_count to its exact number of quotation rows. This is the only
path that may lower a count.

Examples:
  reconcile
  reconcile --request-id OMG-7-REQ-01
  reconcile --batch-size 200 --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.RequestId, "request-id", "", "reconcile one request only")
	cmd.Flags().IntVar(&opts.BatchSize, "batch-size", 500, "rows per batch for the full sweep")
	cmd.Flags().BoolVar(&opts.SkipParked, "skip-parked", false, "do not apply parked quotations first")
	cmd.Flags().StringVar(&opts.Format, "format", "text", "output format: text or json")
	return cmd
}

func run(ctx context.Context, opts *options, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.Format != "text" && opts.Format != "json" {
		return fmt.Errorf("unknown format %q", opts.Format)
	}
	db := opts.connectFunc()
	if db == nil {
		return errors.New("database not initialized")
	}
	config.SetDB(db)
	logger := config.GetLogger()
	synchronizer := marketplace.NewSynchronizer(db, logger)

	var rep report
	requestId := strings.TrimSpace(opts.RequestId)
	if requestId != "" {
		rep.RequestId = requestId
		if !opts.SkipParked {
			applied, err := synchronizer.ApplyParked(ctx, requestId)
			if err != nil {
				return fmt.Errorf("apply parked quotations: %w", err)
			}
			rep.ParkedApplied = applied
		}
		count, changed, err := models.ReconcileQuotationCount(ctx, requestId)
		if err != nil {
			return err
		}
		rep.Checked = 1
		rep.QuotationCount = &count
		if changed {
			rep.Adjusted = 1
			rep.AdjustedIds = []string{requestId}
		}
	} else {
		if !opts.SkipParked {
			applied, err := synchronizer.ApplyAllParked(ctx)
			if err != nil {
				return fmt.Errorf("apply parked quotations: %w", err)
			}
			rep.ParkedApplied = applied
		}
		summary, err := models.ReconcileAll(ctx, opts.BatchSize)
		if err != nil {
			return err
		}
		rep.Checked = summary.Checked
		rep.Adjusted = summary.Adjusted
		rep.AdjustedIds = summary.AdjustedIds
	}

	logger.WithFields(logrus.Fields{
		"field":          "reconcile",
		"request_id":     rep.RequestId,
		"parked_applied": rep.ParkedApplied,
		"checked":        rep.Checked,
		"adjusted":       rep.Adjusted,
	}).Info("reconcile finished")

	if opts.Format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	}
	fmt.Fprintf(out, "parked applied: %d\nchecked: %d\nadjusted: %d\n", rep.ParkedApplied, rep.Checked, rep.Adjusted)
	for _, id := range rep.AdjustedIds {
		fmt.Fprintf(out, "  %s\n", id)
	}
	return nil
}

func main() {
	if err := newRootCommand(connectFromEnv).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
