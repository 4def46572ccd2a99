// cmd/harvester/run.go
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/valpere/SiteHarvester/internal/app"
	"github.com/valpere/SiteHarvester/internal/output"
	"github.com/valpere/SiteHarvester/internal/storage"
	"github.com/valpere/SiteHarvester/pkg/types"
)

type runFlags struct {
	siteID      string
	urls        []string
	search      string
	executionID string
	maxProducts int
	maxRequests int
	concurrency int
	maxClicks   int
	details     bool
	images      bool
	username    string
	output      string
	format      string
}

func newRunCmd(global *globalFlags) *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one harvest job and wait for it to finish",
		Example: `  harvester run --site demo-fashion --url https://shop.example.com/women --max-products 200 --details
  harvester run --site demo-fashion --search "linen shirt" -o shirts.xlsx`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJob(cmd, global, f)
		},
	}

	fl := cmd.Flags()
	fl.StringVarP(&f.siteID, "site", "s", "", "site id from the sites file")
	fl.StringSliceVarP(&f.urls, "url", "u", nil, "start URL (repeatable)")
	fl.StringVar(&f.search, "search", "", "keyword search instead of, or besides, start URLs")
	fl.StringVar(&f.executionID, "execution-id", "", "execution id (generated when empty)")
	fl.IntVar(&f.maxProducts, "max-products", types.DefaultMaxProducts, "product target across all seeds")
	fl.IntVar(&f.maxRequests, "max-requests", 0, "request ceiling (derived from the target when 0)")
	fl.IntVar(&f.concurrency, "concurrency", types.DefaultMaxConcurrency, "concurrent browser tabs")
	fl.IntVar(&f.maxClicks, "max-clicks", types.DefaultMaxLoadClicks, "load-more clicks per seed")
	fl.BoolVar(&f.details, "details", false, "visit product pages for full records")
	fl.BoolVar(&f.images, "images", false, "download product images (implies --details)")
	fl.StringVar(&f.username, "username", "", "account to log in with; password from HARVESTER_PASSWORD")
	fl.StringVarP(&f.output, "output", "o", "", "export the dataset to this file")
	fl.StringVarP(&f.format, "format", "f", "", "export format: json, jsonl, csv, xlsx (default from file extension)")
	cmd.MarkFlagRequired("site")
	return cmd
}

func (f *runFlags) job() types.JobRequest {
	job := types.JobRequest{
		ExecutionID: f.executionID,
		SiteID:      f.siteID,
		StartURLs:   f.urls,
		Options: types.Options{
			MaxProducts:    f.maxProducts,
			MaxRequests:    f.maxRequests,
			MaxConcurrency: f.concurrency,
			MaxLoadClicks:  f.maxClicks,
			IncludeDetails: f.details || f.images,
			DownloadImages: f.images,
			SearchQuery:    f.search,
		},
	}
	if f.username != "" {
		job.Credentials = &types.Credentials{Username: f.username, Password: os.Getenv("HARVESTER_PASSWORD")}
	}
	return job
}

func (f *runFlags) exportFormat() (output.Format, error) {
	if f.format != "" {
		return output.ParseFormat(f.format)
	}
	return output.ParseFormat(filepath.Ext(f.output))
}

func runJob(cmd *cobra.Command, global *globalFlags, f *runFlags) error {
	if len(f.urls) == 0 && f.search == "" {
		return fmt.Errorf("at least one --url or a --search query is required")
	}
	var format output.Format
	if f.output != "" {
		var err error
		if format, err = f.exportFormat(); err != nil {
			return err
		}
	}

	cfg, logger, err := global.setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	a, err := app.New(cfg, logger, app.WithVersion(version))
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	summary, runErr := a.Engine.Run(ctx, f.job())
	if summary != nil {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		enc.Encode(summary)
	}
	if runErr != nil && summary == nil {
		return runErr
	}

	if f.output != "" && summary != nil {
		if err := export(summary, cfg.Storage.Root, f.output, format, cfg.Output, a); err != nil {
			return err
		}
	}

	if runErr != nil {
		return &exitError{code: 2, err: runErr}
	}
	return nil
}

func export(summary *types.RunSummary, root, path string, format output.Format, ocfg output.Config, a *app.App) error {
	records, err := storage.ReadDataset(filepath.Join(storage.Dir(root, summary.SiteID, summary.ExecutionID), storage.DatasetFile))
	if err != nil {
		return err
	}
	ocfg.Format = format
	m, err := output.NewManager(ocfg, a.Logger)
	if err != nil {
		return err
	}
	_, err = m.WriteFile(path, records)
	return err
}
