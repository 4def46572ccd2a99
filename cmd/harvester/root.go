// cmd/harvester/root.go
package main

import (
	stderrors "errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/valpere/SiteHarvester/internal/config"
	"github.com/valpere/SiteHarvester/internal/utils"
)

const defaultConfigFile = "configs/harvester.yaml"

type globalFlags struct {
	configFile string
	sitesFile  string
	logLevel   string
	debug      bool
}

// exitError carries a process exit code through cobra
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func exitCode(err error) int {
	var ee *exitError
	if stderrors.As(err, &ee) {
		return ee.code
	}
	return 1
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:   "harvester",
		Short: "E-commerce catalog harvester",
		Long: `SiteHarvester crawls product listings and detail pages of configured
shops with a headless browser, skipping products the catalog already knows.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&flags.configFile, "config", "c", "", "config file (default "+defaultConfigFile+" when present)")
	pf.StringVar(&flags.sitesFile, "sites", "", "sites file, overrides sites_file from the config")
	pf.StringVar(&flags.logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.BoolVar(&flags.debug, "debug", false, "development logging at debug level")

	root.AddCommand(
		newRunCmd(flags),
		newServeCmd(flags),
		newValidateCmd(flags),
		newTemplateCmd(),
		newVersionCmd(),
	)
	return root
}

// loadConfig reads the config file when one is given or the default exists
func (f *globalFlags) loadConfig() (*config.Config, error) {
	path := f.configFile
	if path == "" {
		if _, err := os.Stat(defaultConfigFile); err == nil {
			path = defaultConfigFile
		}
	}

	var cfg *config.Config
	if path != "" {
		loaded, err := config.LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg = config.Default()
	}

	if f.sitesFile != "" {
		cfg.SitesFile = f.sitesFile
	}
	if f.logLevel != "" {
		cfg.Logging.Level = f.logLevel
	}
	if f.debug {
		cfg.Logging.Level = "debug"
		cfg.Logging.Development = true
	}
	return cfg, nil
}

func (f *globalFlags) setup() (*config.Config, utils.Logger, error) {
	cfg, err := f.loadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	logger, err := utils.NewLoggerFromConfig(cfg.Logging)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}
