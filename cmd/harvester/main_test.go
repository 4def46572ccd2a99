// cmd/harvester/main_test.go
package main

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valpere/SiteHarvester/internal/config"
	"github.com/valpere/SiteHarvester/internal/site"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCLIVersion(t *testing.T) {
	version, buildTime, gitCommit = "test-version", "2025-06-23", "abc123"
	t.Cleanup(func() { version, buildTime, gitCommit = "dev", "unknown", "unknown" })

	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "test-version")
	assert.Contains(t, out, "2025-06-23")
	assert.Contains(t, out, "abc123")
}

func TestCLIHelp(t *testing.T) {
	out, err := execute(t, "--help")
	require.NoError(t, err)
	for _, cmd := range []string{"run", "serve", "validate", "template", "version"} {
		assert.Contains(t, out, cmd)
	}
}

func TestTemplate_Site(t *testing.T) {
	out, err := execute(t, "template", "--type", "site")
	require.NoError(t, err)

	defs, err := site.ParseDefinitions([]byte(out))
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "example-shop", defs[0].ID)
	assert.Equal(t, site.StrategyLoadMore, defs[0].Pagination.Strategy)
}

func TestTemplate_Config(t *testing.T) {
	out, err := execute(t, "template", "--type", "config")
	require.NoError(t, err)

	cfg, err := config.LoadFromBytes([]byte(out))
	require.NoError(t, err)
	assert.Equal(t, config.Default().Server.Address, cfg.Server.Address)
}

func TestTemplate_Unknown(t *testing.T) {
	_, err := execute(t, "template", "--type", "dashboard")
	assert.Error(t, err)
}

func writeConfig(t *testing.T, sites string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sites.yaml"), []byte(sites), 0o644))
	path := filepath.Join(dir, "harvester.yaml")
	cfg := fmt.Sprintf("sites_file: sites.yaml\nstorage:\n  root: %s\n", filepath.Join(dir, "runs"))
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	return path
}

func TestValidate(t *testing.T) {
	sites, err := execute(t, "template")
	require.NoError(t, err)
	path := writeConfig(t, sites)

	out, err := execute(t, "validate", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Configuration is valid")
	assert.Contains(t, out, "✓ Site example-shop")
	assert.Contains(t, out, "1 site(s)")
}

func TestValidate_BadSite(t *testing.T) {
	path := writeConfig(t, `
sites:
  - id: broken
    base_url: https://shop.example.com
    list:
      item: "div[["
`)
	_, err := execute(t, "validate", "--config", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list.item")
}

func TestValidate_MissingConfig(t *testing.T) {
	_, err := execute(t, "validate", "--config", filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestRun_FlagChecks(t *testing.T) {
	_, err := execute(t, "run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "site")

	_, err = execute(t, "run", "--site", "demo")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--url")

	_, err = execute(t, "run", "--site", "demo", "--url", "https://shop.example.com", "-o", "out.pdf")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported output format")
}

func TestRunFlags_Job(t *testing.T) {
	t.Setenv("HARVESTER_PASSWORD", "secret")
	f := &runFlags{siteID: "demo", urls: []string{"https://shop.example.com/women"}, maxProducts: 20, images: true, username: "Buyer"}

	job := f.job()
	assert.Equal(t, "demo", job.SiteID)
	assert.True(t, job.Options.IncludeDetails)
	assert.True(t, job.Options.DownloadImages)
	require.NotNil(t, job.Credentials)
	assert.Equal(t, "secret", job.Credentials.Password)
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 1, exitCode(stderrors.New("boom")))
	assert.Equal(t, 2, exitCode(fmt.Errorf("wrapped: %w", &exitError{code: 2, err: stderrors.New("fatal")})))
}
