// Command deep is the micro-PaaS controller CLI: apps, releases, rollbacks,
// addons, the reverse proxy, host setup, git-hook maintenance, and the
// laptop-side image publish workflow.
package main

import (
	"context"
	"os"
	"path/filepath"
	"runtime"

	"github.com/deepctl/deep/internal/catalog"
	"github.com/deepctl/deep/internal/errs"
	"github.com/deepctl/deep/internal/logging"
	"github.com/deepctl/deep/internal/proxy"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:     "deep",
	Short:   "Deep micro-PaaS CLI",
	Version: "0.1.0",
	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Help()
	},
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.SetVerbose(verbose)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")

	rootCmd.AddCommand(appsCmd)
	rootCmd.AddCommand(deployCmd)
	rootCmd.AddCommand(rollbackCmd)
	rootCmd.AddCommand(releasesCmd)
	rootCmd.AddCommand(logsCmd)
	rootCmd.AddCommand(addonsCmd)
	rootCmd.AddCommand(proxyCmd)
	rootCmd.AddCommand(hostCmd)
	rootCmd.AddCommand(gitCmd)
	rootCmd.AddCommand(imageCmd)
}

// loadEnvFile loads a .env file sitting next to the module root, if present,
// the same way the teacher's CLI seeds environment variables for local runs.
func loadEnvFile() {
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		return
	}
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(file)))
	envFile := filepath.Join(projectRoot, ".env")
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			logging.Warnf("error loading .env file: %v", err)
		}
	}
}

func main() {
	loadEnvFile()
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

// dbFlag registers the --db flag shared by every subcommand that touches
// the catalog.
func dbFlag(cmd *cobra.Command) {
	cmd.Flags().StringP("db", "d", "/srv/deep/deep.db", "SQLite database path")
}

func openCatalog(cmd *cobra.Command) (*catalog.Catalog, error) {
	path, err := cmd.Flags().GetString("db")
	if err != nil {
		return nil, err
	}
	return catalog.Open(path)
}

func proxyFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("caddyfile", "f", "/srv/deep/caddy/config/Caddyfile", "Path to the host Caddyfile")
	cmd.Flags().StringP("caddy-container", "n", "deep-caddy", "Caddy service name")
}

func openProxy(cmd *cobra.Command) (*proxy.CaddyFile, error) {
	caddyfile, err := cmd.Flags().GetString("caddyfile")
	if err != nil {
		return nil, err
	}
	container, err := cmd.Flags().GetString("caddy-container")
	if err != nil {
		return nil, err
	}
	return proxy.New(caddyfile, container), nil
}

// requireApp looks up an app by name, translating a missing row into a
// not-found error the cobra command can surface directly.
func requireApp(cmd *cobra.Command, cat *catalog.Catalog, name string) (catalog.AppRow, error) {
	app, ok, err := cat.GetAppByName(cmd.Context(), name)
	if err != nil {
		return catalog.AppRow{}, err
	}
	if !ok {
		return catalog.AppRow{}, errs.NotFound("cli", "app "+name+" not found", nil)
	}
	return app, nil
}
