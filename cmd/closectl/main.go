// Command closectl runs schema lookups, searches and bulk writes against
// the Close API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	version = "dev"
	commit  = "none"
)

// options are the global flags shared by every command.
type options struct {
	configFile  string
	output      string
	metricsAddr string
	yes         bool

	viper *viper.Viper
}

func newRootCommand() *cobra.Command {
	opts := &options{viper: viper.New()}

	root := &cobra.Command{
		Use:   "closectl",
		Short: "Close CRM bulk operations",
		Long: `closectl resolves Close schema names, pages through searches and applies
bulk updates and deletes with bounded concurrency.

Settings are read from $HOME/.closectl/config.yml and CLOSE_* environment
variables, e.g. CLOSE_API_KEY.`,
		Version:       fmt.Sprintf("%s (%s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&opts.configFile, "config", "c", "", "config file (default is $HOME/.closectl/config.yml)")
	pf.StringVarP(&opts.output, "output", "o", outputTable, "output format (table, json, yaml)")
	pf.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while the command runs")
	pf.BoolVarP(&opts.yes, "yes", "y", false, "apply changes without asking for confirmation")
	pf.String("env", "", "organization name, scopes cached catalogs")
	pf.String("log-level", "", "log level (debug, info, warn, error)")

	_ = opts.viper.BindPFlag("env", pf.Lookup("env"))
	_ = opts.viper.BindPFlag("log_level", pf.Lookup("log-level"))

	root.AddCommand(newResolveCommand(opts))
	root.AddCommand(newCatalogCommand(opts))
	root.AddCommand(newUsersCommand(opts))
	root.AddCommand(newSearchCommand(opts))
	root.AddCommand(newApplyCommand(opts))
	root.AddCommand(newMarkStaleCommand(opts))

	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
