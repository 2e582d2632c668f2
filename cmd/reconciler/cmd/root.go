package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"invoice-reconciliation-engine/cmd/reconciler/config"
)

var (
	cfgFile string
	verbose bool
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "reconciler",
	Short: "Invoice three-way match and exception workflow",
	Long: `Reconciler matches vendor invoices against purchase orders and goods
receipts, decides whether each invoice can be posted or needs attention,
and keeps an audit trail of every decision and human action.

Examples:
  reconciler load --headers po_headers.csv --lines po_lines.csv --receipts receipts.csv
  reconciler ingest invoices.json --evaluate
  reconciler evaluate --pending --output-format xlsx --output-file batch.xlsx
  reconciler invoice post 6f1c... --actor ap.clerk
  reconciler train 6f1c... --rationale "Freight surcharge agreed" --create-rule
  reconciler serve --addr :8080`,
	Version:       getVersionString(),
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (optional)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	flags.String("store-driver", "", "data store: memory or sqlite")
	flags.String("store-path", "", "sqlite database path")
	flags.String("matching-preset", "", "matching preset: default, strict or relaxed")
	flags.String("price-tolerance", "", "accepted unit price difference per line")
	flags.String("quantity-tolerance", "", "accepted over-billing beyond received quantity")
	flags.String("events-driver", "", "event publisher: log, pubsub or none")
	flags.String("lock-driver", "", "invoice lock: local or redis")

	// Bind flags to viper
	viper.BindPFlag("verbose", flags.Lookup("verbose"))
	viper.BindPFlag("store.driver", flags.Lookup("store-driver"))
	viper.BindPFlag("store.path", flags.Lookup("store-path"))
	viper.BindPFlag("matching.preset", flags.Lookup("matching-preset"))
	viper.BindPFlag("matching.price_tolerance", flags.Lookup("price-tolerance"))
	viper.BindPFlag("matching.quantity_tolerance", flags.Lookup("quantity-tolerance"))
	viper.BindPFlag("events.driver", flags.Lookup("events-driver"))
	viper.BindPFlag("lock.driver", flags.Lookup("lock-driver"))

	config.SetDefaults(viper.GetViper())
}

// initConfig reads .env, the config file and ENV variables.
func initConfig() {
	// A missing .env file is normal
	_ = godotenv.Load()

	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)

		// If a config file is specified, read it in.
		if err := viper.ReadInConfig(); err != nil {
			fmt.Fprintf(os.Stderr, "Error reading config file: %s\n", err)
			os.Exit(4)
		}

		if viper.GetBool("verbose") {
			fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
		}
	}

	// RECONCILER_STORE_PATH overrides store.path
	viper.SetEnvPrefix("RECONCILER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = getVersionString()
}

func getVersionString() string {
	if version == "dev" {
		return fmt.Sprintf("%s (commit %s, built %s)", version, commit, date)
	}
	return version
}
