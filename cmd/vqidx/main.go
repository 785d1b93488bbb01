// Command vqidx drives build/insert/search/prewarm against a local file
// relation or a Postgres-backed heap (SPEC_FULL.md §2's cmd/vqidx), the
// cobra/viper command tree generalized from the teacher's flag-driven
// cmd/dump_hdf5 and the rest of the pack's cobra/viper usage
// (direktiv/vorteil's cmd/vorteil).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ivfrabitq/vqidx/internal/telemetry"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "vqidx",
	Short: "Drive an IVF + RaBitQ vector index from the command line",
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("vqidx")
		viper.AddConfigPath(".")
	}
	viper.SetEnvPrefix("VQIDX")
	viper.AutomaticEnv()
	if err := viper.ReadInConfig(); err != nil {
		telemetry.Logger.WithError(err).Debug("no config file loaded, using flags/env/defaults")
	}
}

func main() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./vqidx.yaml)")
	rootCmd.AddCommand(buildCmd, insertCmd, searchCmd, prewarmCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
