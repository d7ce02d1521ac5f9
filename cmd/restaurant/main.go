package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"restaurant_ops/pkg/config"
)

type loader func() (*config.Config, error)

func newRootCmd() *cobra.Command {
	v := viper.New()
	var cfgFile string

	root := &cobra.Command{
		Use:   "restaurant",
		Short: "Restaurant operations backed by a spreadsheet",
		Long: `restaurant runs the reservations, inventory and recipe costing API on top of a
Google spreadsheet (or its SQL emulation), dispatches confirmation emails and
produces parquet snapshots of the sheets.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")
	root.PersistentFlags().String("store-backend", "sql", "spreadsheet backend: sql or google")
	root.PersistentFlags().String("log-level", "info", "log level")
	_ = v.BindPFlag("store.backend", root.PersistentFlags().Lookup("store-backend"))
	_ = v.BindPFlag("logger.level", root.PersistentFlags().Lookup("log-level"))

	load := func() (*config.Config, error) { return config.Load(v, cfgFile) }

	root.AddCommand(
		newServeCmd(v, load),
		newDispatchCmd(load),
		newSeedCmd(load),
		newExportCmd(v, load),
		newReconcileCmd(load),
	)
	return root
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
