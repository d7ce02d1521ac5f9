package main

import (
	"fmt"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"restaurant_ops/pkg/export"
	"restaurant_ops/pkg/seed"
)

func newDispatchCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "dispatch",
		Short: "Run one pass over the reservation email outbox",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := start(cmd.Context(), load)
			if err != nil {
				return err
			}
			defer a.close()

			pub, err := a.publisher()
			if err != nil {
				return err
			}
			defer pub.Close()

			res, err := a.dispatcher(pub).RunOnce(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "sent=%d failed=%d deferred=%d skipped=%d\n",
				res.Sent, res.Failed, res.Deferred, res.Skipped)
			return err
		},
	}
}

func newSeedCmd(load loader) *cobra.Command {
	var (
		want       seed.Counts
		randomSeed int64
	)
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Fill the sheets with demo reservations, inventory and recipes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := start(cmd.Context(), load)
			if err != nil {
				return err
			}
			defer a.close()

			bar := progressbar.NewOptions(want.Total(),
				progressbar.OptionSetWriter(cmd.ErrOrStderr()),
				progressbar.OptionSetDescription("seeding"),
				progressbar.OptionShowCount(),
				progressbar.OptionClearOnFinish(),
			)
			s := seed.New(a.reservations, a.inventory, a.recipes, a.log, randomSeed)
			s.OnProgress(func() { _ = bar.Add(1) })

			got, err := s.Run(cmd.Context(), want)
			_ = bar.Finish()
			fmt.Fprintf(cmd.OutOrStdout(), "reservations=%d items=%d recipes=%d\n",
				got.Reservations, got.Items, got.Recipes)
			return err
		},
	}
	cmd.Flags().IntVar(&want.Reservations, "reservations", 40, "reservations to create")
	cmd.Flags().IntVar(&want.Items, "items", 20, "inventory items to create")
	cmd.Flags().IntVar(&want.Recipes, "recipes", 6, "recipes to create")
	cmd.Flags().Int64Var(&randomSeed, "seed", 42, "random seed")
	return cmd
}

func newExportCmd(v *viper.Viper, load loader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a parquet snapshot of the reservation and inventory sheets",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := start(cmd.Context(), load)
			if err != nil {
				return err
			}
			defer a.close()

			var target export.Target = export.LocalTarget{Dir: a.cfg.Export.Dir}
			if a.cfg.Export.Bucket != "" {
				s3, err := export.NewS3Target(cmd.Context(), a.cfg.Export.Region, a.cfg.Export.Bucket, a.cfg.Export.Prefix)
				if err != nil {
					return err
				}
				target = s3
			}

			bar := progressbar.NewOptions(-1,
				progressbar.OptionSetWriter(cmd.ErrOrStderr()),
				progressbar.OptionSetDescription("exporting rows"),
				progressbar.OptionShowCount(),
				progressbar.OptionClearOnFinish(),
			)
			e := export.New(a.gw, target, a.log)
			e.OnProgress(func(rows int) { _ = bar.Add(rows) })

			results, err := e.Snapshot(cmd.Context(), time.Now())
			_ = bar.Finish()
			for _, r := range results {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\t%s\n", r.Sheet, r.Rows, r.Location)
			}
			return err
		},
	}
	cmd.Flags().String("dir", "exports", "local directory for snapshots")
	cmd.Flags().String("bucket", "", "S3 bucket; overrides --dir when set")
	_ = v.BindPFlag("export.dir", cmd.Flags().Lookup("dir"))
	_ = v.BindPFlag("export.bucket", cmd.Flags().Lookup("bucket"))
	return cmd
}

func newReconcileCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Repair the recipe summary table against the recipe details",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := start(cmd.Context(), load)
			if err != nil {
				return err
			}
			defer a.close()

			report, err := a.recipes.Reconcile(cmd.Context())
			if err != nil {
				return err
			}
			if report.Changed() {
				a.log.Info("Recipes reconciled",
					zap.Strings("removed", report.RemovedSummaries),
					zap.Strings("added", report.AddedSummaries),
					zap.Strings("renamed", report.RenamedSummaries))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed=%d added=%d renamed=%d\n",
				len(report.RemovedSummaries), len(report.AddedSummaries), len(report.RenamedSummaries))
			return nil
		},
	}
}
