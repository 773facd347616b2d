package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hlapp/phylosoc2007jestill/internal/config"
	"github.com/hlapp/phylosoc2007jestill/internal/index"
	"github.com/hlapp/phylosoc2007jestill/internal/observability"
)

func newOptimizeCmd() *cobra.Command {
	var (
		treeName string
		verify   bool
	)

	optimizeCmd := &cobra.Command{
		Use:   "optimize",
		Short: "Rebuild the nested-set and closure indexes for stored trees",
		Long: `Recomputes the derived indexes of every tree (or one tree with --tree):
node intervals are reset and relabeled, then the node_paths closure table is
deleted and rebuilt from the edges. The run stops at the first failing tree;
trees processed before the failure keep their fresh indexes.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()
			cfg := config.Get()

			if treeName == "" {
				treeName = cfg.Optimize.TreeName
			}
			verify = verify || cfg.Optimize.Verify

			var opts []index.Option
			if verify {
				opts = append(opts, index.WithVerification())
			}

			components, err := NewComponentFactory().Create(ctx, cfg, opts...)
			if err != nil {
				return err
			}
			defer components.Shutdown()

			if err := components.Maintainer.Run(ctx, treeName); err != nil {
				logger.Error("Optimizer run failed", zap.Error(err), zap.String("tree_filter", treeName))
				return err
			}
			logger.Info("Optimizer run complete")
			return nil
		},
	}

	optimizeCmd.Flags().StringVar(&treeName, "tree", "", "restrict the run to trees with this exact name")
	optimizeCmd.Flags().BoolVar(&verify, "verify", false, "re-check index invariants after each rebuild")
	return optimizeCmd
}
