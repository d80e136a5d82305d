package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gobayes/spam-filter/pkg/filter"
	"github.com/gobayes/spam-filter/pkg/store"
)

var pruneThreshold int64

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove statistically useless tokens",
	Long: `Remove tokens whose total occurrence count is too low to carry
evidence, bounding store growth. Safe to run between training batches;
refuses to run while a training batch is active.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		threshold := pruneThreshold
		if threshold == 0 {
			threshold = cfg.Store.PruneThreshold
		}

		st, err := filter.OpenStore(cfg, store.ReadWrite)
		if err != nil {
			return err
		}
		defer st.Close()

		removed, err := st.Prune(threshold)
		if err != nil {
			return err
		}

		fmt.Printf("Removed %d tokens with total count below %d\n", removed, threshold)
		return nil
	},
}

func init() {
	pruneCmd.Flags().Int64VarP(&pruneThreshold, "threshold", "t", 0, "Minimum total count to keep (default from config)")
}
