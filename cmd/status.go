package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gobayes/spam-filter/pkg/filter"
	"github.com/gobayes/spam-filter/pkg/store"
)

var statusTopN int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show token store statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		st, err := filter.OpenStore(cfg, store.ReadOnly)
		if err != nil {
			return err
		}
		defer st.Close()

		corpus, err := st.Corpus()
		if err != nil {
			return err
		}

		fmt.Printf("Store backend:    %s\n", cfg.Store.Backend)
		fmt.Printf("Spam messages:    %d\n", corpus.TotalSpam)
		fmt.Printf("Ham messages:     %d\n", corpus.TotalHam)

		if corpus.TotalSpam == 0 && corpus.TotalHam == 0 {
			fmt.Println("\nThe model is empty; run 'gobayes train' first.")
			return nil
		}

		if statusTopN > 0 {
			for _, label := range []store.Label{store.LabelSpam, store.LabelHam} {
				top, err := st.TopTokens(label, statusTopN)
				if err != nil {
					return err
				}
				if len(top) == 0 {
					continue
				}

				fmt.Printf("\nStrongest %s tokens:\n", label)
				for _, tc := range top {
					fmt.Printf("  %-40s spam=%-6d ham=%d\n", tc.Token, tc.SpamCount, tc.HamCount)
				}
			}
		}

		return nil
	},
}

func init() {
	statusCmd.Flags().IntVar(&statusTopN, "top", 10, "Number of strongest tokens to show per label (0 disables)")
}
