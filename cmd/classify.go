package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/gobayes/spam-filter/pkg/filter"
	"github.com/gobayes/spam-filter/pkg/store"
)

var classifyVerbose bool

var classifyCmd = &cobra.Command{
	Use:   "classify [message-file]",
	Short: "Classify a single message",
	Long: `Classify one raw RFC 5322 message read from a file or, with no
argument, from standard input. Prints the verdict and the spam
probability. The token store is opened read-only.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		var raw []byte
		if len(args) == 1 {
			raw, err = os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("could not read message: %w", err)
			}
		} else {
			raw, err = io.ReadAll(os.Stdin)
			if err != nil {
				return fmt.Errorf("could not read stdin: %w", err)
			}
		}

		f, err := filter.Open(cfg, store.ReadOnly)
		if err != nil {
			return err
		}
		defer f.Close()

		result, err := f.Classify(raw)
		if err != nil {
			return err
		}

		fmt.Printf("%s (probability %.4f)\n", result.Verdict, result.Probability)
		if classifyVerbose {
			fmt.Printf("Tokens considered: %d\n", result.Tokens)
			fmt.Printf("Elapsed: %v\n", result.Elapsed)
			if result.Degraded {
				fmt.Println("Note: message was only partially decoded")
			}
		}

		return nil
	},
}

func init() {
	classifyCmd.Flags().BoolVarP(&classifyVerbose, "verbose", "v", false, "Verbose output")
}
