package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/emersion/go-mbox"
	"github.com/spf13/cobra"

	"github.com/gobayes/spam-filter/pkg/filter"
	"github.com/gobayes/spam-filter/pkg/profiler"
	"github.com/gobayes/spam-filter/pkg/store"
	"github.com/gobayes/spam-filter/pkg/tokenizer"
	"github.com/gobayes/spam-filter/pkg/trainer"
)

var (
	trainSpamDir   string
	trainHamDir    string
	trainSpamMbox  string
	trainHamMbox   string
	trainUntrain   bool
	trainRetrainTo string
	trainVerbose   bool
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train the model from labeled corpora",
	Long: `Train the token store from directories of message files or from
mbox files. Messages already folded into the model are skipped, so
re-running over the same folder is safe and changes nothing.

With --untrain the evidence of the given corpora is withdrawn instead.
With --retrain-as the messages are moved from their given label to the
other one, for correcting misfiled mail.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if trainSpamDir == "" && trainHamDir == "" && trainSpamMbox == "" && trainHamMbox == "" {
			return fmt.Errorf("at least one of --spam-dir, --ham-dir, --spam-mbox or --ham-mbox must be specified")
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		st, err := filter.OpenStore(cfg, store.ReadWrite)
		if err != nil {
			return err
		}
		defer st.Close()

		tok := tokenizer.New(tokenizer.Config{
			MinWordLength: cfg.Tokenizer.MinWordLength,
			MaxWordLength: cfg.Tokenizer.MaxWordLength,
			MaxTokens:     cfg.Tokenizer.MaxTokens,
		})
		tr := trainer.New(st, tok)

		start := time.Now()
		total := 0
		prof := profiler.New()

		corpora := []struct {
			dir   string
			mbox  string
			label store.Label
		}{
			{trainSpamDir, trainSpamMbox, store.LabelSpam},
			{trainHamDir, trainHamMbox, store.LabelHam},
		}

		for _, corpus := range corpora {
			var msgs []trainer.Message

			collect := prof.Start("collect")
			if corpus.dir != "" {
				dirMsgs, err := collectDirectory(corpus.dir)
				if err != nil {
					return fmt.Errorf("could not read %s corpus: %w", corpus.label, err)
				}
				msgs = append(msgs, dirMsgs...)
			}
			if corpus.mbox != "" {
				mboxMsgs, err := collectMbox(corpus.mbox)
				if err != nil {
					return fmt.Errorf("could not read %s mbox: %w", corpus.label, err)
				}
				msgs = append(msgs, mboxMsgs...)
			}
			collect.Stop()
			if len(msgs) == 0 {
				continue
			}

			train := prof.Start("train:" + string(corpus.label))
			result, err := runCorpus(tr, msgs, corpus.label)
			train.Stop()
			if err != nil {
				return err
			}

			total += result.Applied
			fmt.Printf("%s: %d applied, %d already trained, %d mismatched\n",
				corpus.label, result.Applied, result.Duplicates, result.Mismatches)
			if trainVerbose {
				for _, msgErr := range result.Errors {
					fmt.Printf("  %v\n", msgErr)
				}
				if result.Degraded > 0 {
					fmt.Printf("  %d messages only partially decoded\n", result.Degraded)
				}
			}
		}

		fmt.Printf("Done: %d messages in %v\n", total, time.Since(start).Round(time.Millisecond))
		if trainVerbose {
			prof.Report(os.Stdout)
		}
		return nil
	},
}

func runCorpus(tr *trainer.Trainer, msgs []trainer.Message, label store.Label) (*trainer.BatchResult, error) {
	if trainRetrainTo != "" {
		to := store.Label(trainRetrainTo)
		if to != store.LabelSpam && to != store.LabelHam {
			return nil, fmt.Errorf("invalid --retrain-as label %q", trainRetrainTo)
		}

		result := &trainer.BatchResult{}
		for _, msg := range msgs {
			if err := tr.Retrain(msg, label, to); err != nil {
				result.Mismatches++
				result.Errors = append(result.Errors, err)
				continue
			}
			result.Applied++
		}
		return result, nil
	}

	if trainUntrain {
		return tr.UntrainBatch(msgs, label)
	}
	return tr.TrainBatch(msgs, label)
}

// collectDirectory gathers raw messages from all mail files under dir
func collectDirectory(dir string) ([]trainer.Message, error) {
	var msgs []trainer.Message

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".eml" && ext != ".msg" && ext != ".email" && ext != "" {
			return nil
		}

		raw, err := os.ReadFile(path)
		if err != nil {
			if trainVerbose {
				fmt.Printf("Skipping %s: %v\n", path, err)
			}
			return nil
		}

		msgs = append(msgs, trainer.Message{Raw: raw})
		return nil
	})
	if err != nil {
		return nil, err
	}

	return msgs, nil
}

// collectMbox gathers raw messages from a Unix mbox file
func collectMbox(path string) ([]trainer.Message, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("could not open mbox: %w", err)
	}
	defer f.Close()

	var msgs []trainer.Message
	mr := mbox.NewReader(f)
	for {
		msgReader, err := mr.NextMessage()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("could not read mbox message: %w", err)
		}

		raw, err := io.ReadAll(msgReader)
		if err != nil {
			return nil, fmt.Errorf("could not read mbox message: %w", err)
		}
		msgs = append(msgs, trainer.Message{Raw: raw})
	}

	return msgs, nil
}

func init() {
	trainCmd.Flags().StringVarP(&trainSpamDir, "spam-dir", "s", "", "Directory containing spam messages")
	trainCmd.Flags().StringVar(&trainHamDir, "ham-dir", "", "Directory containing ham messages")
	trainCmd.Flags().StringVar(&trainSpamMbox, "spam-mbox", "", "Mbox file containing spam messages")
	trainCmd.Flags().StringVar(&trainHamMbox, "ham-mbox", "", "Mbox file containing ham messages")
	trainCmd.Flags().BoolVar(&trainUntrain, "untrain", false, "Withdraw the corpora's evidence instead of adding it")
	trainCmd.Flags().StringVar(&trainRetrainTo, "retrain-as", "", "Move messages from their given label to this one (spam or ham)")
	trainCmd.Flags().BoolVarP(&trainVerbose, "verbose", "v", false, "Verbose output")
}
