package filter

import (
	"errors"
	"fmt"
	"testing"

	"github.com/gobayes/spam-filter/pkg/classifier"
	"github.com/gobayes/spam-filter/pkg/config"
	"github.com/gobayes/spam-filter/pkg/store"
)

func newTestFilter() *SpamFilter {
	return NewWithStore(config.DefaultConfig(), store.NewMemoryStore())
}

func spamRaw(n int) []byte {
	return []byte(fmt.Sprintf("From: seller%d@spam.example\r\n"+
		"Subject: exclusive winner prize\r\n"+
		"Message-Id: <spam-%d@spam.example>\r\n"+
		"\r\n"+
		"Congratulations winner, claim your exclusive casino prize today\r\n", n, n))
}

func hamRaw(n int) []byte {
	return []byte(fmt.Sprintf("From: colleague%d@work.example\r\n"+
		"Subject: quarterly report review\r\n"+
		"Message-Id: <ham-%d@work.example>\r\n"+
		"\r\n"+
		"Please review the attached quarterly report before the standup\r\n", n, n))
}

func trainTestFilter(t *testing.T, f *SpamFilter) {
	t.Helper()

	// Six messages per corpus so the shared vocabulary clears the
	// minimum evidence threshold.
	for i := 0; i < 6; i++ {
		if err := f.Train(spamRaw(i), store.LabelSpam, ""); err != nil {
			t.Fatalf("Failed to train spam message %d: %v", i, err)
		}
		if err := f.Train(hamRaw(i), store.LabelHam, ""); err != nil {
			t.Fatalf("Failed to train ham message %d: %v", i, err)
		}
	}
}

func TestSpamFilterEndToEnd(t *testing.T) {
	f := newTestFilter()
	defer f.Close()

	trainTestFilter(t, f)

	spamResult, err := f.Classify([]byte("From: another@spam.example\r\n" +
		"Subject: winner prize\r\n" +
		"\r\n" +
		"You are our exclusive casino winner, claim the prize\r\n"))
	if err != nil {
		t.Fatalf("Failed to classify spam message: %v", err)
	}
	if spamResult.Verdict != classifier.VerdictSpam {
		t.Errorf("Spam message verdict = %v (probability %v), expected spam",
			spamResult.Verdict, spamResult.Probability)
	}

	hamResult, err := f.Classify([]byte("From: boss@work.example\r\n" +
		"Subject: quarterly review\r\n" +
		"\r\n" +
		"The quarterly report review is moved to the afternoon standup\r\n"))
	if err != nil {
		t.Fatalf("Failed to classify ham message: %v", err)
	}
	if hamResult.Verdict != classifier.VerdictHam {
		t.Errorf("Ham message verdict = %v (probability %v), expected ham",
			hamResult.Verdict, hamResult.Probability)
	}

	if spamResult.Probability <= hamResult.Probability {
		t.Errorf("Spam probability %v should exceed ham probability %v",
			spamResult.Probability, hamResult.Probability)
	}
}

func TestSpamFilterClassifyUntrained(t *testing.T) {
	f := newTestFilter()
	defer f.Close()

	result, err := f.Classify(spamRaw(1))
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if result.Probability != 0.5 || result.Verdict != classifier.VerdictUnsure {
		t.Errorf("Untrained model result = %+v, expected (0.5, unsure)", result)
	}
}

func TestSpamFilterTrainDuplicate(t *testing.T) {
	f := newTestFilter()
	defer f.Close()

	if err := f.Train(spamRaw(1), store.LabelSpam, ""); err != nil {
		t.Fatalf("Train failed: %v", err)
	}

	err := f.Train(spamRaw(1), store.LabelSpam, "")
	if !errors.Is(err, store.ErrDuplicateTraining) {
		t.Errorf("Expected ErrDuplicateTraining, got %v", err)
	}

	corpus, _ := f.Store().Corpus()
	if corpus.TotalSpam != 1 {
		t.Errorf("Corpus = %+v, duplicate training should change nothing", corpus)
	}
}

func TestSpamFilterUntrain(t *testing.T) {
	f := newTestFilter()
	defer f.Close()

	if err := f.Train(spamRaw(1), store.LabelSpam, ""); err != nil {
		t.Fatalf("Train failed: %v", err)
	}
	if err := f.Untrain(spamRaw(1), store.LabelSpam, ""); err != nil {
		t.Fatalf("Untrain failed: %v", err)
	}

	corpus, _ := f.Store().Corpus()
	if corpus != (store.CorpusState{}) {
		t.Errorf("Corpus = %+v after untrain, expected zero totals", corpus)
	}

	err := f.Untrain(spamRaw(1), store.LabelSpam, "")
	if !errors.Is(err, store.ErrUntrainMismatch) {
		t.Errorf("Expected ErrUntrainMismatch, got %v", err)
	}
}

func TestOpenStoreBackends(t *testing.T) {
	tests := []struct {
		name    string
		backend string
		wantErr bool
	}{
		{"Memory backend", "memory", false},
		{"Unknown backend", "bogus", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultConfig()
			cfg.Store.Backend = tt.backend

			st, err := OpenStore(cfg, store.ReadWrite)
			if tt.wantErr {
				if err == nil {
					st.Close()
					t.Fatal("Expected error for unknown backend")
				}
				return
			}
			if err != nil {
				t.Fatalf("OpenStore failed: %v", err)
			}
			st.Close()
		})
	}
}
