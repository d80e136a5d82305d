package trainer

import (
	"errors"
	"fmt"
	"testing"

	"github.com/gobayes/spam-filter/pkg/store"
	"github.com/gobayes/spam-filter/pkg/tokenizer"
)

func spamMessage(n int) Message {
	raw := fmt.Sprintf("From: seller%d@spam.example\r\n"+
		"Subject: free money offer\r\n"+
		"Message-Id: <spam-%d@spam.example>\r\n"+
		"\r\n"+
		"Claim your free money prize now, exclusive winner offer\r\n", n, n)
	return Message{Raw: []byte(raw)}
}

func hamMessage(n int) Message {
	raw := fmt.Sprintf("From: colleague%d@work.example\r\n"+
		"Subject: project meeting\r\n"+
		"Message-Id: <ham-%d@work.example>\r\n"+
		"\r\n"+
		"Agenda for the quarterly project meeting attached below\r\n", n, n)
	return Message{Raw: []byte(raw)}
}

func newTestTrainer() (*Trainer, *store.MemoryStore) {
	st := store.NewMemoryStore()
	return New(st, tokenizer.New(tokenizer.DefaultConfig())), st
}

func TestTrainBatch(t *testing.T) {
	tr, st := newTestTrainer()

	msgs := []Message{spamMessage(1), spamMessage(2), spamMessage(3)}
	result, err := tr.TrainBatch(msgs, store.LabelSpam)
	if err != nil {
		t.Fatalf("TrainBatch failed: %v", err)
	}
	if result.Applied != 3 || result.Duplicates != 0 || result.Mismatches != 0 {
		t.Errorf("TrainBatch result = %+v, expected 3 applied", result)
	}

	corpus, _ := st.Corpus()
	if corpus.TotalSpam != 3 {
		t.Errorf("Corpus = %+v, expected 3 spam", corpus)
	}

	rec, _ := st.Lookup("free")
	if rec.SpamCount != 3 {
		t.Errorf("Lookup(free) = %+v, expected spam count 3", rec)
	}
}

func TestTrainBatchIdempotent(t *testing.T) {
	tr, st := newTestTrainer()

	msgs := []Message{spamMessage(1), spamMessage(2)}
	if _, err := tr.TrainBatch(msgs, store.LabelSpam); err != nil {
		t.Fatalf("TrainBatch failed: %v", err)
	}

	// Re-running over the same folder skips everything.
	result, err := tr.TrainBatch(msgs, store.LabelSpam)
	if err != nil {
		t.Fatalf("Second TrainBatch failed: %v", err)
	}
	if result.Applied != 0 || result.Duplicates != 2 {
		t.Errorf("Second TrainBatch result = %+v, expected 2 duplicates", result)
	}

	corpus, _ := st.Corpus()
	if corpus.TotalSpam != 2 {
		t.Errorf("Corpus = %+v, expected 2 spam after idempotent re-run", corpus)
	}
}

func TestTrainBatchPartiallyProcessed(t *testing.T) {
	tr, st := newTestTrainer()

	if _, err := tr.TrainBatch([]Message{spamMessage(1)}, store.LabelSpam); err != nil {
		t.Fatalf("TrainBatch failed: %v", err)
	}

	// A folder where only some messages are new: trained ones are
	// skipped, new ones are folded in.
	msgs := []Message{spamMessage(1), spamMessage(2), spamMessage(3)}
	result, err := tr.TrainBatch(msgs, store.LabelSpam)
	if err != nil {
		t.Fatalf("TrainBatch failed: %v", err)
	}
	if result.Applied != 2 || result.Duplicates != 1 {
		t.Errorf("TrainBatch result = %+v, expected 2 applied and 1 duplicate", result)
	}

	corpus, _ := st.Corpus()
	if corpus.TotalSpam != 3 {
		t.Errorf("Corpus = %+v, expected 3 spam", corpus)
	}
}

func TestTrainBatchLabelConflict(t *testing.T) {
	tr, st := newTestTrainer()

	if _, err := tr.TrainBatch([]Message{spamMessage(1)}, store.LabelSpam); err != nil {
		t.Fatalf("TrainBatch failed: %v", err)
	}

	// Training the same message as ham is a mismatch, not a silent
	// relabel.
	result, err := tr.TrainBatch([]Message{spamMessage(1)}, store.LabelHam)
	if err != nil {
		t.Fatalf("TrainBatch failed: %v", err)
	}
	if result.Applied != 0 || result.Mismatches != 1 {
		t.Errorf("TrainBatch result = %+v, expected 1 mismatch", result)
	}
	if len(result.Errors) != 1 || !errors.Is(result.Errors[0], store.ErrLabelConflict) {
		t.Errorf("Expected ErrLabelConflict in result errors, got %v", result.Errors)
	}

	corpus, _ := st.Corpus()
	if corpus.TotalHam != 0 {
		t.Errorf("Corpus = %+v, mismatched training should change nothing", corpus)
	}
}

func TestUntrainBatch(t *testing.T) {
	tr, st := newTestTrainer()

	msgs := []Message{spamMessage(1), spamMessage(2)}
	if _, err := tr.TrainBatch(msgs, store.LabelSpam); err != nil {
		t.Fatalf("TrainBatch failed: %v", err)
	}

	result, err := tr.UntrainBatch(msgs, store.LabelSpam)
	if err != nil {
		t.Fatalf("UntrainBatch failed: %v", err)
	}
	if result.Applied != 2 {
		t.Errorf("UntrainBatch result = %+v, expected 2 applied", result)
	}

	corpus, _ := st.Corpus()
	if corpus != (store.CorpusState{}) {
		t.Errorf("Corpus = %+v after full untrain, expected zero totals", corpus)
	}
	rec, _ := st.Lookup("free")
	if rec != (store.Record{}) {
		t.Errorf("Lookup(free) = %+v after full untrain, expected zero", rec)
	}
}

func TestUntrainBatchMismatch(t *testing.T) {
	tr, _ := newTestTrainer()

	result, err := tr.UntrainBatch([]Message{spamMessage(1)}, store.LabelSpam)
	if err != nil {
		t.Fatalf("UntrainBatch failed: %v", err)
	}
	if result.Applied != 0 || result.Mismatches != 1 {
		t.Errorf("UntrainBatch result = %+v, expected 1 mismatch", result)
	}
	if len(result.Errors) != 1 || !errors.Is(result.Errors[0], store.ErrUntrainMismatch) {
		t.Errorf("Expected ErrUntrainMismatch in result errors, got %v", result.Errors)
	}
}

func TestRetrain(t *testing.T) {
	tr, st := newTestTrainer()

	msg := spamMessage(1)
	if _, err := tr.TrainBatch([]Message{msg}, store.LabelSpam); err != nil {
		t.Fatalf("TrainBatch failed: %v", err)
	}

	if err := tr.Retrain(msg, store.LabelSpam, store.LabelHam); err != nil {
		t.Fatalf("Retrain failed: %v", err)
	}

	corpus, _ := st.Corpus()
	if corpus.TotalSpam != 0 || corpus.TotalHam != 1 {
		t.Errorf("Corpus = %+v after retrain, expected the message moved to ham", corpus)
	}

	rec, _ := st.Lookup("free")
	if rec.SpamCount != 0 || rec.HamCount != 1 {
		t.Errorf("Lookup(free) = %+v after retrain, expected counts moved to ham", rec)
	}
}

func TestRetrainNeverTrained(t *testing.T) {
	tr, st := newTestTrainer()

	err := tr.Retrain(spamMessage(1), store.LabelSpam, store.LabelHam)
	if err == nil {
		t.Fatal("Retrain of a never-trained message should fail")
	}

	var retrainErr *RetrainError
	if !errors.As(err, &retrainErr) {
		t.Fatalf("Expected RetrainError, got %T: %v", err, err)
	}
	if retrainErr.Stage != "untrain" {
		t.Errorf("RetrainError stage = %q, expected untrain", retrainErr.Stage)
	}
	if !errors.Is(err, store.ErrUntrainMismatch) {
		t.Errorf("RetrainError should wrap ErrUntrainMismatch, got %v", err)
	}

	// The failed retrain left the store untouched.
	corpus, _ := st.Corpus()
	if corpus != (store.CorpusState{}) {
		t.Errorf("Corpus = %+v after failed retrain, expected zero totals", corpus)
	}
}
