package store

import (
	"errors"
	"path/filepath"
	"testing"
)

func openTestSQLite(t *testing.T, path string, mode Mode) *SQLiteStore {
	t.Helper()

	st, err := OpenSQLite(path, mode)
	if err != nil {
		t.Fatalf("Failed to open SQLite store: %v", err)
	}
	return st
}

func TestSQLiteStoreTrainAndLookup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gobayes.db")
	st := openTestSQLite(t, path, ReadWrite)
	defer st.Close()

	applyAndCommit(t, st, []string{"free", "money"}, LabelSpam, "spam-1", Train)
	applyAndCommit(t, st, []string{"meeting", "money"}, LabelHam, "ham-1", Train)

	tests := []struct {
		token string
		want  Record
	}{
		{"free", Record{SpamCount: 1}},
		{"meeting", Record{HamCount: 1}},
		{"money", Record{SpamCount: 1, HamCount: 1}},
		{"unseen", Record{}},
	}
	for _, tt := range tests {
		rec, err := st.Lookup(tt.token)
		if err != nil {
			t.Fatalf("Lookup(%q) failed: %v", tt.token, err)
		}
		if rec != tt.want {
			t.Errorf("Lookup(%q) = %+v, expected %+v", tt.token, rec, tt.want)
		}
	}

	records, err := st.BulkLookup([]string{"free", "unseen"})
	if err != nil {
		t.Fatalf("BulkLookup failed: %v", err)
	}
	if records["free"].SpamCount != 1 || records["unseen"] != (Record{}) {
		t.Errorf("BulkLookup = %+v", records)
	}

	corpus, err := st.Corpus()
	if err != nil {
		t.Fatalf("Corpus failed: %v", err)
	}
	if corpus.TotalSpam != 1 || corpus.TotalHam != 1 {
		t.Errorf("Corpus = %+v, expected one spam and one ham", corpus)
	}
}

func TestSQLiteStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gobayes.db")

	st := openTestSQLite(t, path, ReadWrite)
	applyAndCommit(t, st, []string{"free", "money"}, LabelSpam, "m-1", Train)
	if err := st.Close(); err != nil {
		t.Fatalf("Failed to close store: %v", err)
	}

	reopened := openTestSQLite(t, path, ReadOnly)
	defer reopened.Close()

	rec, err := reopened.Lookup("free")
	if err != nil {
		t.Fatalf("Lookup failed after reopen: %v", err)
	}
	if rec.SpamCount != 1 {
		t.Errorf("Lookup(free) = %+v after reopen, expected spam count 1", rec)
	}

	corpus, err := reopened.Corpus()
	if err != nil {
		t.Fatalf("Corpus failed after reopen: %v", err)
	}
	if corpus.TotalSpam != 1 {
		t.Errorf("Corpus = %+v after reopen, expected one spam", corpus)
	}
}

func TestSQLiteStoreReadOnlyMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.db")

	_, err := OpenSQLite(path, ReadOnly)
	if !errors.Is(err, ErrStorageUnavailable) {
		t.Errorf("Expected ErrStorageUnavailable for missing store, got %v", err)
	}
}

func TestSQLiteStoreReadOnlyRejectsWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gobayes.db")
	st := openTestSQLite(t, path, ReadWrite)
	applyAndCommit(t, st, []string{"free"}, LabelSpam, "m-1", Train)
	st.Close()

	ro := openTestSQLite(t, path, ReadOnly)
	defer ro.Close()

	if _, err := ro.Begin(); !errors.Is(err, ErrReadOnly) {
		t.Errorf("Begin on read-only handle should fail with ErrReadOnly, got %v", err)
	}
	if _, err := ro.Prune(2); !errors.Is(err, ErrReadOnly) {
		t.Errorf("Prune on read-only handle should fail with ErrReadOnly, got %v", err)
	}
}

func TestSQLiteStoreDuplicateAndConflict(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gobayes.db")
	st := openTestSQLite(t, path, ReadWrite)
	defer st.Close()

	applyAndCommit(t, st, []string{"free"}, LabelSpam, "m-1", Train)

	batch, err := st.Begin()
	if err != nil {
		t.Fatalf("Failed to begin batch: %v", err)
	}
	defer batch.Rollback()

	if err := batch.Apply([]string{"free"}, LabelSpam, "m-1", Train); !errors.Is(err, ErrDuplicateTraining) {
		t.Errorf("Expected ErrDuplicateTraining, got %v", err)
	}
	if err := batch.Apply([]string{"free"}, LabelHam, "m-1", Train); !errors.Is(err, ErrLabelConflict) {
		t.Errorf("Expected ErrLabelConflict, got %v", err)
	}
	if err := batch.Apply([]string{"free"}, LabelHam, "m-2", Untrain); !errors.Is(err, ErrUntrainMismatch) {
		t.Errorf("Expected ErrUntrainMismatch, got %v", err)
	}

	// Per-message failures leave the batch usable.
	if err := batch.Apply([]string{"offer"}, LabelSpam, "m-2", Train); err != nil {
		t.Errorf("Batch should remain usable after per-message failures: %v", err)
	}
}

func TestSQLiteStoreUntrainInverse(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gobayes.db")
	st := openTestSQLite(t, path, ReadWrite)
	defer st.Close()

	tokens := []string{"free", "money"}
	applyAndCommit(t, st, tokens, LabelSpam, "m-1", Train)
	applyAndCommit(t, st, tokens, LabelSpam, "m-1", Untrain)

	for _, tok := range tokens {
		rec, err := st.Lookup(tok)
		if err != nil {
			t.Fatalf("Lookup(%q) failed: %v", tok, err)
		}
		if rec != (Record{}) {
			t.Errorf("Lookup(%q) = %+v after untrain, expected zero", tok, rec)
		}
	}

	corpus, _ := st.Corpus()
	if corpus != (CorpusState{}) {
		t.Errorf("Corpus = %+v after untrain, expected zero totals", corpus)
	}

	// The identity is free again after the untrain.
	applyAndCommit(t, st, tokens, LabelHam, "m-1", Train)
}

func TestSQLiteStoreRollback(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gobayes.db")
	st := openTestSQLite(t, path, ReadWrite)
	defer st.Close()

	batch, err := st.Begin()
	if err != nil {
		t.Fatalf("Failed to begin batch: %v", err)
	}
	if err := batch.Apply([]string{"free"}, LabelSpam, "m-1", Train); err != nil {
		t.Fatalf("Failed to apply: %v", err)
	}
	if err := batch.Rollback(); err != nil {
		t.Fatalf("Failed to rollback: %v", err)
	}

	rec, _ := st.Lookup("free")
	if rec != (Record{}) {
		t.Errorf("Rolled back mutations visible: %+v", rec)
	}

	// Rollback releases the writer slot.
	applyAndCommit(t, st, []string{"free"}, LabelSpam, "m-1", Train)
}

func TestSQLiteStoreSingleWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gobayes.db")
	st := openTestSQLite(t, path, ReadWrite)
	defer st.Close()

	batch, err := st.Begin()
	if err != nil {
		t.Fatalf("Failed to begin batch: %v", err)
	}
	defer batch.Rollback()

	if _, err := st.Begin(); !errors.Is(err, ErrWriterActive) {
		t.Errorf("Second Begin should fail with ErrWriterActive, got %v", err)
	}
	if _, err := st.Prune(2); !errors.Is(err, ErrWriterActive) {
		t.Errorf("Prune during a batch should fail with ErrWriterActive, got %v", err)
	}
}

func TestSQLiteStoreTopTokens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gobayes.db")
	st := openTestSQLite(t, path, ReadWrite)
	defer st.Close()

	applyAndCommit(t, st, []string{"free", "offer"}, LabelSpam, "m-1", Train)
	applyAndCommit(t, st, []string{"free"}, LabelSpam, "m-2", Train)
	applyAndCommit(t, st, []string{"meeting", "offer"}, LabelHam, "m-3", Train)

	top, err := st.TopTokens(LabelSpam, 10)
	if err != nil {
		t.Fatalf("TopTokens failed: %v", err)
	}
	if len(top) != 1 || top[0].Token != "free" || top[0].SpamCount != 2 {
		t.Fatalf("TopTokens(spam) = %+v, expected only free with spam count 2", top)
	}

	top, err = st.TopTokens(LabelHam, 10)
	if err != nil {
		t.Fatalf("TopTokens failed: %v", err)
	}
	if len(top) != 1 || top[0].Token != "meeting" {
		t.Fatalf("TopTokens(ham) = %+v, expected only meeting", top)
	}
}

func TestSQLiteStorePrune(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gobayes.db")
	st := openTestSQLite(t, path, ReadWrite)
	defer st.Close()

	applyAndCommit(t, st, []string{"rare", "common"}, LabelSpam, "m-1", Train)
	applyAndCommit(t, st, []string{"common"}, LabelSpam, "m-2", Train)

	removed, err := st.Prune(2)
	if err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("Prune removed %d tokens, expected 1", removed)
	}

	rec, _ := st.Lookup("rare")
	if rec != (Record{}) {
		t.Errorf("Pruned token still present: %+v", rec)
	}
	rec, _ = st.Lookup("common")
	if rec.SpamCount != 2 {
		t.Errorf("Surviving token = %+v, expected spam count 2", rec)
	}
}
