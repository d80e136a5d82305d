// Package store persists per-token spam/ham counts together with the
// corpus-wide training totals. All backends share the same contract:
// any number of concurrent readers, at most one training batch writer,
// and batch mutations that become visible atomically on commit.
package store

// Label identifies which corpus a message was filed under
type Label string

const (
	LabelSpam Label = "spam"
	LabelHam  Label = "ham"
)

// Direction selects forward or inverse application of a message's
// evidence
type Direction int

const (
	Train Direction = iota
	Untrain
)

// Mode controls whether a store handle may mutate the store
type Mode int

const (
	ReadOnly Mode = iota
	ReadWrite
)

// Record holds the per-token message counts. A token absent from the
// store is represented by the zero Record, not an error.
type Record struct {
	SpamCount int64
	HamCount  int64
}

// CorpusState holds the aggregate trained-message totals per label
type CorpusState struct {
	TotalSpam int64
	TotalHam  int64
}

// TokenCount pairs a token with its counts, used for reporting
type TokenCount struct {
	Token string
	Record
}

// Store is a durable token count store.
type Store interface {
	// Lookup returns the record for one token, zero if absent.
	Lookup(token string) (Record, error)

	// BulkLookup returns records for many tokens from a single
	// consistent snapshot. Absent tokens map to zero records.
	BulkLookup(tokens []string) (map[string]Record, error)

	// Corpus returns the aggregate training totals.
	Corpus() (CorpusState, error)

	// TopTokens returns up to n tokens most skewed toward label,
	// strongest first. A reporting aid, not a classification input.
	TopTokens(label Label, n int) ([]TokenCount, error)

	// Begin starts an exclusive training batch. Only one batch may
	// be active at a time; mutations become visible to readers only
	// when the batch commits.
	Begin() (Batch, error)

	// Prune removes tokens whose total count is below minTotal and
	// returns how many were removed. Fails while a batch is active.
	Prune(minTotal int64) (int64, error)

	// Close flushes and releases the store. Safe to call on every
	// path, including error paths.
	Close() error
}

// Batch is one exclusive training batch. Per-message failures
// (duplicate training, untrain mismatch) leave the batch usable;
// storage failures require Rollback.
type Batch interface {
	// Apply folds one message's token set into the counts. For
	// Train it increments each token count under label, increments
	// the corpus total and records messageID as trained; it fails
	// with ErrDuplicateTraining if messageID is already trained
	// under label, or ErrLabelConflict under the other label. For
	// Untrain it is the exact inverse and fails with
	// ErrUntrainMismatch if messageID is not on record under label.
	Apply(tokens []string, label Label, messageID string, dir Direction) error

	// Commit makes all applied mutations durable atomically.
	Commit() error

	// Rollback discards all applied mutations.
	Rollback() error
}

// skew measures how strongly a record leans toward a label. Positive
// values lean toward the label, larger is stronger.
func skew(rec Record, label Label) int64 {
	if label == LabelSpam {
		return rec.SpamCount - rec.HamCount
	}
	return rec.HamCount - rec.SpamCount
}

// counterDeltas maps a label and direction to the per-token count
// increments.
func counterDeltas(label Label, dir Direction) (spam, ham int64) {
	step := int64(1)
	if dir == Untrain {
		step = -1
	}
	if label == LabelSpam {
		return step, 0
	}
	return 0, step
}
