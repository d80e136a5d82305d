// Package trainer drives batch training of the token store from
// labeled corpora. A whole batch runs inside one store write batch, so
// cancelling or failing mid-run leaves the store in its pre-batch
// state, and re-running over an already-trained folder changes
// nothing.
package trainer

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/gobayes/spam-filter/pkg/logging"
	"github.com/gobayes/spam-filter/pkg/store"
	"github.com/gobayes/spam-filter/pkg/tokenizer"
)

// Message is one labeled corpus message. An empty ID is derived from
// the message content.
type Message struct {
	Raw []byte
	ID  string
}

// BatchResult reports per-message outcomes of one training batch.
// Duplicates and mismatches are ordinary outcomes of re-running a
// driver over a partially processed folder, not failures.
type BatchResult struct {
	Applied    int
	Duplicates int
	Mismatches int
	Degraded   int
	Errors     []error
}

// Trainer mutates a token store from labeled messages. It is the only
// component that writes to the store.
type Trainer struct {
	st  store.Store
	tok *tokenizer.Tokenizer
	l   *logrus.Logger
}

// New creates a trainer over the given store
func New(st store.Store, tok *tokenizer.Tokenizer) *Trainer {
	return &Trainer{
		st:  st,
		tok: tok,
		l:   logging.Logger(logging.Trainer),
	}
}

// TrainBatch folds a labeled batch of messages into the store.
// Already-trained messages are skipped and counted; a storage failure
// aborts and rolls back the whole batch.
func (t *Trainer) TrainBatch(msgs []Message, label store.Label) (*BatchResult, error) {
	return t.runBatch(msgs, label, store.Train)
}

// UntrainBatch reverses a labeled batch of messages. Messages not on
// record under the label are skipped and counted.
func (t *Trainer) UntrainBatch(msgs []Message, label store.Label) (*BatchResult, error) {
	return t.runBatch(msgs, label, store.Untrain)
}

func (t *Trainer) runBatch(msgs []Message, label store.Label, dir store.Direction) (*BatchResult, error) {
	batch, err := t.st.Begin()
	if err != nil {
		return nil, fmt.Errorf("could not begin training batch: %w", err)
	}

	result := &BatchResult{}
	for _, msg := range msgs {
		tokens := t.tok.Tokenize(msg.Raw)
		if tokens.Degraded {
			result.Degraded++
			t.l.Warn("Message partially decoded, training on degraded token set")
		}

		id := msg.ID
		if id == "" {
			id = tokenizer.MessageID(msg.Raw)
		}

		err := batch.Apply(tokens.Tokens, label, id, dir)
		switch {
		case err == nil:
			result.Applied++
		case errors.Is(err, store.ErrDuplicateTraining):
			result.Duplicates++
			t.l.WithField("id", id).Debug("Already trained, skipping")
		case errors.Is(err, store.ErrUntrainMismatch), errors.Is(err, store.ErrLabelConflict):
			result.Mismatches++
			result.Errors = append(result.Errors, err)
			t.l.WithField("id", id).Warn(err.Error())
		default:
			// Storage failure: the batch cannot continue. Roll
			// back so the store keeps its pre-batch state.
			if rbErr := batch.Rollback(); rbErr != nil {
				t.l.WithField("error", rbErr).Error("Could not roll back training batch")
			}
			return nil, fmt.Errorf("training batch aborted: %w", err)
		}
	}

	if err := batch.Commit(); err != nil {
		return nil, err
	}

	t.l.WithFields(logrus.Fields{
		"label":      label,
		"applied":    result.Applied,
		"duplicates": result.Duplicates,
		"mismatches": result.Mismatches,
	}).Info("Training batch committed")

	return result, nil
}

// RetrainError reports a retrain whose steps could not all be applied.
// The underlying batch is rolled back before it is returned, so the
// store is always left in its pre-retrain state.
type RetrainError struct {
	Stage string // "untrain" or "train"
	Err   error
}

func (e *RetrainError) Error() string {
	return fmt.Sprintf("retrain failed at %s step: %v", e.Stage, e.Err)
}

func (e *RetrainError) Unwrap() error { return e.Err }

// Retrain moves one message from one label to the other, used when a
// user corrects a misclassified message. Untrain and train run in the
// same batch so the pair is applied atomically or not at all.
func (t *Trainer) Retrain(msg Message, from, to store.Label) error {
	tokens := t.tok.Tokenize(msg.Raw)
	id := msg.ID
	if id == "" {
		id = tokenizer.MessageID(msg.Raw)
	}

	batch, err := t.st.Begin()
	if err != nil {
		return fmt.Errorf("could not begin retrain batch: %w", err)
	}

	if err := batch.Apply(tokens.Tokens, from, id, store.Untrain); err != nil {
		batch.Rollback()
		return &RetrainError{Stage: "untrain", Err: err}
	}
	if err := batch.Apply(tokens.Tokens, to, id, store.Train); err != nil {
		batch.Rollback()
		return &RetrainError{Stage: "train", Err: err}
	}

	if err := batch.Commit(); err != nil {
		return err
	}

	t.l.WithFields(logrus.Fields{"id": id, "from": from, "to": to}).Info("Retrained message")
	return nil
}
