// Package filter glues the tokenizer, the classifier and a token
// store into the per-message entry points that delivery and training
// integrations call.
package filter

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gobayes/spam-filter/pkg/classifier"
	"github.com/gobayes/spam-filter/pkg/config"
	"github.com/gobayes/spam-filter/pkg/logging"
	"github.com/gobayes/spam-filter/pkg/store"
	"github.com/gobayes/spam-filter/pkg/tokenizer"
)

// OpenStore opens the token store backend selected by the
// configuration.
func OpenStore(cfg *config.Config, mode store.Mode) (store.Store, error) {
	switch cfg.Store.Backend {
	case "sqlite":
		return store.OpenSQLite(cfg.Store.SQLite.Path, mode)
	case "redis":
		lockTTL, err := time.ParseDuration(cfg.Store.Redis.LockTTL)
		if err != nil {
			lockTTL = 0
		}
		return store.OpenRedis(cfg.Store.Redis.URL, cfg.Store.Redis.KeyPrefix, lockTTL, mode)
	case "memory":
		return store.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

// SpamFilter is the per-message façade over the statistical core. One
// instance owns one store handle; Close releases it.
type SpamFilter struct {
	st  store.Store
	tok *tokenizer.Tokenizer
	cls *classifier.Classifier
	l   *logrus.Logger
}

// Open creates a filter over the configured store backend
func Open(cfg *config.Config, mode store.Mode) (*SpamFilter, error) {
	st, err := OpenStore(cfg, mode)
	if err != nil {
		return nil, err
	}
	return NewWithStore(cfg, st), nil
}

// NewWithStore creates a filter over an already opened store. The
// filter takes ownership of the store handle.
func NewWithStore(cfg *config.Config, st store.Store) *SpamFilter {
	tok := tokenizer.New(tokenizer.Config{
		MinWordLength: cfg.Tokenizer.MinWordLength,
		MaxWordLength: cfg.Tokenizer.MaxWordLength,
		MaxTokens:     cfg.Tokenizer.MaxTokens,
	})
	cls := classifier.New(&classifier.Config{
		UnknownWordProb:     cfg.Classifier.UnknownWordProb,
		UnknownWordStrength: cfg.Classifier.UnknownWordStrength,
		MinTokenCount:       cfg.Classifier.MinTokenCount,
		NeutralWindow:       cfg.Classifier.NeutralWindow,
		MaxDiscriminators:   cfg.Classifier.MaxDiscriminators,
		HamCutoff:           cfg.Classifier.HamCutoff,
		SpamCutoff:          cfg.Classifier.SpamCutoff,
	})

	return &SpamFilter{
		st:  st,
		tok: tok,
		cls: cls,
		l:   logging.Logger(logging.Filter),
	}
}

// Result is one classification outcome
type Result struct {
	Probability float64
	Verdict     classifier.Verdict
	Tokens      int
	Degraded    bool
	Elapsed     time.Duration
}

// Classify scores one raw message. The store is only read.
func (f *SpamFilter) Classify(raw []byte) (*Result, error) {
	start := time.Now()

	tokens := f.tok.Tokenize(raw)
	if tokens.Degraded {
		f.l.Warn("Message partially decoded, classifying degraded token set")
	}

	prob, verdict, err := f.cls.Classify(tokens.Tokens, f.st)
	if err != nil {
		return nil, fmt.Errorf("could not classify message: %w", err)
	}

	result := &Result{
		Probability: prob,
		Verdict:     verdict,
		Tokens:      len(tokens.Tokens),
		Degraded:    tokens.Degraded,
		Elapsed:     time.Since(start),
	}

	f.l.WithFields(logrus.Fields{
		"verdict":     verdict,
		"probability": fmt.Sprintf("%.4f", prob),
		"tokens":      result.Tokens,
		"elapsed":     result.Elapsed,
	}).Debug("Classified message")

	return result, nil
}

// Train folds one labeled raw message into the store. An empty
// messageID is derived from the content.
func (f *SpamFilter) Train(raw []byte, label store.Label, messageID string) error {
	return f.applyOne(raw, label, messageID, store.Train)
}

// Untrain reverses the training of one labeled raw message.
func (f *SpamFilter) Untrain(raw []byte, label store.Label, messageID string) error {
	return f.applyOne(raw, label, messageID, store.Untrain)
}

func (f *SpamFilter) applyOne(raw []byte, label store.Label, messageID string, dir store.Direction) error {
	tokens := f.tok.Tokenize(raw)
	if messageID == "" {
		messageID = tokenizer.MessageID(raw)
	}

	batch, err := f.st.Begin()
	if err != nil {
		return err
	}

	if err := batch.Apply(tokens.Tokens, label, messageID, dir); err != nil {
		batch.Rollback()
		return err
	}
	return batch.Commit()
}

// Store exposes the underlying store handle for maintenance
// operations.
func (f *SpamFilter) Store() store.Store {
	return f.st
}

// Tokenizer exposes the message tokenizer sharing this filter's
// settings.
func (f *SpamFilter) Tokenizer() *tokenizer.Tokenizer {
	return f.tok
}

// Close flushes and releases the store handle
func (f *SpamFilter) Close() error {
	return f.st.Close()
}
