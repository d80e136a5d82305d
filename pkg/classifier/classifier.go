// Package classifier turns per-token counts into a single spam score
// using Fisher's chi-square method of combining probabilities. It is a
// pure consumer of the token store: repeated calls against unchanged
// counts return identical results.
package classifier

import (
	"math"
	"sort"

	"github.com/gobayes/spam-filter/pkg/store"
)

// Verdict is the classification outcome
type Verdict string

const (
	VerdictHam    Verdict = "ham"
	VerdictSpam   Verdict = "spam"
	VerdictUnsure Verdict = "unsure"
)

// Probabilities are clamped away from 0 and 1 before the logarithm so
// a single saturated token cannot blow up the sum.
const probEpsilon = 1e-7

// Config holds the combining-rule tunables. No single set of values is
// canonical; the defaults follow common practice.
type Config struct {
	// Prior probability assigned to words never seen in training
	UnknownWordProb float64

	// Smoothing strength pulling rare words toward the prior
	UnknownWordStrength float64

	// Words seen fewer times than this carry no evidence
	MinTokenCount int64

	// Words closer to the prior than this are discarded
	NeutralWindow float64

	// At most this many extreme words enter the combining rule
	MaxDiscriminators int

	// Verdict thresholds, HamCutoff < SpamCutoff
	HamCutoff  float64
	SpamCutoff float64
}

// DefaultConfig returns the default combining-rule settings
func DefaultConfig() *Config {
	return &Config{
		UnknownWordProb:     0.5,
		UnknownWordStrength: 1.0,
		MinTokenCount:       5,
		NeutralWindow:       0.1,
		MaxDiscriminators:   150,
		HamCutoff:           0.2,
		SpamCutoff:          0.9,
	}
}

// Classifier scores token sets against a token store
type Classifier struct {
	cfg *Config
}

// New creates a classifier with the given settings
func New(cfg *Config) *Classifier {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Classifier{cfg: cfg}
}

// Classify scores a token set against the store and maps the score to
// a verdict. The store is never mutated. A token set with no usable
// evidence scores the neutral prior with verdict unsure.
func (c *Classifier) Classify(tokens []string, st store.Store) (float64, Verdict, error) {
	if len(tokens) == 0 {
		return c.cfg.UnknownWordProb, VerdictUnsure, nil
	}

	records, err := st.BulkLookup(tokens)
	if err != nil {
		return c.cfg.UnknownWordProb, VerdictUnsure, err
	}

	probs := c.selectEvidence(tokens, records)
	if len(probs) == 0 {
		return c.cfg.UnknownWordProb, VerdictUnsure, nil
	}

	score := fisherCombine(probs)
	if math.IsNaN(score) || math.IsInf(score, 0) || score < 0 || score > 1 {
		// Combining-rule inputs escaped the safe range despite
		// clamping; absence of a usable score is not evidence
		// either way, so fall back to the prior like the other
		// no-evidence paths.
		return c.cfg.UnknownWordProb, VerdictUnsure, nil
	}

	return score, c.verdict(score), nil
}

// TokenProb returns the smoothed spam probability estimate for one
// token record: (s*x + n*f) / (s + n), where f is the raw spam ratio
// and n the total evidence for the token. Rare tokens land near the
// prior x instead of at an extreme.
func (c *Classifier) TokenProb(rec store.Record) float64 {
	n := float64(rec.SpamCount + rec.HamCount)
	f := c.cfg.UnknownWordProb
	if n > 0 {
		f = float64(rec.SpamCount) / n
	}
	s := c.cfg.UnknownWordStrength
	return (s*c.cfg.UnknownWordProb + n*f) / (s + n)
}

type clue struct {
	token string
	prob  float64
}

// selectEvidence filters the token set down to the strongest
// discriminators: enough occurrences to matter, far enough from the
// prior to inform, and at most MaxDiscriminators of the most extreme.
func (c *Classifier) selectEvidence(tokens []string, records map[string]store.Record) []float64 {
	clues := make([]clue, 0, len(tokens))
	for _, tok := range tokens {
		rec := records[tok]
		if rec.SpamCount+rec.HamCount < c.cfg.MinTokenCount {
			continue
		}

		p := c.TokenProb(rec)
		if math.Abs(p-c.cfg.UnknownWordProb) < c.cfg.NeutralWindow {
			continue
		}
		clues = append(clues, clue{token: tok, prob: p})
	}

	// Most extreme first; ties broken by token so the selection is
	// deterministic.
	sort.Slice(clues, func(i, j int) bool {
		di := math.Abs(clues[i].prob - 0.5)
		dj := math.Abs(clues[j].prob - 0.5)
		if di != dj {
			return di > dj
		}
		return clues[i].token < clues[j].token
	})

	if c.cfg.MaxDiscriminators > 0 && len(clues) > c.cfg.MaxDiscriminators {
		clues = clues[:c.cfg.MaxDiscriminators]
	}

	probs := make([]float64, len(clues))
	for i, cl := range clues {
		probs[i] = cl.prob
	}
	return probs
}

// fisherCombine merges the selected probabilities with Fisher's
// method, run once in the spam direction and once in the ham
// direction. The two chi-square tails pull against each other; when
// many weak clues agree the combined score is far more confident than
// a naive product.
func fisherCombine(probs []float64) float64 {
	var lnSpam, lnHam float64
	for _, p := range probs {
		p = math.Min(math.Max(p, probEpsilon), 1-probEpsilon)
		lnSpam += math.Log(p)
		lnHam += math.Log(1 - p)
	}

	df := 2 * len(probs)
	h := chi2Q(-2*lnSpam, df)
	s := chi2Q(-2*lnHam, df)
	return (1 + h - s) / 2
}

func (c *Classifier) verdict(p float64) Verdict {
	switch {
	case p <= c.cfg.HamCutoff:
		return VerdictHam
	case p >= c.cfg.SpamCutoff:
		return VerdictSpam
	default:
		return VerdictUnsure
	}
}
