package store

import (
	"fmt"
	"sort"
	"sync"
)

// MemoryStore is an in-process store with no durability. Used by tests
// and by ephemeral runs where persistence is not wanted.
type MemoryStore struct {
	mu      sync.RWMutex
	tokens  map[string]Record
	trained map[string]Label
	corpus  CorpusState

	writerMu     sync.Mutex
	writerActive bool
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tokens:  make(map[string]Record),
		trained: make(map[string]Label),
	}
}

func (s *MemoryStore) Lookup(token string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokens[token], nil
}

func (s *MemoryStore) BulkLookup(tokens []string) (map[string]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]Record, len(tokens))
	for _, tok := range tokens {
		result[tok] = s.tokens[tok]
	}
	return result, nil
}

func (s *MemoryStore) Corpus() (CorpusState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.corpus, nil
}

func (s *MemoryStore) TopTokens(label Label, n int) ([]TokenCount, error) {
	s.mu.RLock()
	top := make([]TokenCount, 0, len(s.tokens))
	for tok, rec := range s.tokens {
		if skew(rec, label) > 0 {
			top = append(top, TokenCount{Token: tok, Record: rec})
		}
	}
	s.mu.RUnlock()

	sort.Slice(top, func(i, j int) bool {
		si, sj := skew(top[i].Record, label), skew(top[j].Record, label)
		if si != sj {
			return si > sj
		}
		return top[i].Token < top[j].Token
	})
	if n > 0 && len(top) > n {
		top = top[:n]
	}
	return top, nil
}

func (s *MemoryStore) Begin() (Batch, error) {
	s.writerMu.Lock()
	defer s.writerMu.Unlock()
	if s.writerActive {
		return nil, ErrWriterActive
	}
	s.writerActive = true

	return &memoryBatch{
		st:          s,
		tokenDeltas: make(map[string]Record),
		trainedSet:  make(map[string]Label),
		trainedDel:  make(map[string]struct{}),
	}, nil
}

func (s *MemoryStore) Prune(minTotal int64) (int64, error) {
	s.writerMu.Lock()
	defer s.writerMu.Unlock()
	if s.writerActive {
		return 0, ErrWriterActive
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for tok, rec := range s.tokens {
		if rec.SpamCount+rec.HamCount < minTotal {
			delete(s.tokens, tok)
			removed++
		}
	}
	return removed, nil
}

func (s *MemoryStore) Close() error {
	return nil
}

// memoryBatch stages mutations locally and publishes them under the
// store's write lock on commit, so readers never observe a partially
// applied batch.
type memoryBatch struct {
	st          *MemoryStore
	tokenDeltas map[string]Record
	trainedSet  map[string]Label
	trainedDel  map[string]struct{}
	corpusDelta CorpusState
	done        bool
}

func (b *memoryBatch) currentLabel(id string) (Label, bool) {
	if label, ok := b.trainedSet[id]; ok {
		return label, true
	}
	if _, ok := b.trainedDel[id]; ok {
		return "", false
	}
	b.st.mu.RLock()
	defer b.st.mu.RUnlock()
	label, ok := b.st.trained[id]
	return label, ok
}

func (b *memoryBatch) Apply(tokens []string, label Label, messageID string, dir Direction) error {
	if b.done {
		return fmt.Errorf("batch already finished")
	}

	current, exists := b.currentLabel(messageID)

	switch dir {
	case Train:
		if exists {
			if current == label {
				return fmt.Errorf("message %s: %w", messageID, ErrDuplicateTraining)
			}
			return fmt.Errorf("message %s is trained as %s: %w", messageID, current, ErrLabelConflict)
		}
		delete(b.trainedDel, messageID)
		b.trainedSet[messageID] = label
	case Untrain:
		if !exists || current != label {
			return fmt.Errorf("message %s: %w", messageID, ErrUntrainMismatch)
		}
		if _, staged := b.trainedSet[messageID]; staged {
			delete(b.trainedSet, messageID)
		} else {
			b.trainedDel[messageID] = struct{}{}
		}
	}

	spamDelta, hamDelta := counterDeltas(label, dir)
	for _, tok := range tokens {
		rec := b.tokenDeltas[tok]
		rec.SpamCount += spamDelta
		rec.HamCount += hamDelta
		b.tokenDeltas[tok] = rec
	}
	b.corpusDelta.TotalSpam += spamDelta
	b.corpusDelta.TotalHam += hamDelta

	return nil
}

func (b *memoryBatch) Commit() error {
	if b.done {
		return nil
	}
	b.done = true

	st := b.st
	st.mu.Lock()
	for tok, delta := range b.tokenDeltas {
		rec := st.tokens[tok]
		rec.SpamCount = clampNonNegative(rec.SpamCount + delta.SpamCount)
		rec.HamCount = clampNonNegative(rec.HamCount + delta.HamCount)
		if rec == (Record{}) {
			delete(st.tokens, tok)
		} else {
			st.tokens[tok] = rec
		}
	}
	for id := range b.trainedDel {
		delete(st.trained, id)
	}
	for id, label := range b.trainedSet {
		st.trained[id] = label
	}
	st.corpus.TotalSpam = clampNonNegative(st.corpus.TotalSpam + b.corpusDelta.TotalSpam)
	st.corpus.TotalHam = clampNonNegative(st.corpus.TotalHam + b.corpusDelta.TotalHam)
	st.mu.Unlock()

	st.writerMu.Lock()
	st.writerActive = false
	st.writerMu.Unlock()

	return nil
}

func (b *memoryBatch) Rollback() error {
	if b.done {
		return nil
	}
	b.done = true

	b.st.writerMu.Lock()
	b.st.writerActive = false
	b.st.writerMu.Unlock()

	return nil
}

func clampNonNegative(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}
