package store

import (
	"context"
	"crypto/sha1"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/gobayes/spam-filter/pkg/logging"
)

const defaultLockTTL = 10 * time.Minute

// RedisStore keeps the token counts in Redis hashes so several hosts
// can share one model. The training lock is a volatile key with a TTL,
// so a training process that dies mid-batch cannot orphan the lock.
type RedisStore struct {
	client  *redis.Client
	prefix  string
	mode    Mode
	lockTTL time.Duration
	ctx     context.Context
	l       *logrus.Logger

	mu           sync.Mutex
	writerActive bool
}

// OpenRedis connects to the Redis store behind url. The connection is
// verified up front; an unreachable server fails with
// ErrStorageUnavailable.
func OpenRedis(url, prefix string, lockTTL time.Duration, mode Mode) (*RedisStore, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid Redis URL: %w", err)
	}

	client := redis.NewClient(opt)
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("%w: Redis connection failed: %v", ErrStorageUnavailable, err)
	}

	if prefix == "" {
		prefix = "gobayes"
	}
	if lockTTL <= 0 {
		lockTTL = defaultLockTTL
	}

	l := logging.Logger(logging.Store)
	l.WithField("url", url).Info("Store opened")

	return &RedisStore{
		client:  client,
		prefix:  prefix,
		mode:    mode,
		lockTTL: lockTTL,
		ctx:     ctx,
		l:       l,
	}, nil
}

func (s *RedisStore) tokenKey(token string) string {
	// Hash long tokens to keep key size manageable
	if len(token) > 64 {
		h := sha1.Sum([]byte(token))
		token = fmt.Sprintf("hash_%x", h)
	}
	return fmt.Sprintf("%s:token:%s", s.prefix, token)
}

func (s *RedisStore) corpusKey() string  { return s.prefix + ":corpus" }
func (s *RedisStore) trainedKey() string { return s.prefix + ":trained" }
func (s *RedisStore) lockKey() string    { return s.prefix + ":lock" }

func recordFromHash(fields map[string]string) Record {
	spam, _ := strconv.ParseInt(fields["spam"], 10, 64)
	ham, _ := strconv.ParseInt(fields["ham"], 10, 64)
	return Record{
		SpamCount: clampNonNegative(spam),
		HamCount:  clampNonNegative(ham),
	}
}

func (s *RedisStore) Lookup(token string) (Record, error) {
	fields, err := s.client.HGetAll(s.ctx, s.tokenKey(token)).Result()
	if err != nil {
		return Record{}, fmt.Errorf("could not query token: %w", err)
	}
	return recordFromHash(fields), nil
}

func (s *RedisStore) BulkLookup(tokens []string) (map[string]Record, error) {
	result := make(map[string]Record, len(tokens))
	if len(tokens) == 0 {
		return result, nil
	}

	// MULTI/EXEC so all hashes are read from one atomic snapshot.
	cmds := make([]*redis.MapStringStringCmd, len(tokens))
	_, err := s.client.TxPipelined(s.ctx, func(pipe redis.Pipeliner) error {
		for i, tok := range tokens {
			cmds[i] = pipe.HGetAll(s.ctx, s.tokenKey(tok))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("could not query tokens: %w", err)
	}

	for i, tok := range tokens {
		result[tok] = recordFromHash(cmds[i].Val())
	}
	return result, nil
}

func (s *RedisStore) Corpus() (CorpusState, error) {
	fields, err := s.client.HGetAll(s.ctx, s.corpusKey()).Result()
	if err != nil {
		return CorpusState{}, fmt.Errorf("could not query corpus state: %w", err)
	}

	spam, _ := strconv.ParseInt(fields["total_spam"], 10, 64)
	ham, _ := strconv.ParseInt(fields["total_ham"], 10, 64)
	return CorpusState{
		TotalSpam: clampNonNegative(spam),
		TotalHam:  clampNonNegative(ham),
	}, nil
}

// TopTokens scans the whole token keyspace; intended for interactive
// status reports, not hot paths. Long tokens stored under hashed keys
// are reported by their hashed name.
func (s *RedisStore) TopTokens(label Label, n int) ([]TokenCount, error) {
	keyPrefix := s.prefix + ":token:"

	var top []TokenCount
	iter := s.client.Scan(s.ctx, 0, keyPrefix+"*", 1000).Iterator()
	for iter.Next(s.ctx) {
		key := iter.Val()
		fields, err := s.client.HGetAll(s.ctx, key).Result()
		if err != nil {
			return nil, fmt.Errorf("could not read token %q: %w", key, err)
		}

		rec := recordFromHash(fields)
		if skew(rec, label) > 0 {
			top = append(top, TokenCount{Token: key[len(keyPrefix):], Record: rec})
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("could not scan tokens: %w", err)
	}

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

func (s *RedisStore) acquireLock() error {
	ok, err := s.client.SetNX(s.ctx, s.lockKey(), "1", s.lockTTL).Result()
	if err != nil {
		return fmt.Errorf("%w: could not acquire training lock: %v", ErrStorageUnavailable, err)
	}
	if !ok {
		return ErrWriterActive
	}
	return nil
}

func (s *RedisStore) releaseLock() {
	if err := s.client.Del(s.ctx, s.lockKey()).Err(); err != nil {
		s.l.WithField("error", err).Warn("Could not release training lock, waiting for TTL expiry")
	}
	s.mu.Lock()
	s.writerActive = false
	s.mu.Unlock()
}

func (s *RedisStore) Begin() (Batch, error) {
	if s.mode == ReadOnly {
		return nil, ErrReadOnly
	}

	s.mu.Lock()
	if s.writerActive {
		s.mu.Unlock()
		return nil, ErrWriterActive
	}
	s.writerActive = true
	s.mu.Unlock()

	if err := s.acquireLock(); err != nil {
		s.mu.Lock()
		s.writerActive = false
		s.mu.Unlock()
		return nil, err
	}

	return &redisBatch{
		st:          s,
		tokenDeltas: make(map[string]Record),
		trainedSet:  make(map[string]Label),
		trainedDel:  make(map[string]struct{}),
	}, nil
}

func (s *RedisStore) Prune(minTotal int64) (int64, error) {
	if s.mode == ReadOnly {
		return 0, ErrReadOnly
	}

	s.mu.Lock()
	if s.writerActive {
		s.mu.Unlock()
		return 0, ErrWriterActive
	}
	s.writerActive = true
	s.mu.Unlock()

	if err := s.acquireLock(); err != nil {
		s.mu.Lock()
		s.writerActive = false
		s.mu.Unlock()
		return 0, err
	}
	defer s.releaseLock()

	var removed int64
	iter := s.client.Scan(s.ctx, 0, s.prefix+":token:*", 1000).Iterator()
	for iter.Next(s.ctx) {
		key := iter.Val()
		fields, err := s.client.HGetAll(s.ctx, key).Result()
		if err != nil {
			return removed, fmt.Errorf("could not read token %q: %w", key, err)
		}

		rec := recordFromHash(fields)
		if rec.SpamCount+rec.HamCount < minTotal {
			if err := s.client.Del(s.ctx, key).Err(); err != nil {
				return removed, fmt.Errorf("could not delete token %q: %w", key, err)
			}
			removed++
		}
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("could not scan tokens: %w", err)
	}

	s.l.WithFields(logrus.Fields{"Removed": removed, "MinTotal": minTotal}).Info("Pruned tokens")
	return removed, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// redisBatch stages all mutations locally and commits them through a
// single MULTI/EXEC pipeline, so readers observe either the pre-batch
// or the fully applied state.
type redisBatch struct {
	st          *RedisStore
	tokenDeltas map[string]Record
	trainedSet  map[string]Label
	trainedDel  map[string]struct{}
	corpusDelta CorpusState
	done        bool
}

func (b *redisBatch) currentLabel(id string) (Label, bool, error) {
	if label, ok := b.trainedSet[id]; ok {
		return label, true, nil
	}
	if _, ok := b.trainedDel[id]; ok {
		return "", false, nil
	}

	val, err := b.st.client.HGet(b.st.ctx, b.st.trainedKey(), id).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("could not query trained registry: %w", err)
	}
	return Label(val), true, nil
}

func (b *redisBatch) Apply(tokens []string, label Label, messageID string, dir Direction) error {
	if b.done {
		return fmt.Errorf("batch already finished")
	}

	current, exists, err := b.currentLabel(messageID)
	if err != nil {
		return err
	}

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

func (b *redisBatch) Commit() error {
	if b.done {
		return nil
	}
	b.done = true
	defer b.st.releaseLock()

	st := b.st
	_, err := st.client.TxPipelined(st.ctx, func(pipe redis.Pipeliner) error {
		for tok, delta := range b.tokenDeltas {
			key := st.tokenKey(tok)
			if delta.SpamCount != 0 {
				pipe.HIncrBy(st.ctx, key, "spam", delta.SpamCount)
			}
			if delta.HamCount != 0 {
				pipe.HIncrBy(st.ctx, key, "ham", delta.HamCount)
			}
		}
		for id := range b.trainedDel {
			pipe.HDel(st.ctx, st.trainedKey(), id)
		}
		for id, label := range b.trainedSet {
			pipe.HSet(st.ctx, st.trainedKey(), id, string(label))
		}
		if b.corpusDelta.TotalSpam != 0 {
			pipe.HIncrBy(st.ctx, st.corpusKey(), "total_spam", b.corpusDelta.TotalSpam)
		}
		if b.corpusDelta.TotalHam != 0 {
			pipe.HIncrBy(st.ctx, st.corpusKey(), "total_ham", b.corpusDelta.TotalHam)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("could not commit batch: %w", err)
	}

	return nil
}

func (b *redisBatch) Rollback() error {
	if b.done {
		return nil
	}
	b.done = true
	b.st.releaseLock()
	return nil
}
