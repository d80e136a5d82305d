package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	migrate "github.com/rubenv/sql-migrate"
	"github.com/sirupsen/logrus"

	"github.com/gobayes/spam-filter/pkg/logging"
)

var sqliteMigrations = &migrate.MemoryMigrationSource{
	Migrations: []*migrate.Migration{
		{
			Id: "1-token-store",
			Up: []string{
				`CREATE TABLE tokens (
					token TEXT PRIMARY KEY,
					spam_count INTEGER NOT NULL DEFAULT 0,
					ham_count INTEGER NOT NULL DEFAULT 0
				)`,
				`CREATE TABLE trained (
					message_id TEXT PRIMARY KEY,
					label TEXT NOT NULL
				)`,
				`CREATE TABLE corpus (
					id INTEGER PRIMARY KEY CHECK (id = 1),
					total_spam INTEGER NOT NULL DEFAULT 0,
					total_ham INTEGER NOT NULL DEFAULT 0
				)`,
				`INSERT INTO corpus (id, total_spam, total_ham) VALUES (1, 0, 0)`,
			},
			Down: []string{
				`DROP TABLE corpus`,
				`DROP TABLE trained`,
				`DROP TABLE tokens`,
			},
		},
	},
}

// SQLiteStore is the default durable store. WAL journaling lets live
// classification read a stable pre-batch snapshot while a training
// batch writes inside a single transaction.
type SQLiteStore struct {
	db   *sqlx.DB
	mode Mode
	l    *logrus.Logger

	mu           sync.Mutex
	writerActive bool
}

// OpenSQLite opens or creates the token store at path. In read-only
// mode a missing file fails with ErrStorageUnavailable instead of
// being created.
func OpenSQLite(path string, mode Mode) (*SQLiteStore, error) {
	l := logging.Logger(logging.Store)

	if mode == ReadOnly {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("%w: no store at %s", ErrStorageUnavailable, path)
		}
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000", path)
	if mode == ReadOnly {
		dsn += "&mode=ro"
	}

	db, err := sqlx.Connect("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: could not open db: %v", ErrStorageUnavailable, err)
	}

	if mode == ReadWrite {
		if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
			db.Close()
			return nil, fmt.Errorf("could not set journal mode: %w", err)
		}
		if _, err := db.Exec(`PRAGMA synchronous=normal`); err != nil {
			db.Close()
			return nil, fmt.Errorf("could not set synchronous mode: %w", err)
		}

		applied, err := migrate.Exec(db.DB, "sqlite3", sqliteMigrations, migrate.Up)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("could not migrate store schema: %w", err)
		}
		l.WithField("migrations", applied).Debug("Executed migrations")
	}

	l.WithField("file", path).Info("Store opened")

	return &SQLiteStore{db: db, mode: mode, l: l}, nil
}

func (s *SQLiteStore) Lookup(token string) (Record, error) {
	var rec Record
	err := s.db.Get(
		&rec,
		`SELECT spam_count AS spamcount, ham_count AS hamcount FROM tokens WHERE token = ?`,
		token,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, nil
	}
	if err != nil {
		return Record{}, fmt.Errorf("could not query token: %w", err)
	}
	return rec, nil
}

func (s *SQLiteStore) BulkLookup(tokens []string) (map[string]Record, error) {
	result := make(map[string]Record, len(tokens))
	if len(tokens) == 0 {
		return result, nil
	}

	// One read transaction so chunked queries still observe a single
	// snapshot of the counts.
	tx, err := s.db.Beginx()
	if err != nil {
		return nil, fmt.Errorf("could not begin read snapshot: %w", err)
	}
	defer tx.Rollback()

	const chunkSize = 500
	for start := 0; start < len(tokens); start += chunkSize {
		end := start + chunkSize
		if end > len(tokens) {
			end = len(tokens)
		}

		qry, args, err := sqlx.In(
			`SELECT token, spam_count AS spamcount, ham_count AS hamcount FROM tokens WHERE token IN (?)`,
			tokens[start:end],
		)
		if err != nil {
			return nil, fmt.Errorf("could not build lookup query: %w", err)
		}

		rows := []struct {
			Token     string
			SpamCount int64
			HamCount  int64
		}{}
		if err := tx.Select(&rows, qry, args...); err != nil {
			return nil, fmt.Errorf("could not query tokens: %w", err)
		}

		for _, row := range rows {
			result[row.Token] = Record{SpamCount: row.SpamCount, HamCount: row.HamCount}
		}
	}

	// Tokens without a row are zero records.
	for _, tok := range tokens {
		if _, ok := result[tok]; !ok {
			result[tok] = Record{}
		}
	}

	return result, nil
}

func (s *SQLiteStore) Corpus() (CorpusState, error) {
	var state CorpusState
	err := s.db.Get(
		&state,
		`SELECT total_spam AS totalspam, total_ham AS totalham FROM corpus WHERE id = 1`,
	)
	if err != nil {
		return CorpusState{}, fmt.Errorf("could not query corpus state: %w", err)
	}
	return state, nil
}

func (s *SQLiteStore) TopTokens(label Label, n int) ([]TokenCount, error) {
	order := `spam_count - ham_count`
	if label == LabelHam {
		order = `ham_count - spam_count`
	}

	rows := []struct {
		Token     string
		SpamCount int64
		HamCount  int64
	}{}
	qry := fmt.Sprintf(
		`SELECT token, spam_count AS spamcount, ham_count AS hamcount FROM tokens
		 WHERE %s > 0 ORDER BY %s DESC, token ASC LIMIT ?`,
		order, order,
	)
	if err := s.db.Select(&rows, qry, n); err != nil {
		return nil, fmt.Errorf("could not query top tokens: %w", err)
	}

	top := make([]TokenCount, len(rows))
	for i, row := range rows {
		top[i] = TokenCount{
			Token:  row.Token,
			Record: Record{SpamCount: row.SpamCount, HamCount: row.HamCount},
		}
	}
	return top, nil
}

func (s *SQLiteStore) Begin() (Batch, error) {
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

	tx, err := s.db.Beginx()
	if err != nil {
		s.releaseWriter()
		return nil, fmt.Errorf("%w: could not begin batch: %v", ErrStorageUnavailable, err)
	}

	return &sqliteBatch{st: s, tx: tx}, nil
}

func (s *SQLiteStore) Prune(minTotal int64) (int64, error) {
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
	defer s.releaseWriter()

	result, err := s.db.Exec(`DELETE FROM tokens WHERE spam_count + ham_count < ?`, minTotal)
	if err != nil {
		return 0, fmt.Errorf("could not prune tokens: %w", err)
	}

	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("could not get number of pruned tokens: %w", err)
	}

	s.l.WithFields(logrus.Fields{"Removed": removed, "MinTotal": minTotal}).Info("Pruned tokens")
	return removed, nil
}

func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("could not close db: %w", err)
	}
	s.l.Info("Store closed")
	return nil
}

func (s *SQLiteStore) releaseWriter() {
	s.mu.Lock()
	s.writerActive = false
	s.mu.Unlock()
}

// sqliteBatch wraps one write transaction. Per-message checks run
// before any mutation, so a duplicate or mismatch leaves the
// transaction clean and the batch continues.
type sqliteBatch struct {
	st   *SQLiteStore
	tx   *sqlx.Tx
	done bool
}

func (b *sqliteBatch) Apply(tokens []string, label Label, messageID string, dir Direction) error {
	if b.done {
		return fmt.Errorf("batch already finished")
	}

	var current string
	err := b.tx.Get(&current, `SELECT label FROM trained WHERE message_id = ?`, messageID)
	exists := err == nil
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("could not query trained registry: %w", err)
	}

	switch dir {
	case Train:
		if exists {
			if Label(current) == label {
				return fmt.Errorf("message %s: %w", messageID, ErrDuplicateTraining)
			}
			return fmt.Errorf("message %s is trained as %s: %w", messageID, current, ErrLabelConflict)
		}
		if _, err := b.tx.Exec(
			`INSERT INTO trained (message_id, label) VALUES (?, ?)`,
			messageID, string(label),
		); err != nil {
			return fmt.Errorf("could not record trained message: %w", err)
		}
	case Untrain:
		if !exists || Label(current) != label {
			return fmt.Errorf("message %s: %w", messageID, ErrUntrainMismatch)
		}
		if _, err := b.tx.Exec(`DELETE FROM trained WHERE message_id = ?`, messageID); err != nil {
			return fmt.Errorf("could not remove trained message: %w", err)
		}
	}

	spamDelta, hamDelta := counterDeltas(label, dir)
	for _, tok := range tokens {
		if _, err := b.tx.Exec(
			`INSERT INTO tokens (token, spam_count, ham_count) VALUES (?, MAX(?, 0), MAX(?, 0))
			 ON CONFLICT(token) DO UPDATE SET
				spam_count = MAX(spam_count + ?, 0),
				ham_count = MAX(ham_count + ?, 0)`,
			tok, spamDelta, hamDelta, spamDelta, hamDelta,
		); err != nil {
			return fmt.Errorf("could not update token %q: %w", tok, err)
		}
	}

	if _, err := b.tx.Exec(
		`UPDATE corpus SET
			total_spam = MAX(total_spam + ?, 0),
			total_ham = MAX(total_ham + ?, 0)
		 WHERE id = 1`,
		spamDelta, hamDelta,
	); err != nil {
		return fmt.Errorf("could not update corpus state: %w", err)
	}

	return nil
}

func (b *sqliteBatch) Commit() error {
	if b.done {
		return nil
	}
	b.done = true
	defer b.st.releaseWriter()

	if err := b.tx.Commit(); err != nil {
		return fmt.Errorf("could not commit batch: %w", err)
	}
	return nil
}

func (b *sqliteBatch) Rollback() error {
	if b.done {
		return nil
	}
	b.done = true
	defer b.st.releaseWriter()

	if err := b.tx.Rollback(); err != nil {
		return fmt.Errorf("could not rollback batch: %w", err)
	}
	return nil
}
