package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"cauldron.ai/internal/persistence/snapshot"
	"cauldron.ai/internal/protocol"
	"cauldron.ai/internal/sim/catalogs"
	"cauldron.ai/internal/sim/tuning"
)

type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed   atomic.Bool
	drops    atomic.Uint64
	failures atomic.Uint64
}

type Stats struct {
	// Drops counts requests discarded because the queue was full.
	Drops uint64
	// Failures counts statements or commits that did not reach the database.
	Failures      uint64
	QueueDepth    int
	QueueCapacity int
}

type reqKind int

const (
	reqSession reqKind = iota + 1
	reqTurn
	reqSnapshot
	reqSessionEnd
)

type req struct {
	kind reqKind

	session  sessionRow
	turn     protocol.TurnLogEntry
	snapshot snapshotRow
}

type sessionRow struct {
	ID            string
	CatalogDigest string
	TuningDigest  string
	At            string
	Turns         int
	Brews         int
	OpponentBrews int
}

type snapshotRow struct {
	SessionID string
	Turn      int
	Path      string
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	st, err := prepare(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, 4096),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop(st)
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS catalogs (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			catalog_digest TEXT NOT NULL,
			tuning_digest TEXT NOT NULL,
			started_at TEXT NOT NULL,
			ended_at TEXT,
			turns INTEGER NOT NULL DEFAULT 0,
			brews INTEGER NOT NULL DEFAULT 0,
			opponent_brews INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS turns (
			session_id TEXT NOT NULL,
			turn INTEGER NOT NULL,
			action TEXT NOT NULL,
			score REAL NOT NULL,
			price INTEGER NOT NULL,
			expansions INTEGER NOT NULL,
			rounds INTEGER NOT NULL,
			elapsed_us INTEGER NOT NULL,
			exhausted INTEGER NOT NULL,
			fell_back INTEGER NOT NULL,
			brews INTEGER NOT NULL,
			opponent_brews INTEGER NOT NULL,
			error TEXT,
			raw_json TEXT NOT NULL,
			PRIMARY KEY (session_id, turn)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_turns_action ON turns(action);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			session_id TEXT NOT NULL,
			turn INTEGER NOT NULL,
			path TEXT NOT NULL,
			PRIMARY KEY (session_id, turn)
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) send(r req) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- r:
	default:
		// Drop if the indexer falls behind; the turn log remains the source of truth.
		s.drops.Add(1)
	}
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{Drops: s.drops.Load(), Failures: s.failures.Load(), QueueDepth: len(s.ch), QueueCapacity: cap(s.ch)}
}

// RecordSession registers a new session and the catalogs and tuning it runs with.
func (s *SQLiteIndex) RecordSession(id string, cats *catalogs.Catalogs, tune tuning.Tuning) {
	s.send(req{kind: reqSession, session: sessionRow{
		ID:            id,
		CatalogDigest: cats.Digest(),
		TuningDigest:  tune.Digest(),
		At:            time.Now().UTC().Format(time.RFC3339Nano),
	}})
}

// EndSession stores the final counters of a session.
func (s *SQLiteIndex) EndSession(id string, turns, brews, opponentBrews int) {
	s.send(req{kind: reqSessionEnd, session: sessionRow{
		ID:            id,
		At:            time.Now().UTC().Format(time.RFC3339Nano),
		Turns:         turns,
		Brews:         brews,
		OpponentBrews: opponentBrews,
	}})
}

func (s *SQLiteIndex) WriteTurn(entry protocol.TurnLogEntry) error {
	s.send(req{kind: reqTurn, turn: entry})
	return nil
}

func (s *SQLiteIndex) RecordSnapshot(path string, snap snapshot.SnapshotV1) {
	s.send(req{kind: reqSnapshot, snapshot: snapshotRow{
		SessionID: snap.Header.SessionID,
		Turn:      snap.Header.Turn,
		Path:      path,
	}})
}

// UpsertCatalogs stores the catalogs and tuning in canonical JSON keyed by
// digest. It runs synchronously so it is visible before the first turn.
func (s *SQLiteIndex) UpsertCatalogs(cats *catalogs.Catalogs, tune tuning.Tuning) error {
	if s == nil {
		return nil
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)

	type kv struct {
		name   string
		digest string
		json   []byte
	}
	var rows []kv
	for _, c := range []*catalogs.Catalog{&cats.Learnables, &cats.Transforms, &cats.Brews} {
		if b, _ := json.Marshal(c.Defs); len(b) > 0 {
			rows = append(rows, kv{name: string(c.Kind), digest: c.Digest, json: b})
		}
	}
	if b, _ := json.Marshal(tune); len(b) > 0 {
		rows = append(rows, kv{name: "tuning", digest: tune.Digest(), json: b})
	}

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO catalogs(name,digest,json,updated_at) VALUES(?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range rows {
		if r.name == "" || r.digest == "" || len(r.json) == 0 {
			continue
		}
		if _, err := stmt.Exec(r.name, r.digest, string(r.json), now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

const (
	batchOps     = 200
	batchMaxWait = 2 * time.Second
)

type statements struct {
	insertSession  *sql.Stmt
	endSession     *sql.Stmt
	insertTurn     *sql.Stmt
	insertSnapshot *sql.Stmt
}

func prepare(db *sql.DB) (*statements, error) {
	var (
		st  statements
		err error
	)
	for _, p := range []struct {
		dst **sql.Stmt
		sql string
	}{
		{&st.insertSession, `INSERT OR IGNORE INTO sessions(session_id,catalog_digest,tuning_digest,started_at) VALUES(?,?,?,?)`},
		{&st.endSession, `UPDATE sessions SET ended_at=?, turns=?, brews=?, opponent_brews=? WHERE session_id=?`},
		{&st.insertTurn, `INSERT OR REPLACE INTO turns(session_id,turn,action,score,price,expansions,rounds,elapsed_us,exhausted,fell_back,brews,opponent_brews,error,raw_json) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?)`},
		{&st.insertSnapshot, `INSERT OR REPLACE INTO snapshots(session_id,turn,path) VALUES(?,?,?)`},
	} {
		if *p.dst, err = db.Prepare(p.sql); err != nil {
			st.close()
			return nil, err
		}
	}
	return &st, nil
}

func (st *statements) close() {
	for _, s := range []*sql.Stmt{st.insertSession, st.endSession, st.insertTurn, st.insertSnapshot} {
		if s != nil {
			_ = s.Close()
		}
	}
}

// batch groups queued writes into one transaction. A failed statement rolls
// the whole batch back.
type batch struct {
	db    *sql.DB
	tx    *sql.Tx
	ops   int
	since time.Time
}

func (b *batch) exec(st *sql.Stmt, args ...any) error {
	if b.tx == nil {
		tx, err := b.db.BeginTx(context.Background(), nil)
		if err != nil {
			return err
		}
		b.tx, b.ops, b.since = tx, 0, time.Now()
	}
	if _, err := b.tx.Stmt(st).Exec(args...); err != nil {
		_ = b.tx.Rollback()
		b.tx = nil
		return err
	}
	b.ops++
	return nil
}

func (b *batch) due() bool {
	return b.tx != nil && (b.ops >= batchOps || time.Since(b.since) >= batchMaxWait)
}

func (b *batch) commit() error {
	if b.tx == nil {
		return nil
	}
	err := b.tx.Commit()
	b.tx = nil
	return err
}

func (s *SQLiteIndex) loop(st *statements) {
	defer st.close()

	b := &batch{db: s.db}
	tick := time.NewTicker(batchMaxWait)
	defer tick.Stop()

	for {
		select {
		case r, ok := <-s.ch:
			if !ok {
				s.fail(b.commit())
				return
			}
			s.fail(s.apply(b, st, r))
			if b.due() {
				s.fail(b.commit())
			}
		case <-tick.C:
			if b.due() {
				s.fail(b.commit())
			}
		}
	}
}

func (s *SQLiteIndex) fail(err error) {
	if err != nil {
		s.failures.Add(1)
	}
}

func (s *SQLiteIndex) apply(b *batch, st *statements, r req) error {
	switch r.kind {
	case reqSession:
		se := r.session
		return b.exec(st.insertSession, se.ID, se.CatalogDigest, se.TuningDigest, se.At)
	case reqSessionEnd:
		se := r.session
		return b.exec(st.endSession, se.At, se.Turns, se.Brews, se.OpponentBrews, se.ID)
	case reqTurn:
		e := r.turn
		raw, err := json.Marshal(e)
		if err != nil {
			return err
		}
		d := e.Decision
		return b.exec(st.insertTurn,
			e.SessionID, e.Turn, d.Action, d.Score, d.Price,
			d.Expansions, d.Rounds, d.ElapsedUs,
			boolInt(d.Exhausted), boolInt(d.FellBack),
			e.Brews, e.OpponentBrews, nullString(d.Error), string(raw),
		)
	case reqSnapshot:
		sn := r.snapshot
		return b.exec(st.insertSnapshot, sn.SessionID, sn.Turn, sn.Path)
	}
	return fmt.Errorf("unknown request kind %d", r.kind)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
