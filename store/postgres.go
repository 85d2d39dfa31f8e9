package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	_ "github.com/lib/pq"

	"github.com/xaynetwork/xaynet/mask"
)

// PostgresConfig carries the connection settings for PostgresStore,
// mirroring the teacher's services.PostgresConfig shape. DSN, when
// set, is used verbatim as the libpq connection string (the form
// config.StoreConfig.PostgresDSN carries in from the coordinator's own
// config file); the discrete fields below remain for callers that
// prefer to assemble one field at a time.
type PostgresConfig struct {
	DSN string

	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// ConnectionString returns the libpq connection string for this config.
func (c *PostgresConfig) ConnectionString() string {
	if c.DSN != "" {
		return c.DSN
	}
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, sslMode)
}

// PostgresStore persists round state in a single row of a `round_state`
// table, locked with SELECT ... FOR UPDATE for the duration of every
// operation's transaction. This is the concrete backend for what
// spec.md §6 describes abstractly as a "linearizable key-value
// substrate" (its `redis.url` configuration key): no Redis client
// exists anywhere in the example pack this coordinator was built from,
// so Postgres via github.com/lib/pq, already depended on by the
// teacher for its own registry store, fills that role here (see
// DESIGN.md).
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a connection pool and runs migrations,
// following the teacher's services.NewPostgresStore pattern exactly
// (pool sizing, ping-on-construct, migrate-on-construct).
func NewPostgresStore(cfg *PostgresConfig) (*PostgresStore, error) {
	db, err := sql.Open("postgres", cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("store: opening database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("store: pinging database: %w", err)
	}

	s := &PostgresStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("store: running migrations: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS round_state (
		id INTEGER PRIMARY KEY DEFAULT 1,
		round BIGINT NOT NULL DEFAULT 0,
		phase SMALLINT NOT NULL DEFAULT 0,
		round_seed BYTEA,
		phase_started_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		sum_dict JSONB NOT NULL DEFAULT '{}',
		seed_dict JSONB NOT NULL DEFAULT '{}',
		update_participants JSONB NOT NULL DEFAULT '{}',
		agg_masked JSONB,
		total_scalar DOUBLE PRECISION NOT NULL DEFAULT 0,
		mask_dict JSONB NOT NULL DEFAULT '{}',
		mask_vectors JSONB NOT NULL DEFAULT '{}',
		sum_count INTEGER NOT NULL DEFAULT 0,
		update_count INTEGER NOT NULL DEFAULT 0,
		sum2_count INTEGER NOT NULL DEFAULT 0,
		global_model JSONB,
		CONSTRAINT single_row CHECK (id = 1)
	);

	INSERT INTO round_state (id) VALUES (1) ON CONFLICT (id) DO NOTHING;
	`

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// row is the JSON-serializable mirror of RoundState stored in the
// round_state table's columns; vectors are encoded as decimal strings
// since JSON numbers cannot losslessly carry arbitrary-precision
// integers.
type row struct {
	Round              uint64              `json:"round"`
	Phase              Phase               `json:"phase"`
	RoundSeed          []byte              `json:"round_seed"`
	PhaseStartedAt     time.Time           `json:"phase_started_at"`
	SumDict            map[string][]byte   `json:"sum_dict"`
	SeedDict           map[string]map[string][]byte `json:"seed_dict"`
	UpdateParticipants map[string]bool     `json:"update_participants"`
	AggMasked          []string            `json:"agg_masked"`
	TotalScalar        float64             `json:"total_scalar"`
	MaskDict           map[string]int      `json:"mask_dict"`
	MaskVectors        map[string][]string `json:"mask_vectors"`
	SumCount           int                 `json:"sum_count"`
	UpdateCount        int                 `json:"update_count"`
	Sum2Count          int                 `json:"sum2_count"`
	GlobalModel        []float64           `json:"global_model"`
}

func toRow(s *RoundState) row {
	r := row{
		Round:              s.Round,
		Phase:              s.Phase,
		RoundSeed:          s.RoundSeed,
		PhaseStartedAt:     s.PhaseStartedAt,
		SumDict:            s.SumDict,
		SeedDict:           s.SeedDict,
		UpdateParticipants: s.UpdateParticipants,
		TotalScalar:        s.TotalScalar,
		MaskDict:           s.MaskDict,
		SumCount:           s.SumCount,
		UpdateCount:        s.UpdateCount,
		Sum2Count:          s.Sum2Count,
		GlobalModel:        s.GlobalModel,
	}
	if s.AggMasked != nil {
		r.AggMasked = make([]string, len(s.AggMasked))
		for i, elem := range s.AggMasked {
			r.AggMasked[i] = elem.Text(10)
		}
	}
	r.MaskVectors = make(map[string][]string, len(s.maskVectors))
	for key, v := range s.maskVectors {
		strs := make([]string, len(v))
		for i, elem := range v {
			strs[i] = elem.Text(10)
		}
		r.MaskVectors[key] = strs
	}
	return r
}

func fromRow(r row) *RoundState {
	s := &RoundState{
		Round:              r.Round,
		Phase:              r.Phase,
		RoundSeed:          r.RoundSeed,
		PhaseStartedAt:     r.PhaseStartedAt,
		SumDict:            r.SumDict,
		SeedDict:           r.SeedDict,
		UpdateParticipants: r.UpdateParticipants,
		TotalScalar:        r.TotalScalar,
		MaskDict:           r.MaskDict,
		SumCount:           r.SumCount,
		UpdateCount:        r.UpdateCount,
		Sum2Count:          r.Sum2Count,
		GlobalModel:        r.GlobalModel,
	}
	if s.SumDict == nil {
		s.SumDict = make(map[string][]byte)
	}
	if s.SeedDict == nil {
		s.SeedDict = make(map[string]map[string][]byte)
	}
	if s.UpdateParticipants == nil {
		s.UpdateParticipants = make(map[string]bool)
	}
	if s.MaskDict == nil {
		s.MaskDict = make(map[string]int)
	}
	if r.AggMasked != nil {
		s.AggMasked = make(mask.Vector, len(r.AggMasked))
		for i, str := range r.AggMasked {
			n, _ := new(big.Int).SetString(str, 10)
			s.AggMasked[i] = n
		}
	}
	s.maskVectors = make(map[string]mask.Vector, len(r.MaskVectors))
	for key, strs := range r.MaskVectors {
		v := make(mask.Vector, len(strs))
		for i, str := range strs {
			n, _ := new(big.Int).SetString(str, 10)
			v[i] = n
		}
		s.maskVectors[key] = v
	}
	return s
}

// withTx runs fn inside a transaction that holds the single round_state
// row locked for the duration, reads it into a RoundState, lets fn
// mutate it, and writes the result back before committing. This is the
// atomic-operation pattern every Store method below follows, the SQL
// analogue of MemoryStore's mutex-held check-then-mutate.
func (s *PostgresStore) withTx(ctx context.Context, fn func(*RoundState) (bool, error)) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback()

	var data []byte
	if err := tx.QueryRowContext(ctx, `SELECT row_to_json(round_state) FROM round_state WHERE id = 1 FOR UPDATE`).Scan(&data); err != nil {
		return fmt.Errorf("store: select for update: %w", err)
	}

	var r row
	if err := json.Unmarshal(data, &r); err != nil {
		return fmt.Errorf("store: decode round_state: %w", err)
	}
	state := fromRow(r)

	changed, err := fn(state)
	if err != nil {
		return err
	}
	if !changed {
		return tx.Rollback()
	}

	out := toRow(state)
	if _, err := tx.ExecContext(ctx, `
		UPDATE round_state SET
			round = $1, phase = $2, round_seed = $3, phase_started_at = $4, sum_dict = $5, seed_dict = $6,
			update_participants = $7, agg_masked = $8, total_scalar = $9, mask_dict = $10,
			mask_vectors = $11, sum_count = $12, update_count = $13, sum2_count = $14,
			global_model = $15
		WHERE id = 1`,
		out.Round, out.Phase, out.RoundSeed, out.PhaseStartedAt, jsonOf(out.SumDict), jsonOf(out.SeedDict),
		jsonOf(out.UpdateParticipants), jsonOf(out.AggMasked), out.TotalScalar, jsonOf(out.MaskDict),
		jsonOf(out.MaskVectors), out.SumCount, out.UpdateCount, out.Sum2Count, jsonOf(out.GlobalModel),
	); err != nil {
		return fmt.Errorf("store: update round_state: %w", err)
	}

	return tx.Commit()
}

func jsonOf(v any) []byte {
	b, _ := json.Marshal(v)
	return b
}

func (s *PostgresStore) RegisterSum(ctx context.Context, pkS string, pkE []byte) error {
	return s.withTx(ctx, func(state *RoundState) (bool, error) {
		if state.Phase != PhaseSum {
			return false, ErrWrongPhase
		}
		if _, exists := state.SumDict[pkS]; exists {
			return false, ErrDuplicate
		}
		state.SumDict[pkS] = append([]byte(nil), pkE...)
		state.SumCount++
		return true, nil
	})
}

func (s *PostgresStore) RegisterUpdate(ctx context.Context, pkSUpdate string, localSeedDict map[string][]byte) error {
	return s.withTx(ctx, func(state *RoundState) (bool, error) {
		if state.Phase != PhaseUpdate {
			return false, ErrWrongPhase
		}
		if state.UpdateParticipants[pkSUpdate] {
			return false, ErrDuplicate
		}
		if len(localSeedDict) != len(state.SumDict) {
			return false, ErrShapeMismatch
		}
		for pkSSum := range localSeedDict {
			if _, ok := state.SumDict[pkSSum]; !ok {
				return false, ErrShapeMismatch
			}
		}
		for pkSSum, ciphertext := range localSeedDict {
			inner, ok := state.SeedDict[pkSSum]
			if !ok {
				inner = make(map[string][]byte)
				state.SeedDict[pkSSum] = inner
			}
			inner[pkSUpdate] = append([]byte(nil), ciphertext...)
		}
		state.UpdateParticipants[pkSUpdate] = true
		state.UpdateCount++
		return true, nil
	})
}

func (s *PostgresStore) AccumulateMasked(ctx context.Context, masked mask.Vector, scalar float64, q *big.Int) error {
	return s.withTx(ctx, func(state *RoundState) (bool, error) {
		if state.Phase != PhaseUpdate {
			return false, ErrWrongPhase
		}
		scaled := scaleVector(masked, scalar, q)
		if state.AggMasked == nil {
			state.AggMasked = scaled
		} else {
			sum, err := mask.Add(state.AggMasked, scaled, q)
			if err != nil {
				return false, err
			}
			state.AggMasked = sum
		}
		state.TotalScalar += scalar
		return true, nil
	})
}

func (s *PostgresStore) SubmitMask(ctx context.Context, pkSSum string, maskVec mask.Vector) error {
	return s.withTx(ctx, func(state *RoundState) (bool, error) {
		if state.Phase != PhaseSum2 {
			return false, ErrWrongPhase
		}
		if _, ok := state.SumDict[pkSSum]; !ok {
			return false, ErrNotRegistered
		}
		delete(state.SumDict, pkSSum)
		key := vectorKey(maskVec)
		state.MaskDict[key]++
		state.maskVectors[key] = maskVec
		state.Sum2Count++
		return true, nil
	})
}

func (s *PostgresStore) AdvancePhase(ctx context.Context, expected, next Phase) (bool, error) {
	var transitioned bool
	err := s.withTx(ctx, func(state *RoundState) (bool, error) {
		if state.Phase != expected {
			return false, nil
		}
		state.Phase = next
		state.PhaseStartedAt = time.Now()
		transitioned = true
		return true, nil
	})
	return transitioned, err
}

func (s *PostgresStore) StartNewRound(ctx context.Context, roundSeed []byte) (uint64, error) {
	var newRound uint64
	err := s.withTx(ctx, func(state *RoundState) (bool, error) {
		if state.Phase != PhaseIdle {
			return false, ErrNotIdle
		}
		previousModel := state.GlobalModel
		newRound = state.Round + 1
		if state.Round == 0 && previousModel == nil {
			newRound = 0
		}
		fresh := newRoundState(newRound, roundSeed, previousModel)
		*state = *fresh
		return true, nil
	})
	return newRound, err
}

func (s *PostgresStore) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := s.withTx(ctx, func(state *RoundState) (bool, error) {
		snap = Snapshot{State: cloneRoundState(state)}
		return false, nil
	})
	return snap, err
}

func (s *PostgresStore) LoadSnapshot(ctx context.Context) (Snapshot, error) {
	return s.Snapshot(ctx)
}

func (s *PostgresStore) CommitUnmask(ctx context.Context, model []float64) error {
	return s.withTx(ctx, func(state *RoundState) (bool, error) {
		if state.Phase != PhaseUnmask {
			return false, ErrWrongPhase
		}
		*state = RoundState{
			Round:          state.Round + 1,
			Phase:          PhaseIdle,
			PhaseStartedAt: time.Now(),
			GlobalModel:    model,
		}
		return true, nil
	})
}

func (s *PostgresStore) Fail(ctx context.Context, expected Phase) (bool, error) {
	var transitioned bool
	err := s.withTx(ctx, func(state *RoundState) (bool, error) {
		if state.Phase != expected {
			return false, nil
		}
		state.Phase = PhaseFailed
		state.PhaseStartedAt = time.Now()
		transitioned = true
		return true, nil
	})
	return transitioned, err
}

func (s *PostgresStore) Cleanup(ctx context.Context) error {
	return s.withTx(ctx, func(state *RoundState) (bool, error) {
		if state.Phase != PhaseFailed {
			return false, ErrWrongPhase
		}
		*state = RoundState{
			Round:          state.Round + 1,
			Phase:          PhaseIdle,
			PhaseStartedAt: time.Now(),
			GlobalModel:    state.GlobalModel,
		}
		return true, nil
	})
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
