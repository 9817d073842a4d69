package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/coinduel/internal/domain"
)

// BetStore implements domain.BetStore using PostgreSQL. Identifiers come
// from a BIGSERIAL column, so they are monotonically increasing and never
// reused.
type BetStore struct {
	pool *pgxpool.Pool
}

// NewBetStore creates a new BetStore backed by the given connection pool.
func NewBetStore(pool *pgxpool.Pool) *BetStore {
	return &BetStore{pool: pool}
}

// Create inserts a fresh bet and returns its assigned id.
func (s *BetStore) Create(ctx context.Context, b domain.Bet) (int64, error) {
	const query = `
		INSERT INTO bets (
			party_stable, party_volatile, stable_funded, volatile_funded,
			start_timestamp, settled, winner, settlement_price,
			created_at, updated_at, settled_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`

	var id int64
	err := s.pool.QueryRow(ctx, query,
		b.PartyStable, b.PartyVolatile, b.StableFunded, b.VolatileFunded,
		nullTime(b.StartTimestamp), b.Settled, nullStr(b.Winner), b.SettlementPrice,
		b.CreatedAt, b.UpdatedAt, b.SettledAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("postgres: create bet: %w", err)
	}
	return id, nil
}

// GetByID retrieves a single bet by id.
func (s *BetStore) GetByID(ctx context.Context, id int64) (domain.Bet, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+betSelectCols+` FROM bets WHERE id = $1`, id)

	b, err := scanBetFromRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Bet{}, domain.ErrNotFound
		}
		return domain.Bet{}, fmt.Errorf("postgres: get bet %d: %w", id, err)
	}
	return b, nil
}

// Update replaces the mutable fields of an existing bet.
func (s *BetStore) Update(ctx context.Context, b domain.Bet) error {
	const query = `
		UPDATE bets SET
			stable_funded = $2, volatile_funded = $3, start_timestamp = $4,
			settled = $5, winner = $6, settlement_price = $7,
			updated_at = $8, settled_at = $9
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query,
		b.ID, b.StableFunded, b.VolatileFunded, nullTime(b.StartTimestamp),
		b.Settled, nullStr(b.Winner), b.SettlementPrice,
		b.UpdatedAt, b.SettledAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update bet %d: %w", b.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// List returns bets with pagination, newest first.
func (s *BetStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Bet, error) {
	query := `SELECT ` + betSelectCols + ` FROM bets`
	var args []any
	argIdx := 1
	var conds []string

	if opts.Since != nil {
		conds = append(conds, fmt.Sprintf("created_at >= $%d", argIdx))
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		conds = append(conds, fmt.Sprintf("created_at <= $%d", argIdx))
		args = append(args, *opts.Until)
		argIdx++
	}
	for i, c := range conds {
		if i == 0 {
			query += " WHERE " + c
		} else {
			query += " AND " + c
		}
	}

	query += " ORDER BY id DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bets: %w", err)
	}
	defer rows.Close()

	bets, err := scanBetRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan bets: %w", err)
	}
	return bets, nil
}

// ListDue returns activated, unsettled bets whose window began at or before
// the cutoff, oldest first so long-overdue bets settle first.
func (s *BetStore) ListDue(ctx context.Context, activatedBefore time.Time) ([]domain.Bet, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+betSelectCols+` FROM bets
		 WHERE start_timestamp IS NOT NULL
		   AND start_timestamp <= $1
		   AND settled = FALSE
		 ORDER BY start_timestamp ASC`, activatedBefore)
	if err != nil {
		return nil, fmt.Errorf("postgres: list due bets: %w", err)
	}
	defer rows.Close()

	bets, err := scanBetRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan due bets: %w", err)
	}
	return bets, nil
}

// ListClosedBefore returns settled bets whose settlement happened strictly
// before the cutoff.
func (s *BetStore) ListClosedBefore(ctx context.Context, before time.Time) ([]domain.Bet, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+betSelectCols+` FROM bets
		 WHERE settled = TRUE AND settled_at < $1
		 ORDER BY settled_at ASC`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed bets: %w", err)
	}
	defer rows.Close()

	bets, err := scanBetRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan closed bets: %w", err)
	}
	return bets, nil
}

// Count returns the total number of bets ever created.
func (s *BetStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM bets`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count bets: %w", err)
	}
	return n, nil
}

const betSelectCols = `id, party_stable, party_volatile, stable_funded, volatile_funded,
	start_timestamp, settled, winner, settlement_price,
	created_at, updated_at, settled_at`

func scanBetFromRow(scanner interface{ Scan(dest ...any) error }) (domain.Bet, error) {
	var b domain.Bet
	var start *time.Time
	var winner *string

	err := scanner.Scan(
		&b.ID, &b.PartyStable, &b.PartyVolatile, &b.StableFunded, &b.VolatileFunded,
		&start, &b.Settled, &winner, &b.SettlementPrice,
		&b.CreatedAt, &b.UpdatedAt, &b.SettledAt,
	)
	if err != nil {
		return domain.Bet{}, err
	}

	if start != nil {
		b.StartTimestamp = *start
	}
	if winner != nil {
		b.Winner = *winner
	}
	return b, nil
}

func scanBetRows(rows pgx.Rows) ([]domain.Bet, error) {
	var bets []domain.Bet
	for rows.Next() {
		b, err := scanBetFromRow(rows)
		if err != nil {
			return nil, err
		}
		bets = append(bets, b)
	}
	return bets, rows.Err()
}

// nullTime maps the zero time to NULL so an unactivated bet's window start
// is stored as absent rather than the epoch.
func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func nullStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
