package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/coinduel/internal/domain"
)

// BetArchiveStore provides read access to settled bets for archival. The
// Postgres BetStore satisfies it through ListClosedBefore.
type BetArchiveStore interface {
	ListClosedBefore(ctx context.Context, before time.Time) ([]domain.Bet, error)
}

// Archiver serializes long-settled bets to JSONL and uploads them to S3,
// partitioned by settlement month. Bets are never deleted from the primary
// store; the archive is a cold secondary copy for audit and analytics.
type Archiver struct {
	writer domain.BlobWriter
	bets   BetArchiveStore
	audit  domain.AuditStore
}

// NewArchiver creates an Archiver over the given writer and stores.
func NewArchiver(writer domain.BlobWriter, bets BetArchiveStore, audit domain.AuditStore) *Archiver {
	return &Archiver{writer: writer, bets: bets, audit: audit}
}

// archivedBet is the JSONL row format, flattened for downstream consumers.
type archivedBet struct {
	ID              int64      `json:"id"`
	PartyStable     string     `json:"party_stable"`
	PartyVolatile   string     `json:"party_volatile"`
	StartTimestamp  *time.Time `json:"start_timestamp,omitempty"`
	Winner          string     `json:"winner"`
	SettlementPrice int64      `json:"settlement_price"`
	CreatedAt       time.Time  `json:"created_at"`
	SettledAt       *time.Time `json:"settled_at"`
}

// ArchiveClosedBets uploads all bets settled strictly before the cutoff to
// archive/bets/YYYY-MM.jsonl, records the archival in the audit log, and
// returns the number of archived records.
func (a *Archiver) ArchiveClosedBets(ctx context.Context, before time.Time) (int64, error) {
	bets, err := a.bets.ListClosedBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive bets query: %w", err)
	}
	if len(bets) == 0 {
		return 0, nil
	}

	rows := make([]archivedBet, 0, len(bets))
	for _, b := range bets {
		row := archivedBet{
			ID:              b.ID,
			PartyStable:     b.PartyStable,
			PartyVolatile:   b.PartyVolatile,
			Winner:          b.Winner,
			SettlementPrice: b.SettlementPrice,
			CreatedAt:       b.CreatedAt,
			SettledAt:       b.SettledAt,
		}
		if b.Activated() {
			ts := b.StartTimestamp
			row.StartTimestamp = &ts
		}
		rows = append(rows, row)
	}

	buf, err := marshalJSONL(rows)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive bets marshal: %w", err)
	}

	path := archivePath("bets", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive bets upload: %w", err)
	}

	count := int64(len(rows))
	if err := a.audit.Log(ctx, "archive.bets", map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive bets audit log: %w", err)
	}
	return count, nil
}

// archivePath builds the S3 key for an archive file, partitioned by the
// year-month of the cutoff time, e.g. archive/bets/2025-06.jsonl.
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
