package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cryptonex/flashtrade/internal/domain"
)

// TradeArchiveStore provides the ledger access the archiver needs: reading
// settled trades for export and pruning them once the export has landed.
// The Postgres ledger store satisfies this implicitly.
type TradeArchiveStore interface {
	ListSettledBefore(ctx context.Context, before time.Time) ([]domain.FlashTrade, error)
	DeleteSettledBefore(ctx context.Context, before time.Time) (int64, error)
}

// TradeArchiver implements domain.Archiver by exporting settled trades to
// JSONL objects in blob storage and pruning them from the ledger only after
// the upload succeeds. A failed upload leaves the ledger untouched, so the
// next run picks the same trades up again.
type TradeArchiver struct {
	writer domain.BlobWriter
	store  TradeArchiveStore
	logger *slog.Logger
}

// NewTradeArchiver creates an archiver writing through the given blob writer.
func NewTradeArchiver(writer domain.BlobWriter, store TradeArchiveStore, logger *slog.Logger) *TradeArchiver {
	return &TradeArchiver{
		writer: writer,
		store:  store,
		logger: logger.With(slog.String("component", "trade_archiver")),
	}
}

var _ domain.Archiver = (*TradeArchiver)(nil)

// ArchiveSettledTrades exports all trades settled strictly before the cutoff
// and removes them from the ledger. Returns the number of trades archived.
// A cutoff month with no settled trades is a no-op, not an error.
func (a *TradeArchiver) ArchiveSettledTrades(ctx context.Context, before time.Time) (int64, error) {
	trades, err := a.store.ListSettledBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: list settled trades: %w", err)
	}
	if len(trades) == 0 {
		return 0, nil
	}

	body, err := marshalJSONL(trades)
	if err != nil {
		return 0, fmt.Errorf("s3blob: marshal settled trades: %w", err)
	}

	path := archivePath("flash_trades", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(body), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: upload archive %s: %w", path, err)
	}

	deleted, err := a.store.DeleteSettledBefore(ctx, before)
	if err != nil {
		// The export is durable; surface the prune failure so the operator
		// knows the ledger still holds rows the archive already covers.
		return int64(len(trades)), fmt.Errorf("s3blob: prune archived trades: %w", err)
	}

	a.logger.Info("archived settled trades",
		slog.String("path", path),
		slog.Int("exported", len(trades)),
		slog.Int64("pruned", deleted),
	)
	return int64(len(trades)), nil
}

// marshalJSONL serializes a slice of records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// archivePath builds the object key for an archive batch, grouping exports
// by the cutoff month: archive/<kind>/2006-01.jsonl.
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.UTC().Format("2006-01"))
}
