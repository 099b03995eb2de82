package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryptonex/flashtrade/internal/domain"
	"github.com/cryptonex/flashtrade/internal/store/memory"
)

type fakeWriter struct {
	path        string
	contentType string
	body        []byte
	err         error
}

func (w *fakeWriter) Put(ctx context.Context, path string, data io.Reader, contentType string) error {
	if w.err != nil {
		return w.err
	}
	body, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	w.path = path
	w.contentType = contentType
	w.body = body
	return nil
}

func settleTrade(t *testing.T, ledger *memory.LedgerStore, userID, tradeID string) {
	t.Helper()
	ledger.SeedUser(userID, 1000)
	_, err := ledger.Escrow(context.Background(), domain.FlashTrade{
		ID:         tradeID,
		UserID:     userID,
		Pair:       "BTC/USDT",
		Direction:  domain.DirectionUp,
		Stake:      25,
		EntryPrice: 67000,
	})
	require.NoError(t, err)
	_, err = ledger.Settle(context.Background(), tradeID, domain.OutcomeWin, 21.25, 67100)
	require.NoError(t, err)
}

func TestArchiveSettledTrades(t *testing.T) {
	ledger := memory.NewLedgerStore()
	settleTrade(t, ledger, "u-1", "t-1")
	settleTrade(t, ledger, "u-2", "t-2")

	writer := &fakeWriter{}
	arch := NewTradeArchiver(writer, ledger, slog.New(slog.NewTextHandler(io.Discard, nil)))

	cutoff := time.Now().UTC().Add(time.Hour)
	count, err := arch.ArchiveSettledTrades(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	assert.Equal(t, "archive/flash_trades/"+cutoff.Format("2006-01")+".jsonl", writer.path)
	assert.Equal(t, "application/x-ndjson", writer.contentType)

	var lines int
	sc := bufio.NewScanner(bytes.NewReader(writer.body))
	for sc.Scan() {
		var trade domain.FlashTrade
		require.NoError(t, json.Unmarshal(sc.Bytes(), &trade))
		assert.Equal(t, domain.TradeSettled, trade.State)
		lines++
	}
	assert.Equal(t, 2, lines)

	// Archived trades are pruned from the ledger.
	remaining, err := ledger.ListSettledBefore(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestArchiveSettledTradesNothingTodo(t *testing.T) {
	writer := &fakeWriter{}
	arch := NewTradeArchiver(writer, memory.NewLedgerStore(), slog.New(slog.NewTextHandler(io.Discard, nil)))

	count, err := arch.ArchiveSettledTrades(context.Background(), time.Now().UTC())
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Empty(t, writer.path)
}

func TestArchiveSettledTradesUploadFailureKeepsLedger(t *testing.T) {
	ledger := memory.NewLedgerStore()
	settleTrade(t, ledger, "u-1", "t-1")

	writer := &fakeWriter{err: errors.New("bucket unreachable")}
	arch := NewTradeArchiver(writer, ledger, slog.New(slog.NewTextHandler(io.Discard, nil)))

	cutoff := time.Now().UTC().Add(time.Hour)
	_, err := arch.ArchiveSettledTrades(context.Background(), cutoff)
	require.Error(t, err)

	remaining, err := ledger.ListSettledBefore(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Len(t, remaining, 1)
}
