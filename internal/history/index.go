// Package history builds the per-batch small-transaction index used by the
// verification-pattern rule ("probe then drain").
package history

import (
	"sort"

	"github.com/opensource-finance/shikra/internal/domain"
)

type pairKey struct {
	sender   string
	receiver string
}

// Index maps a (sender, receiver) pair to its low-value transfers within a
// batch, ordered by timestamp. It is derived from one batch and discarded
// with it.
type Index struct {
	byPair map[pairKey][]domain.SmallTransfer
}

// Build indexes every transfer at or below domain.SmallTransferMax, grouped
// by sender/receiver pair and sorted by time so lookups can binary-search
// instead of re-scanning the batch per transaction.
func Build(batch []*domain.Transaction) *Index {
	ix := &Index{byPair: make(map[pairKey][]domain.SmallTransfer)}

	for _, txn := range batch {
		if txn.Amount > domain.SmallTransferMax {
			continue
		}
		key := pairKey{sender: txn.SenderVPA, receiver: txn.ReceiverVPA}
		ix.byPair[key] = append(ix.byPair[key], domain.SmallTransfer{
			Amount:       txn.Amount,
			Timestamp:    txn.Timestamp,
			Counterparty: txn.ReceiverVPA,
		})
	}

	for key := range ix.byPair {
		transfers := ix.byPair[key]
		sort.Slice(transfers, func(i, j int) bool {
			return transfers[i].Timestamp.Before(transfers[j].Timestamp)
		})
	}

	return ix
}

// Prior returns the small transfers between the transaction's pair whose
// timestamps strictly precede the transaction's, ordered by time. An empty
// result is valid and means "no signal".
func (ix *Index) Prior(txn *domain.Transaction) []domain.SmallTransfer {
	transfers := ix.byPair[pairKey{sender: txn.SenderVPA, receiver: txn.ReceiverVPA}]
	if len(transfers) == 0 {
		return nil
	}

	// First entry at or after the transaction's timestamp; everything
	// before it strictly precedes.
	cut := sort.Search(len(transfers), func(i int) bool {
		return !transfers[i].Timestamp.Before(txn.Timestamp)
	})
	if cut == 0 {
		return nil
	}

	out := make([]domain.SmallTransfer, cut)
	copy(out, transfers[:cut])
	return out
}

// Annotate builds the index over the batch and populates each
// transaction's PriorSmallTransfers. This is the barrier step of the
// pipeline: it must complete before any rule evaluation starts.
func Annotate(batch []*domain.Transaction) {
	ix := Build(batch)
	for _, txn := range batch {
		txn.PriorSmallTransfers = ix.Prior(txn)
	}
}
