package nft

import (
	"context"
	"fmt"
	"math/big"

	gcommon "github.com/ethereum/go-ethereum/common"

	"github.com/rs-ent/starglow-sub015/internal/chain"
	"github.com/rs-ent/starglow-sub015/internal/types"
)

// MaxProbe caps how many token ids a single scan reads.
const MaxProbe = 10000

// ProbeSize is the number of sequential ids, starting at 0, scanned for a
// request of quantity tokens.
func ProbeSize(quantity int) int {
	if quantity <= 0 {
		return 0
	}
	if quantity > MaxProbe/10 {
		return MaxProbe
	}
	return quantity * 10
}

// FindOwnedTokens returns the lowest quantity token ids in the probe range
// currently owned by owner. Ids whose ownerOf reverts (not minted, burned) are
// skipped. Fewer matches than quantity is an INSUFFICIENT_BALANCE failure.
func FindOwnedTokens(ctx context.Context, reader chain.Reader, collection, owner gcommon.Address, quantity int) ([]*big.Int, error) {
	if quantity < 1 {
		return nil, types.NewError(types.ErrTransferFailed, "quantity must be at least 1")
	}

	probe := ProbeSize(quantity)
	calls := make([]chain.Call, probe)
	for i := range calls {
		data, err := packOwnerOf(big.NewInt(int64(i)))
		if err != nil {
			return nil, fmt.Errorf("packOwnerOf: %w", err)
		}
		calls[i] = chain.Call{To: collection, Data: data}
	}

	results, err := reader.BatchReadContract(ctx, calls)
	if err != nil {
		return nil, fmt.Errorf("reader.BatchReadContract: %w", err)
	}
	if len(results) != len(calls) {
		return nil, fmt.Errorf("batch read returned %d results for %d calls", len(results), len(calls))
	}

	owned := make([]*big.Int, 0, quantity)
	for i, res := range results {
		if res.Err != nil {
			if chain.IsRevert(res.Err) {
				continue
			}
			return nil, fmt.Errorf("ownerOf(%d): %w", i, res.Err)
		}
		addr, err := unpackOwnerOf(res.Data)
		if err != nil {
			return nil, fmt.Errorf("unpackOwnerOf(%d): %w", i, err)
		}
		if addr != owner {
			continue
		}
		owned = append(owned, big.NewInt(int64(i)))
		if len(owned) == quantity {
			return owned, nil
		}
	}

	return nil, types.NewError(types.ErrInsufficientBalance, fmt.Sprintf(
		"Insufficient balance: escrow wallet %s holds %d of %d requested tokens in ids 0-%d",
		owner.Hex(), len(owned), quantity, probe-1,
	))
}

// ContiguousRanges groups ascending ids into runs of consecutive ids, each
// capped at maxSize (0 means no cap).
func ContiguousRanges(ids []*big.Int, maxSize int) [][]*big.Int {
	var ranges [][]*big.Int
	var current []*big.Int
	one := big.NewInt(1)
	for _, id := range ids {
		if len(current) > 0 {
			next := new(big.Int).Add(current[len(current)-1], one)
			if next.Cmp(id) != 0 || (maxSize > 0 && len(current) == maxSize) {
				ranges = append(ranges, current)
				current = nil
			}
		}
		current = append(current, id)
	}
	if len(current) > 0 {
		ranges = append(ranges, current)
	}
	return ranges
}
