package exchange

import (
	"encoding/binary"
	"fmt"

	"github.com/shopspring/decimal"
)

// Simplified on-chain order book decode.
//
// A Serum-style bids/asks account is a critbit slab allocator: a header
// (bump index, free list, root node, leaf count) followed by a flat array
// of fixed-size tagged nodes (uninitialized / inner / leaf / free). A full
// decode would reconstruct the critbit tree and walk it for the max-key
// (best bid) or min-key (best ask) leaf.
//
// This bot only ever needs the single best price on one side (§4.H), never
// depth or the full book, so this decoder skips tree reconstruction
// entirely: it scans every slot in the node array, keeps only the ones
// tagged as leaves, and folds over their keys directly. This is O(n) over
// the slab rather than O(log n) over the tree, but n tops out at a few
// thousand resting orders and this call happens at most once per trade.
const (
	slabHeaderMagicSize = 5 // b"serum"
	slabHeaderFlagsSize = 8
	slabAllocHeaderSize = 4 + 4 + // bump_index + padding
		4 + 4 + // free_list_len + padding
		4 + // free_list_head
		4 + // root
		4 + 4 // leaf_count + padding

	slabHeaderSize = slabHeaderMagicSize + slabHeaderFlagsSize + slabAllocHeaderSize
	slabNodeSize   = 4 + 68 // tag + node body, matching the program's fixed node stride
	slabFooterSize = 7      // b"padding"

	nodeTagUninitialized = 0
	nodeTagInner         = 1
	nodeTagLeaf          = 2
)

// OrderBookLevel is one resting order's price and quantity, already scaled
// by the market's lot sizes into token-unit decimals by the caller.
type OrderBookLevel struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

// DecodeBestPrice scans a bids or asks slab account and returns the single
// best resting price: the maximum key for a bids account, the minimum key
// for an asks account. ok is false when the book side is empty.
//
// priceLotsToDecimal converts a raw 64-bit price-in-lots key (the upper
// half of a critbit leaf's 128-bit key) into a decimal price; this is left
// to the caller since it depends on the market's tick size/lot size, which
// this package does not itself decode from the market account.
func DecodeBestPrice(data []byte, isBidsSide bool, priceLotsToDecimal func(uint64) decimal.Decimal) (decimal.Decimal, bool, error) {
	if len(data) < slabHeaderSize+slabFooterSize {
		return decimal.Zero, false, fmt.Errorf("order book account too short: %d bytes", len(data))
	}

	body := data[slabHeaderSize : len(data)-slabFooterSize]
	nodeCount := len(body) / slabNodeSize

	var (
		best    uint64
		found   bool
		compare func(a, b uint64) bool
	)
	if isBidsSide {
		compare = func(a, b uint64) bool { return a > b }
	} else {
		compare = func(a, b uint64) bool { return a < b }
	}

	for i := 0; i < nodeCount; i++ {
		node := body[i*slabNodeSize : (i+1)*slabNodeSize]
		tag := binary.LittleEndian.Uint32(node[0:4])
		if tag != nodeTagLeaf {
			continue
		}
		// Leaf body: owner_slot(1) + fee_tier(1) + padding(2) + key(16) + ...
		// The key's high 64 bits are the price in lots; the low 64 bits are
		// the sequence number, irrelevant for a best-price scan.
		keyOffset := 4 + 1 + 1 + 2
		if keyOffset+16 > len(node) {
			continue
		}
		priceLots := binary.LittleEndian.Uint64(node[keyOffset+8 : keyOffset+16])
		if !found || compare(priceLots, best) {
			best = priceLots
			found = true
		}
	}

	if !found {
		return decimal.Zero, false, nil
	}
	return priceLotsToDecimal(best), true, nil
}
