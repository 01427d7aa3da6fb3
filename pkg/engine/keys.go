package engine

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Pebble key schema for the order record store.
//
//   ord:<20-digit id>            → Order JSON
//   hash:<0x order hash>         → 8-byte order id (idempotency index)
//   own:<address>:<20-digit id>  → 8-byte order id (per-owner, insertion order)
//   nonce:<address>              → 8-byte owner nonce counter
//   evt:<20-digit seq>           → Event JSON (indexer journal)
//   seq:order                    → 8-byte last assigned order id
//   seq:event                    → 8-byte last assigned event seq
//   cfg:engine                   → admin config JSON

const (
	prefixOrder = "ord:"
	prefixHash  = "hash:"
	prefixOwner = "own:"
	prefixNonce = "nonce:"
	prefixEvent = "evt:"

	keySeqOrder  = "seq:order"
	keySeqEvent  = "seq:event"
	keyEngineCfg = "cfg:engine"
)

// Ids are zero-padded to 20 digits so lexicographic iteration matches
// numeric (and therefore insertion) order.
func orderKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixOrder, id))
}

func hashKey(h common.Hash) []byte {
	return []byte(fmt.Sprintf("%s%s", prefixHash, h.Hex()))
}

func ownerKey(addr common.Address, id uint64) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d", prefixOwner, addr.Hex(), id))
}

func nonceKey(addr common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s", prefixNonce, addr.Hex()))
}

func eventKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixEvent, seq))
}

func encodeUint64(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}

func decodeUint64(b []byte) uint64 {
	if len(b) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

// keyUpperBound returns the exclusive upper bound for a prefix scan.
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
