package storage

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Key schema:
//
//	acc:<address>            -> Account
//	rnd:<roundID>            -> Round
//	ord:<roundID>:<orderID>  -> Order
//	ref:<address>            -> referrer address
//	evt:<seq>                -> Event
//	tx:<seq>                 -> TxRecord
//	meta                     -> market Meta
//	txseq                    -> last tx log sequence
//
// Numeric parts are zero-padded (20 digits) so lexicographic order is numeric order.
const (
	prefixAccount  = "acc:"
	prefixRound    = "rnd:"
	prefixOrder    = "ord:"
	prefixReferral = "ref:"
	prefixEvent    = "evt:"
	prefixTx       = "tx:"
)

var (
	keyMeta  = []byte("meta")
	keyTxSeq = []byte("txseq")
)

func accountKey(addr common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s", prefixAccount, addr.Hex()))
}

func roundKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixRound, id))
}

func orderKey(round, id uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d:%020d", prefixOrder, round, id))
}

func referralKey(user common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s", prefixReferral, user.Hex()))
}

// referralUser parses the user address back out of a referral key.
func referralUser(key []byte) (common.Address, error) {
	hex := string(key[len(prefixReferral):])
	if !common.IsHexAddress(hex) {
		return common.Address{}, fmt.Errorf("malformed referral key %q", key)
	}
	return common.HexToAddress(hex), nil
}

func eventKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixEvent, seq))
}

func txKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixTx, seq))
}

// keyUpperBound returns the exclusive upper bound for a prefix scan
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
