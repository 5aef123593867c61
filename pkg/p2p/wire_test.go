package p2p

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/roundmarket/pkg/events"
)

func TestEventWireRoundTrip(t *testing.T) {
	buyer := common.HexToAddress("0xAA00000000000000000000000000000000000000")
	ev := events.Event{
		Seq:     9,
		Kind:    events.TokenPurchased,
		Round:   3,
		OrderID: events.ID(0),
		Account: events.Addr(buyer),
		Amount:  uint256.NewInt(5_000_000),
		Cost:    uint256.NewInt(5000),
	}
	b, err := encodeEvent("peer-a", ev)
	if err != nil {
		t.Fatal(err)
	}
	w, err := decodeEvent(b)
	if err != nil {
		t.Fatal(err)
	}
	if w.Origin != "peer-a" || w.Event.Seq != 9 || w.Event.Kind != events.TokenPurchased {
		t.Fatalf("decoded %+v", w)
	}
	if w.Event.OrderID == nil || *w.Event.OrderID != 0 {
		t.Errorf("order id lost: %v", w.Event.OrderID)
	}
	if *w.Event.Account != buyer || !w.Event.Cost.Eq(uint256.NewInt(5000)) {
		t.Errorf("payload mismatch: %+v", w.Event)
	}
}

func TestDecodeRejectsUnknownVersion(t *testing.T) {
	if _, err := decodeEvent([]byte(`{"v":2,"origin":"x","event":{}}`)); err == nil {
		t.Fatal("expected version error")
	}
	if _, err := decodeEvent([]byte(`not json`)); err == nil {
		t.Fatal("expected decode error")
	}
}
