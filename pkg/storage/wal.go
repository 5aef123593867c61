package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"
)

// TxRecord is one submitted transaction and its outcome.
type TxRecord struct {
	Seq     uint64         `json:"seq"`
	Hash    common.Hash    `json:"hash"`
	Account common.Address `json:"account"`
	Kind    string         `json:"kind"`
	Nonce   uint64         `json:"nonce"`
	Applied bool           `json:"applied"`
	Error   string         `json:"error,omitempty"`
	Time    time.Time      `json:"time"`
}

// TxLog is an append-only record of submitted transactions.
type TxLog interface {
	AppendTx(rec TxRecord) (uint64, error)
}

type NopTxLog struct{}

func NewNopTxLog() *NopTxLog                        { return &NopTxLog{} }
func (NopTxLog) AppendTx(_ TxRecord) (uint64, error) { return 0, nil }

// FileTxLog writes one JSON line per transaction.
type FileTxLog struct {
	mu  sync.Mutex
	f   *os.File
	seq uint64
}

func NewFileTxLog(path string) (*FileTxLog, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &FileTxLog{f: f}, nil
}

func (w *FileTxLog) AppendTx(rec TxRecord) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.seq++
	rec.Seq = w.seq
	line, err := json.Marshal(rec)
	if err != nil {
		return 0, err
	}
	if _, err := fmt.Fprintln(w.f, string(line)); err != nil {
		return 0, err
	}
	return rec.Seq, nil
}

func (w *FileTxLog) Close() error { return w.f.Close() }

// MultiTxLog appends to every log in order and stops at the first failure.
type MultiTxLog []TxLog

func (m MultiTxLog) AppendTx(rec TxRecord) (uint64, error) {
	var seq uint64
	for i, l := range m {
		n, err := l.AppendTx(rec)
		if err != nil {
			return 0, err
		}
		if i == 0 {
			seq = n
		}
	}
	return seq, nil
}

// AppendTx stores rec under the next tx sequence number.
func (s *PebbleStore) AppendTx(rec TxRecord) (uint64, error) {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	rec.Seq = s.txSeq + 1
	val, err := encode(rec)
	if err != nil {
		return 0, err
	}
	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Set(txKey(rec.Seq), val, nil); err != nil {
		return 0, err
	}
	if err := b.Set(keyTxSeq, encodeUint64(rec.Seq), nil); err != nil {
		return 0, err
	}
	if err := b.Commit(pebble.NoSync); err != nil {
		return 0, fmt.Errorf("append tx: %w", err)
	}
	s.txSeq = rec.Seq
	return rec.Seq, nil
}

// Txs returns up to limit tx records with seq > after, oldest first.
func (s *PebbleStore) Txs(after uint64, limit int) ([]TxRecord, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: txKey(after + 1),
		UpperBound: keyUpperBound([]byte(prefixTx)),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []TxRecord
	for iter.First(); iter.Valid() && len(out) < limit; iter.Next() {
		var rec TxRecord
		if err := decode(iter.Value(), &rec); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, iter.Error()
}

var (
	_ TxLog = NopTxLog{}
	_ TxLog = (*FileTxLog)(nil)
	_ TxLog = MultiTxLog(nil)
)
