package ledger

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"fairbid/internal/domain"

	badger "github.com/dgraph-io/badger/v4"
)

var (
	recordPrefix = []byte("bid/")
	cursorKey    = []byte("cursor/drained")
)

// Record is one accepted bid together with the hot auction fields as they
// stood after the commit. The consumer mirrors those fields into the durable
// store so no separate state lookup is needed at drain time.
type Record struct {
	Seq            uint64               `json:"seq"`
	Bid            domain.Bid           `json:"bid"`
	CurrentPrice   int64                `json:"current_price"`
	TotalBidCount  int                  `json:"total_bid_count"`
	ScheduledEnd   time.Time            `json:"scheduled_end"`
	Status         domain.AuctionStatus `json:"status"`
	ExtensionCount int                  `json:"extension_count"`
}

// Queue is the append-only durable bid ledger. Appends happen inside the
// state cache's commit critical section, so records of one auction are
// strictly ordered even though Seq is global.
type Queue struct {
	db  *badger.DB
	seq atomic.Uint64
}

// Open opens or creates the ledger at dir and recovers the last sequence
// number and drain cursor.
func Open(dir string) (*Queue, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}

	q := &Queue{db: db}
	if err := q.recoverSeq(); err != nil {
		db.Close()
		return nil, err
	}
	return q, nil
}

func (q *Queue) recoverSeq() error {
	return q.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Reverse: true, Prefix: recordPrefix})
		defer it.Close()

		// Seek past the last possible record key, then step back into the prefix.
		seek := append(append([]byte{}, recordPrefix...), 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff)
		it.Seek(seek)
		if it.ValidForPrefix(recordPrefix) {
			key := it.Item().Key()
			q.seq.Store(binary.BigEndian.Uint64(key[len(recordPrefix):]))
		}
		return nil
	})
}

func recordKey(seq uint64) []byte {
	key := make([]byte, len(recordPrefix)+8)
	copy(key, recordPrefix)
	binary.BigEndian.PutUint64(key[len(recordPrefix):], seq)
	return key
}

// Append assigns the next sequence number and writes the record. The write
// is synced before return; a failure leaves the ledger unchanged and the
// caller must roll back its in-memory commit.
func (q *Queue) Append(rec *Record) error {
	rec.Seq = q.seq.Add(1)

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode ledger record: %w", err)
	}

	err = q.db.Update(func(txn *badger.Txn) error {
		return txn.Set(recordKey(rec.Seq), data)
	})
	if err != nil {
		return fmt.Errorf("failed to append ledger record: %w", err)
	}
	return nil
}

// ReadFrom returns up to limit records with sequence numbers above after,
// in order.
func (q *Queue) ReadFrom(after uint64, limit int) ([]Record, error) {
	var records []Record
	err := q.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: recordPrefix, PrefetchValues: true})
		defer it.Close()

		for it.Seek(recordKey(after + 1)); it.ValidForPrefix(recordPrefix); it.Next() {
			if len(records) == limit {
				break
			}
			var rec Record
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			})
			if err != nil {
				return fmt.Errorf("failed to decode ledger record: %w", err)
			}
			records = append(records, rec)
		}
		return nil
	})
	return records, err
}

// Cursor returns the sequence number of the last drained record.
func (q *Queue) Cursor() (uint64, error) {
	var cursor uint64
	err := q.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(cursorKey)
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			cursor = binary.BigEndian.Uint64(val)
			return nil
		})
	})
	return cursor, err
}

// CommitCursor persists the drain position. Records at or below the cursor
// are applied to the durable store and will never be replayed after restart.
func (q *Queue) CommitCursor(seq uint64) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, seq)
	return q.db.Update(func(txn *badger.Txn) error {
		return txn.Set(cursorKey, buf)
	})
}

// LastSeq returns the highest assigned sequence number.
func (q *Queue) LastSeq() uint64 {
	return q.seq.Load()
}

// Pending returns how many records are appended but not yet drained.
func (q *Queue) Pending() (int64, error) {
	cursor, err := q.Cursor()
	if err != nil {
		return 0, err
	}
	last := q.seq.Load()
	if last <= cursor {
		return 0, nil
	}
	return int64(last - cursor), nil
}

// Close flushes and closes the ledger.
func (q *Queue) Close() error {
	return q.db.Close()
}
