// Package journal persists fund events in LevelDB so that a restarted host or a late
// subscriber can replay them in sequence order.
package journal

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/defistate/lpfund-go/fund"
	"github.com/ethereum/go-ethereum/common"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// keyPrefix namespaces event records. A key is keyPrefix ‖ fund (20 bytes) ‖ seq (8 bytes,
// big-endian), so a prefix scan over one fund yields its events in sequence order.
var keyPrefix = []byte("ev/")

var (
	ErrAlreadyRecorded = errors.New("journal: event already recorded")
	ErrOutOfOrder      = errors.New("journal: event out of order")
)

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type Config struct {
	DB     *leveldb.DB
	Logger Logger
}

func (c *Config) validate() error {
	if c.DB == nil {
		return errors.New("config: DB is required")
	}
	if c.Logger == nil {
		return errors.New("config: Logger is required")
	}
	return nil
}

// Store is an append-only event log. It is safe for concurrent use; LevelDB serializes
// the writes.
type Store struct {
	db     *leveldb.DB
	logger Logger
}

func New(cfg *Config) (*Store, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Store{db: cfg.DB, logger: cfg.Logger}, nil
}

// OpenFile opens (or creates) a journal at path.
func OpenFile(path string, logger Logger) (*Store, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	s, err := New(&Config{DB: db, Logger: logger})
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func fundPrefix(fundAddr common.Address) []byte {
	p := make([]byte, 0, len(keyPrefix)+common.AddressLength)
	p = append(p, keyPrefix...)
	return append(p, fundAddr.Bytes()...)
}

func eventKey(fundAddr common.Address, seq uint64) []byte {
	k := fundPrefix(fundAddr)
	return binary.BigEndian.AppendUint64(k, seq)
}

// Record appends e. Events of one fund must arrive with strictly increasing sequence
// numbers; a gap is logged but accepted.
func (s *Store) Record(e fund.Event) error {
	last, err := s.Last(e.Fund)
	if err != nil {
		return err
	}
	switch {
	case e.Seq == last && last != 0:
		return fmt.Errorf("%w: fund %s seq %d", ErrAlreadyRecorded, e.Fund.Hex(), e.Seq)
	case e.Seq <= last:
		return fmt.Errorf("%w: fund %s seq %d after %d", ErrOutOfOrder, e.Fund.Hex(), e.Seq, last)
	case e.Seq != last+1:
		s.logger.Warn("gap in event sequence", "fund", e.Fund.Hex(), "last", last, "seq", e.Seq)
	}

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	if err := s.db.Put(eventKey(e.Fund, e.Seq), data, nil); err != nil {
		return fmt.Errorf("failed to store event: %w", err)
	}
	return nil
}

// Last returns the highest recorded sequence number of a fund, 0 if none.
func (s *Store) Last(fundAddr common.Address) (uint64, error) {
	iter := s.db.NewIterator(util.BytesPrefix(fundPrefix(fundAddr)), nil)
	defer iter.Release()

	var seq uint64
	if iter.Last() {
		seq = binary.BigEndian.Uint64(iter.Key()[len(keyPrefix)+common.AddressLength:])
	}
	if err := iter.Error(); err != nil {
		return 0, fmt.Errorf("failed to scan journal: %w", err)
	}
	return seq, nil
}

// Events returns every recorded event of a fund with Seq >= from, in order.
func (s *Store) Events(fundAddr common.Address, from uint64) ([]fund.Event, error) {
	r := util.BytesPrefix(fundPrefix(fundAddr))
	r.Start = eventKey(fundAddr, from)

	iter := s.db.NewIterator(r, nil)
	defer iter.Release()

	var events []fund.Event
	for iter.Next() {
		var e fund.Event
		if err := json.Unmarshal(iter.Value(), &e); err != nil {
			return nil, fmt.Errorf("failed to decode event %x: %w", iter.Key(), err)
		}
		events = append(events, e)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("failed to scan journal: %w", err)
	}
	return events, nil
}

// Run records events from ch until ctx is done or ch is closed. A record that fails is
// logged and skipped so one bad event does not stall the journal.
func (s *Store) Run(ctx context.Context, ch <-chan fund.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			if err := s.Record(e); err != nil {
				s.logger.Error("failed to record event", "fund", e.Fund.Hex(), "seq", e.Seq, "error", err)
				continue
			}
			s.logger.Debug("recorded event", "fund", e.Fund.Hex(), "seq", e.Seq, "kind", e.Kind)
		}
	}
}
