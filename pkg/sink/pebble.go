package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"adsingest/pkg/logger"
)

// Record is one stored entry of the local log.
type Record struct {
	Key           string          `json:"-"`
	CorrelationID string          `json:"correlation_id"`
	Value         json.RawMessage `json:"value"`
	WrittenAt     int64           `json:"ts"`
}

// Pebble is a local append-only log. Each Write is one atomic, synced
// pebble batch, so a flush is either fully stored or not at all.
type Pebble struct {
	db   *pebble.DB
	path string
	now  func() time.Time

	// mu guards the key clock. lastTS only moves forward, so a wall clock
	// step cannot reorder keys. seq orders records within a batch.
	mu     sync.Mutex
	lastTS int64
	seq    uint64
}

// OpenPebble opens (or creates) the log at path.
func OpenPebble(path string, readOnly bool) (*Pebble, error) {
	logger.Log.Info("opening_pebble_log", zap.String("path", path), zap.Bool("read_only", readOnly))
	if !readOnly {
		if err := ensureLogDir(path); err != nil {
			return nil, err
		}
	}
	db, err := pebble.Open(path, &pebble.Options{ReadOnly: readOnly})
	if err != nil {
		logger.Log.Error("pebble_open_failed", zap.String("path", path), zap.Error(err))
		return nil, errors.Wrapf(err, "open pebble log %s", path)
	}
	p := &Pebble{db: db, path: path, now: time.Now}
	if ts, ok := p.lastKeyTS(); ok {
		p.lastTS = ts
	}
	logger.Log.Info("pebble_opened", zap.String("path", path), zap.Int64("last_ts", p.lastTS))
	return p, nil
}

// lastKeyTS returns the newest timestamp stored under any topic.
func (p *Pebble) lastKeyTS() (int64, bool) {
	iter, err := p.db.NewIter(&pebble.IterOptions{LowerBound: []byte("log:"), UpperBound: []byte("log;")})
	if err != nil {
		return 0, false
	}
	defer iter.Close()
	if !iter.Last() {
		return 0, false
	}
	return parseKeyTS(iter.Key())
}

func parseKeyTS(key []byte) (int64, bool) {
	k := string(key)
	i := strings.LastIndexByte(k, ':')
	if i < 0 {
		return 0, false
	}
	tsPart, _, ok := strings.Cut(k[i+1:], "-")
	if !ok {
		return 0, false
	}
	ts, err := strconv.ParseInt(tsPart, 10, 64)
	return ts, err == nil
}

func topicPrefix(topic string) []byte {
	return []byte("log:" + topic + ":")
}

// Key format: log:<topic>:<unix_nano_padded>-<seq_padded>
func recordKey(topic string, ts int64, seq uint64) []byte {
	return []byte(fmt.Sprintf("log:%s:%020d-%020d", topic, ts, seq))
}

// nextTS returns the batch timestamp. It is strictly increasing across
// batches, including across reopen, whatever the wall clock does.
func (p *Pebble) nextTS() int64 {
	ts := p.now().UTC().UnixNano()
	p.mu.Lock()
	defer p.mu.Unlock()
	if ts <= p.lastTS {
		ts = p.lastTS + 1
	}
	p.lastTS = ts
	return ts
}

func (p *Pebble) nextSeq() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	return p.seq
}

// Write appends msgs under topic in one synced batch.
func (p *Pebble) Write(ctx context.Context, topic string, msgs []Message) error {
	if p.db == nil {
		return ErrClosed
	}
	if len(msgs) == 0 {
		return nil
	}
	b := p.db.NewBatch()
	defer b.Close()

	ts := p.nextTS()
	for _, m := range msgs {
		data, err := json.Marshal(Record{CorrelationID: m.CorrelationID, Value: m.Value, WrittenAt: ts})
		if err != nil {
			return errors.Wrapf(err, "encode record %s", m.CorrelationID)
		}
		if err := b.Set(recordKey(topic, ts, p.nextSeq()), data, nil); err != nil {
			return errors.Wrap(err, "stage record")
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.Commit(pebble.Sync); err != nil {
		logger.Log.Error("pebble_commit_failed", zap.String("topic", topic), zap.Int("count", len(msgs)), zap.Error(err))
		return errors.Wrap(err, "commit batch")
	}
	logger.Log.Debug("pebble_batch_committed", zap.String("topic", topic), zap.Int("count", len(msgs)))
	return nil
}

// Scan calls fn for every record of topic in write order until fn returns
// false. limit <= 0 means no limit.
func (p *Pebble) Scan(topic string, limit int, fn func(Record) bool) error {
	if p.db == nil {
		return ErrClosed
	}
	prefix := topicPrefix(topic)
	iter, err := p.db.NewIter(&pebble.IterOptions{LowerBound: prefix})
	if err != nil {
		return err
	}
	defer iter.Close()

	n := 0
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		var r Record
		if err := json.Unmarshal(iter.Value(), &r); err != nil {
			return errors.Wrapf(err, "decode record %s", iter.Key())
		}
		r.Key = string(iter.Key())
		// the iterator reuses its value buffer
		r.Value = append(json.RawMessage(nil), r.Value...)
		if !fn(r) {
			break
		}
		n++
		if limit > 0 && n >= limit {
			break
		}
	}
	return iter.Error()
}

// Count returns the number of records stored under topic.
func (p *Pebble) Count(topic string) (int, error) {
	n := 0
	err := p.Scan(topic, 0, func(Record) bool { n++; return true })
	return n, err
}

// DeleteBefore removes every record of topic written before cutoff and
// returns how many there were.
func (p *Pebble) DeleteBefore(topic string, cutoff time.Time) (int, error) {
	if p.db == nil {
		return 0, ErrClosed
	}
	start := topicPrefix(topic)
	end := []byte(fmt.Sprintf("log:%s:%020d", topic, cutoff.UTC().UnixNano()))

	iter, err := p.db.NewIter(&pebble.IterOptions{LowerBound: start, UpperBound: end})
	if err != nil {
		return 0, err
	}
	n := 0
	for iter.First(); iter.Valid(); iter.Next() {
		n++
	}
	if err := iter.Close(); err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}
	if err := p.db.DeleteRange(start, end, pebble.Sync); err != nil {
		return 0, errors.Wrap(err, "delete range")
	}
	return n, nil
}

// Stats is a compact view of pebble's storage metrics.
type Stats struct {
	DiskBytes      uint64
	WALBytes       uint64
	L0Files        int64
	CompactionDebt uint64
}

// Stats samples pebble's metrics. A closed log reports zeros.
func (p *Pebble) Stats() Stats {
	if p.db == nil {
		return Stats{}
	}
	m := p.db.Metrics()
	return Stats{
		DiskBytes:      m.DiskSpaceUsage(),
		WALBytes:       m.WAL.Size,
		L0Files:        m.Levels[0].NumFiles,
		CompactionDebt: m.Compact.EstimatedDebt,
	}
}

// DiskUsage returns the bytes pebble reports for its files.
func (p *Pebble) DiskUsage() uint64 { return p.Stats().DiskBytes }

// Path returns the directory the log lives in.
func (p *Pebble) Path() string { return p.path }

// Close closes the underlying database.
func (p *Pebble) Close() error {
	if p.db == nil {
		return nil
	}
	if err := p.db.Close(); err != nil {
		return err
	}
	p.db = nil
	logger.Log.Info("pebble_closed", zap.String("path", p.path))
	return nil
}
