package storage

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/vjranagit/patternsearch/pkg/types"
)

// blockSpan is the time span covered by one stored block
const blockSpan = time.Hour

var (
	// ErrInvalidRange is returned for range requests with End before Start
	ErrInvalidRange = errors.New("range end is before start")

	indexKey   = []byte("meta/index")
	dataPrefix = []byte("data/")
)

// Store defines the contract for the sensor sample archive
type Store interface {
	// Write merges samples into storage
	Write(ctx context.Context, req *types.WriteRequest) error

	// Range returns the samples of each requested source inside the
	// inclusive interval, ascending by timestamp
	Range(ctx context.Context, req *types.RangeRequest) (*types.RangeResult, error)

	// Sources lists the indexed sources
	Sources(ctx context.Context) ([]types.SourceInfo, error)

	// Close closes the storage
	Close() error
}

// Config holds storage configuration
type Config struct {
	Path             string
	RetentionDays    int
	CompressionLevel int
	EnableWAL        bool
	InMemory         bool
}

// DefaultConfig returns default storage configuration
func DefaultConfig() *Config {
	return &Config{
		Path:             "./data",
		RetentionDays:    0,
		CompressionLevel: 3,
		EnableWAL:        true,
	}
}

// badgerStorage implements Store using BadgerDB
type badgerStorage struct {
	cfg        *Config
	db         *badger.DB
	index      *Index
	compressor *Compressor
	mu         sync.RWMutex
}

// NewStorage creates a new storage instance
func NewStorage(cfg *Config) (Store, error) {
	return newBadgerStorage(cfg)
}

func newBadgerStorage(cfg *Config) (*badgerStorage, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(filepath.Join(cfg.Path, "badger"))
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}

	compressor, err := NewCompressor(cfg.CompressionLevel)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create compressor: %w", err)
	}

	s := &badgerStorage{
		cfg:        cfg,
		db:         db,
		index:      NewIndex(),
		compressor: compressor,
	}

	if err := s.loadIndex(); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to load index: %w", err)
	}

	return s, nil
}

// Write implements Store.Write
func (s *badgerStorage) Write(ctx context.Context, req *types.WriteRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, series := range req.Series {
		if err := ctx.Err(); err != nil {
			return err
		}
		if len(series.Samples) == 0 {
			continue
		}

		if err := s.index.AddSource(series.Source, featureUnion(series.Samples)); err != nil {
			return fmt.Errorf("failed to index source: %w", err)
		}

		blocks := groupSamplesByBlock(series.Samples)
		blockTimes := make([]int64, 0, len(blocks))
		for bt := range blocks {
			blockTimes = append(blockTimes, bt)
		}
		sort.Slice(blockTimes, func(i, j int) bool { return blockTimes[i] < blockTimes[j] })

		for _, bt := range blockTimes {
			added, minTS, maxTS, err := s.mergeBlock(series.Source, bt, blocks[bt])
			if err != nil {
				return fmt.Errorf("failed to write block: %w", err)
			}
			if added > 0 {
				if err := s.index.UpdateTimeRange(series.Source, minTS, maxTS, uint64(added)); err != nil {
					return err
				}
			}
		}
	}

	return s.saveIndex()
}

// groupSamplesByBlock groups samples into one-hour blocks
func groupSamplesByBlock(samples []types.Sample) map[int64][]types.Sample {
	blocks := make(map[int64][]types.Sample)

	for _, sample := range samples {
		blockTime := sample.Timestamp.UTC().Truncate(blockSpan).Unix()
		blocks[blockTime] = append(blocks[blockTime], sample)
	}

	return blocks
}

// mergeBlock adds samples to a stored block. Samples whose timestamp is
// already stored are dropped. It returns how many samples were added and
// their time bounds.
func (s *badgerStorage) mergeBlock(source string, blockTime int64, samples []types.Sample) (int, int64, int64, error) {
	key := generateKey(source, blockTime)

	var (
		added        int
		minTS, maxTS int64
	)

	err := s.db.Update(func(txn *badger.Txn) error {
		existing, err := s.readBlockTxn(txn, key)
		if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		seen := make(map[int64]struct{}, len(existing)+len(samples))
		for _, sample := range existing {
			seen[sample.Timestamp.UnixNano()] = struct{}{}
		}

		merged := existing
		for _, sample := range samples {
			ts := sample.Timestamp.UnixNano()
			if _, dup := seen[ts]; dup {
				continue
			}
			seen[ts] = struct{}{}
			merged = append(merged, sample)

			if added == 0 || ts < minTS {
				minTS = ts
			}
			if added == 0 || ts > maxTS {
				maxTS = ts
			}
			added++
		}

		if added == 0 {
			return nil
		}

		sort.SliceStable(merged, func(i, j int) bool {
			return merged[i].Timestamp.Before(merged[j].Timestamp)
		})

		payload, err := s.encodeBlock(merged)
		if err != nil {
			return err
		}

		entry := badger.NewEntry(key, payload)
		if s.cfg.RetentionDays > 0 {
			entry = entry.WithTTL(time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
		}
		return txn.SetEntry(entry)
	})

	return added, minTS, maxTS, err
}

type blockPayload struct {
	Count        int
	CompressedTS []byte
	Columns      map[string][]byte
}

// encodeBlock compresses the timestamp column and one column per feature
func (s *badgerStorage) encodeBlock(samples []types.Sample) ([]byte, error) {
	timestamps := make([]int64, len(samples))
	for i, sample := range samples {
		timestamps[i] = sample.Timestamp.UnixNano()
	}

	compressedTS, err := s.compressor.CompressTimestamps(timestamps)
	if err != nil {
		return nil, fmt.Errorf("failed to compress timestamps: %w", err)
	}

	payload := &blockPayload{
		Count:        len(samples),
		CompressedTS: compressedTS,
		Columns:      make(map[string][]byte),
	}

	for _, feature := range featureUnion(samples) {
		column := make([]float64, len(samples))
		for i, sample := range samples {
			v, ok := sample.Features[feature]
			if !ok {
				v = math.NaN()
			}
			column[i] = v
		}

		compressed, err := s.compressor.CompressValues(column)
		if err != nil {
			return nil, fmt.Errorf("failed to compress feature %q: %w", feature, err)
		}
		payload.Columns[feature] = compressed
	}

	return json.Marshal(payload)
}

// decodeBlock reverses encodeBlock. An empty features slice selects every
// stored feature.
func (s *badgerStorage) decodeBlock(data []byte, features []string) ([]types.Sample, error) {
	var payload blockPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
	}

	timestamps, err := s.compressor.DecompressTimestamps(payload.CompressedTS, payload.Count)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress timestamps: %w", err)
	}

	if len(features) == 0 {
		features = make([]string, 0, len(payload.Columns))
		for f := range payload.Columns {
			features = append(features, f)
		}
	}

	columns := make(map[string][]float64, len(features))
	for _, f := range features {
		raw, ok := payload.Columns[f]
		if !ok {
			continue
		}
		values, err := s.compressor.DecompressValues(raw, payload.Count)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress feature %q: %w", f, err)
		}
		columns[f] = values
	}

	samples := make([]types.Sample, payload.Count)
	for i := 0; i < payload.Count; i++ {
		fv := make(map[string]float64, len(columns))
		for f, values := range columns {
			if !math.IsNaN(values[i]) {
				fv[f] = values[i]
			}
		}
		samples[i] = types.Sample{
			Timestamp: time.Unix(0, timestamps[i]).UTC(),
			Features:  fv,
		}
	}

	return samples, nil
}

func (s *badgerStorage) readBlockTxn(txn *badger.Txn, key []byte) ([]types.Sample, error) {
	item, err := txn.Get(key)
	if err != nil {
		return nil, err
	}

	var samples []types.Sample
	err = item.Value(func(val []byte) error {
		var decodeErr error
		samples, decodeErr = s.decodeBlock(val, nil)
		return decodeErr
	})
	return samples, err
}

// Range implements Store.Range
func (s *badgerStorage) Range(ctx context.Context, req *types.RangeRequest) (*types.RangeResult, error) {
	if req.End.Before(req.Start) {
		return nil, ErrInvalidRange
	}

	start := time.Now()
	defer func() { rangeDuration.Observe(time.Since(start).Seconds()) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	result := &types.RangeResult{
		Series: make([]types.SourceSeries, 0, len(req.Sources)),
	}

	err := s.db.View(func(txn *badger.Txn) error {
		for _, sel := range req.Sources {
			if err := ctx.Err(); err != nil {
				return err
			}

			samples, err := s.readRange(txn, sel, req.Start, req.End)
			if err != nil {
				return fmt.Errorf("failed to read source %q: %w", sel.Source, err)
			}
			result.Series = append(result.Series, types.SourceSeries{
				Source:  sel.Source,
				Samples: samples,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// readRange walks the blocks of one source overlapping [from, to]
func (s *badgerStorage) readRange(txn *badger.Txn, sel types.SourceSelector, from, to time.Time) ([]types.Sample, error) {
	prefix := sourcePrefix(sel.Source)
	first := generateKey(sel.Source, from.UTC().Truncate(blockSpan).Unix())
	last := generateKey(sel.Source, to.UTC().Truncate(blockSpan).Unix())

	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	samples := []types.Sample{}
	for it.Seek(first); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		key := item.Key()
		if len(key) != len(prefix)+8 {
			// belongs to a source whose name extends this one
			continue
		}
		if bytes.Compare(key, last) > 0 {
			break
		}

		err := item.Value(func(val []byte) error {
			block, err := s.decodeBlock(val, sel.Features)
			if err != nil {
				return err
			}
			for _, sample := range block {
				if sample.Timestamp.Before(from) || sample.Timestamp.After(to) {
					continue
				}
				samples = append(samples, sample)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	return samples, nil
}

// Sources implements Store.Sources
func (s *badgerStorage) Sources(ctx context.Context) ([]types.SourceInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.Sources(), nil
}

func (s *badgerStorage) loadIndex() error {
	return s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(indexKey)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(s.index.Deserialize)
	})
}

func (s *badgerStorage) saveIndex() error {
	data, err := s.index.Serialize()
	if err != nil {
		return fmt.Errorf("failed to serialize index: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(indexKey, data)
	})
}

// Close implements Store.Close
func (s *badgerStorage) Close() error {
	if s.compressor != nil {
		s.compressor.Close()
	}
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func sourcePrefix(source string) []byte {
	buf := make([]byte, 0, len(dataPrefix)+len(source)+1)
	buf = append(buf, dataPrefix...)
	buf = append(buf, source...)
	return append(buf, '/')
}

// generateKey generates a storage key for a time block. The sign bit is
// flipped so that keys of blocks before 1970 still sort first.
func generateKey(source string, blockTime int64) []byte {
	key := sourcePrefix(source)
	return binary.BigEndian.AppendUint64(key, uint64(blockTime)^(1<<63))
}

// featureUnion returns the sorted union of feature names across samples
func featureUnion(samples []types.Sample) []string {
	set := make(map[string]struct{})
	for _, sample := range samples {
		for f := range sample.Features {
			set[f] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for f := range set {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}
