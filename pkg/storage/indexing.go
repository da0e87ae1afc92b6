package storage

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/vjranagit/patternsearch/pkg/types"
)

// Index tracks which sources exist, their feature sets and time coverage.
// It is not safe for concurrent use; the store guards it.
type Index struct {
	// Maps source name to its metadata
	sources map[string]*sourceMetadata
	// Inverted index: feature name -> source names
	featureIndex map[string]map[string]struct{}
}

// sourceMetadata holds metadata about a single source
type sourceMetadata struct {
	Name     string
	Features map[string]struct{}
	MinTime  int64
	MaxTime  int64
	Samples  uint64
}

// NewIndex creates a new index
func NewIndex() *Index {
	return &Index{
		sources:      make(map[string]*sourceMetadata),
		featureIndex: make(map[string]map[string]struct{}),
	}
}

// AddSource registers a source and merges features into its feature set
func (idx *Index) AddSource(name string, features []string) error {
	if name == "" {
		return fmt.Errorf("source name is required")
	}

	meta, exists := idx.sources[name]
	if !exists {
		meta = &sourceMetadata{
			Name:     name,
			Features: make(map[string]struct{}),
		}
		idx.sources[name] = meta
	}

	for _, f := range features {
		meta.Features[f] = struct{}{}
		if idx.featureIndex[f] == nil {
			idx.featureIndex[f] = make(map[string]struct{})
		}
		idx.featureIndex[f][name] = struct{}{}
	}

	return nil
}

// UpdateTimeRange widens the recorded coverage of a source and adds
// count to its sample total
func (idx *Index) UpdateTimeRange(name string, minTime, maxTime int64, count uint64) error {
	meta, ok := idx.sources[name]
	if !ok {
		return fmt.Errorf("source %q not found", name)
	}

	if meta.Samples == 0 || minTime < meta.MinTime {
		meta.MinTime = minTime
	}
	if meta.Samples == 0 || maxTime > meta.MaxTime {
		meta.MaxTime = maxTime
	}
	meta.Samples += count

	return nil
}

// GetSource returns what is known about a source
func (idx *Index) GetSource(name string) (types.SourceInfo, bool) {
	meta, ok := idx.sources[name]
	if !ok {
		return types.SourceInfo{}, false
	}
	return meta.info(), true
}

// FindSources returns the sorted names of sources carrying all features
func (idx *Index) FindSources(features []string) []string {
	if len(features) == 0 {
		result := make([]string, 0, len(idx.sources))
		for name := range idx.sources {
			result = append(result, name)
		}
		sort.Strings(result)
		return result
	}

	var result []string
	first := true

	for _, f := range features {
		holders, ok := idx.featureIndex[f]
		if !ok {
			return nil
		}

		if first {
			for name := range holders {
				result = append(result, name)
			}
			first = false
		} else {
			result = intersect(result, holders)
		}

		if len(result) == 0 {
			return nil
		}
	}

	sort.Strings(result)
	return result
}

// Sources lists all sources ordered by name
func (idx *Index) Sources() []types.SourceInfo {
	names := idx.FindSources(nil)
	out := make([]types.SourceInfo, 0, len(names))
	for _, name := range names {
		out = append(out, idx.sources[name].info())
	}
	return out
}

// SourceCount returns the number of indexed sources
func (idx *Index) SourceCount() int {
	return len(idx.sources)
}

func (m *sourceMetadata) info() types.SourceInfo {
	features := make([]string, 0, len(m.Features))
	for f := range m.Features {
		features = append(features, f)
	}
	sort.Strings(features)

	info := types.SourceInfo{
		Name:     m.Name,
		Features: features,
		Samples:  m.Samples,
	}
	if m.Samples > 0 {
		info.MinTime = time.Unix(0, m.MinTime).UTC()
		info.MaxTime = time.Unix(0, m.MaxTime).UTC()
	}
	return info
}

// intersect keeps the names in a that are also in b
func intersect(a []string, b map[string]struct{}) []string {
	result := a[:0]
	for _, name := range a {
		if _, ok := b[name]; ok {
			result = append(result, name)
		}
	}
	return result
}

// Serialize serializes the index to bytes
func (idx *Index) Serialize() ([]byte, error) {
	buf := new(bytes.Buffer)

	if err := binary.Write(buf, binary.LittleEndian, uint32(len(idx.sources))); err != nil {
		return nil, err
	}

	for _, info := range idx.Sources() {
		meta := idx.sources[info.Name]
		writeString(buf, meta.Name)
		if err := binary.Write(buf, binary.LittleEndian, meta.MinTime); err != nil {
			return nil, err
		}
		if err := binary.Write(buf, binary.LittleEndian, meta.MaxTime); err != nil {
			return nil, err
		}
		if err := binary.Write(buf, binary.LittleEndian, meta.Samples); err != nil {
			return nil, err
		}

		if err := binary.Write(buf, binary.LittleEndian, uint16(len(info.Features))); err != nil {
			return nil, err
		}
		for _, f := range info.Features {
			writeString(buf, f)
		}
	}

	return buf.Bytes(), nil
}

// Deserialize replaces the index content with data produced by Serialize
func (idx *Index) Deserialize(data []byte) error {
	idx.Clear()
	r := bytes.NewReader(data)

	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return fmt.Errorf("failed to read source count: %w", err)
	}

	for i := uint32(0); i < count; i++ {
		name, err := readString(r)
		if err != nil {
			return fmt.Errorf("failed to read source name: %w", err)
		}

		var minTime, maxTime int64
		var samples uint64
		if err := binary.Read(r, binary.LittleEndian, &minTime); err != nil {
			return err
		}
		if err := binary.Read(r, binary.LittleEndian, &maxTime); err != nil {
			return err
		}
		if err := binary.Read(r, binary.LittleEndian, &samples); err != nil {
			return err
		}

		var nFeatures uint16
		if err := binary.Read(r, binary.LittleEndian, &nFeatures); err != nil {
			return err
		}
		features := make([]string, nFeatures)
		for j := range features {
			if features[j], err = readString(r); err != nil {
				return fmt.Errorf("failed to read feature of %q: %w", name, err)
			}
		}

		if err := idx.AddSource(name, features); err != nil {
			return err
		}
		meta := idx.sources[name]
		meta.MinTime, meta.MaxTime, meta.Samples = minTime, maxTime, samples
	}

	return nil
}

// Clear clears the index
func (idx *Index) Clear() {
	idx.sources = make(map[string]*sourceMetadata)
	idx.featureIndex = make(map[string]map[string]struct{})
}

func writeString(buf *bytes.Buffer, s string) {
	var lenBuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(lenBuf[:], uint64(len(s)))
	buf.Write(lenBuf[:n])
	buf.WriteString(s)
}

func readString(r *bytes.Reader) (string, error) {
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return "", err
	}
	if n > uint64(r.Len()) {
		return "", io.ErrUnexpectedEOF
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}
