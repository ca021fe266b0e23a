package shardstore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/natefinch/atomic"
)

// Shard file naming. Files are named data.00000.json, data.00001.json, ...
// The five-digit zero-padded index keeps lexicographic and numeric order
// identical for directory listings.
const (
	shardPrefix = "data."
	shardSuffix = ".json"
	shardDigits = 5
)

// shardFileName returns the file name for a shard index.
func shardFileName(index int) string {
	return fmt.Sprintf("%s%0*d%s", shardPrefix, shardDigits, index, shardSuffix)
}

// parseShardIndex extracts the shard index from a file name, reporting
// whether the name is a valid shard file name.
func parseShardIndex(name string) (int, bool) {
	if !strings.HasPrefix(name, shardPrefix) || !strings.HasSuffix(name, shardSuffix) {
		return 0, false
	}

	digits := name[len(shardPrefix) : len(name)-len(shardSuffix)]
	if len(digits) != shardDigits {
		return 0, false
	}

	index, err := strconv.Atoi(digits)
	if err != nil || index < 0 {
		return 0, false
	}

	return index, true
}

// listShardIndexes enumerates shard files in dir in ascending index order.
// A missing directory yields an empty list.
func listShardIndexes(dir string) ([]int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("read table directory %q: %w", dir, err)
	}

	var indexes []int

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		index, ok := parseShardIndex(entry.Name())
		if !ok {
			continue
		}

		indexes = append(indexes, index)
	}

	sort.Ints(indexes)

	return indexes, nil
}

// decodeShardFile reads and decodes one shard file into an id -> Record map.
// A missing file is a valid empty shard. Undecodable content returns
// ErrCorruptShard wrapped with the file name.
func decodeShardFile(path string) (map[string]Record, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is derived from the table directory
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]Record{}, nil
		}

		return nil, fmt.Errorf("read shard %q: %w", path, err)
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return map[string]Record{}, nil
	}

	var records map[string]Record

	unmarshalErr := json.Unmarshal(data, &records)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("decode shard %q: %w: %w", path, ErrCorruptShard, unmarshalErr)
	}

	if records == nil {
		records = map[string]Record{}
	}

	return records, nil
}

// encodeShardFile serializes a shard map and rewrites the shard file
// atomically (temp file + rename), so a crash mid-write never leaves a
// half-written shard behind.
func encodeShardFile(path string, records map[string]Record) error {
	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("encode shard %q: %w", path, err)
	}

	writeErr := atomic.WriteFile(path, bytes.NewReader(data))
	if writeErr != nil {
		return fmt.Errorf("write shard %q: %w", path, writeErr)
	}

	return nil
}

// removeShardFile deletes a shard file, tolerating files already gone.
func removeShardFile(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove shard %q: %w", path, err)
	}

	return nil
}

// shardPath joins the table directory with a shard file name.
func shardPath(dir string, index int) string {
	return filepath.Join(dir, shardFileName(index))
}
