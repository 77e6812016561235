package telemetry

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
)

const maxLineSize = 5 * 1024 * 1024

// ErrEmptyFile is returned by ReadFirstRecord for a file with no records.
var ErrEmptyFile = errors.New("telemetry: empty data file")

// ScanRecords calls fn for each record in an .ndjson or .ndjson.zst file.
// Numbers decode as json.Number. fn returning an error stops the scan.
func ScanRecords(path string, fn func(map[string]any) error) error {
	r, err := openData(path)
	if err != nil {
		return err
	}
	defer r.Close()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		rec, err := decodeRecord(raw)
		if err != nil {
			return fmt.Errorf("%s:%d: %w", path, line, err)
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func ReadRecords(path string) ([]map[string]any, error) {
	var out []map[string]any
	err := ScanRecords(path, func(rec map[string]any) error {
		out = append(out, rec)
		return nil
	})
	return out, err
}

var errStop = errors.New("stop")

func ReadFirstRecord(path string) (map[string]any, error) {
	var first map[string]any
	err := ScanRecords(path, func(rec map[string]any) error {
		first = rec
		return errStop
	})
	if err != nil && !errors.Is(err, errStop) {
		return nil, err
	}
	if first == nil {
		return nil, fmt.Errorf("%s: %w", path, ErrEmptyFile)
	}
	return first, nil
}

func decodeRecord(raw []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var rec map[string]any
	if err := dec.Decode(&rec); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("decode record: trailing data")
	}
	return rec, nil
}

// ListDataFiles returns the data files of one artifact type with the given
// format, oldest first.
func ListDataFiles(base, artifactType string, format Format) ([]string, error) {
	ext, err := format.Extension()
	if err != nil {
		return nil, err
	}
	paths, err := filepath.Glob(filepath.Join(base, artifactType, "*"+ext))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}
