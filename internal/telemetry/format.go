package telemetry

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// Format is the on-disk encoding of data files.
type Format string

const (
	FormatNDJSON Format = "ndjson"
	// FormatZstd writes one zstd frame per flushed batch. Concatenated frames
	// decode as a single NDJSON stream.
	FormatZstd Format = "zstd"
)

const (
	extNDJSON = ".ndjson"
	extZstd   = ".ndjson.zst"
)

func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	if f == "" {
		return FormatNDJSON, nil
	}
	if _, err := f.Extension(); err != nil {
		return "", err
	}
	return f, nil
}

func (f Format) Extension() (string, error) {
	switch f {
	case FormatNDJSON:
		return extNDJSON, nil
	case FormatZstd:
		return extZstd, nil
	}
	return "", fmt.Errorf("telemetry: unknown format %q", string(f))
}

// zstdEncoder is safe for concurrent EncodeAll use.
var zstdEncoder *zstd.Encoder

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("telemetry: zstd encoder initialization failed: " + err.Error())
	}
}

// appendBatch appends lines to path in format and returns the bytes written.
func appendBatch(path string, format Format, lines []byte) (int, error) {
	data := lines
	if format == FormatZstd {
		data = zstdEncoder.EncodeAll(lines, nil)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, err
	}
	n, err := file.Write(data)
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	return n, err
}

// openData opens a data file for line reading, decompressing .zst files.
func openData(path string) (io.ReadCloser, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(path, ".zst") {
		return file, nil
	}
	dec, err := zstd.NewReader(file)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("zstd reader: %w", err)
	}
	return &zstdFile{Decoder: dec, file: file}, nil
}

type zstdFile struct {
	*zstd.Decoder
	file *os.File
}

func (z *zstdFile) Close() error {
	z.Decoder.Close()
	return z.file.Close()
}
