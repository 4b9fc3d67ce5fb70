package uploader

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/gzip"

	audit "mutation-audit/pkg/platform/audit"
)

// Object extensions.
const (
	ExtJSONLines = ".jsonl"
	ExtGzip      = ".jsonl.gz"
)

// encodeLines writes one JSON document per record, separated by newlines.
func encodeLines(batch audit.Batch) ([]byte, error) {
	var buf bytes.Buffer
	for i, r := range batch {
		line, err := json.Marshal(r)
		if err != nil {
			return nil, fmt.Errorf("encode record %d: %w", i, err)
		}
		if i > 0 {
			buf.WriteByte('\n')
		}
		buf.Write(line)
	}
	return buf.Bytes(), nil
}

func compress(body []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(body); err != nil {
		_ = zw.Close()
		return nil, fmt.Errorf("gzip batch: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("gzip batch: %w", err)
	}
	return buf.Bytes(), nil
}
