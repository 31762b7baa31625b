package staging

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
)

// cloneEnvelopes makes a shallow copy of envelope slice to avoid mutation.
func cloneEnvelopes(in []RecordEnvelope) []RecordEnvelope {
	out := make([]RecordEnvelope, len(in))
	copy(out, in)
	return out
}

// envelopeSizeBytes approximates payload size using JSONL encoding.
func envelopeSizeBytes(records []RecordEnvelope) (int64, error) {
	buf := &bytes.Buffer{}
	if err := EncodeJSONLines(buf, records, false); err != nil {
		return 0, err
	}
	return int64(buf.Len()), nil
}

// EncodeJSONLines writes one envelope per line, gzip-compressed if asked.
func EncodeJSONLines(w io.Writer, records []RecordEnvelope, compress bool) error {
	var writer io.Writer = w
	var gz *gzip.Writer
	if compress {
		gz = gzip.NewWriter(w)
		writer = gz
	}

	enc := json.NewEncoder(writer)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			if gz != nil {
				_ = gz.Close()
			}
			return fmt.Errorf("encode record: %w", err)
		}
	}

	if gz != nil {
		if err := gz.Close(); err != nil {
			return fmt.Errorf("flush gzip: %w", err)
		}
	}
	return nil
}

// DecodeJSONLines reads envelopes written by EncodeJSONLines. Gzip input
// is detected. Numbers decode as json.Number so integers stay exact.
func DecodeJSONLines(r io.Reader) ([]RecordEnvelope, error) {
	br := bufioPeeker(r)
	var reader io.Reader = br
	if isGzip(br) {
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("gzip reader: %w", err)
		}
		defer gz.Close()
		reader = gz
	}

	dec := json.NewDecoder(reader)
	dec.UseNumber()
	var records []RecordEnvelope
	for dec.More() {
		var rec RecordEnvelope
		if err := dec.Decode(&rec); err != nil {
			return nil, fmt.Errorf("decode record: %w", err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func bufioPeeker(r io.Reader) *bufio.Reader {
	if br, ok := r.(*bufio.Reader); ok {
		return br
	}
	return bufio.NewReader(r)
}

func isGzip(br *bufio.Reader) bool {
	magic, err := br.Peek(2)
	return err == nil && magic[0] == 0x1f && magic[1] == 0x8b
}
