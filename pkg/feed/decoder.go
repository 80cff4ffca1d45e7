package feed

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"strings"
)

// ErrNotMarketUpdate is returned by Envelope.Market for non-data envelopes.
var ErrNotMarketUpdate = errors.New("envelope is not a market_update")

// maxLineBytes bounds a single producer line. Market updates with embedded
// market details run to a few KB; 1MB is far above anything legitimate.
const maxLineBytes = 1 << 20

// Decoder reads newline-delimited JSON envelopes from a producer stream.
// Lines that are not valid envelopes are surfaced as TypeRaw rather than
// dropped, matching the producer contract.
type Decoder struct {
	scanner *bufio.Scanner
}

// NewDecoder wraps a producer byte stream.
func NewDecoder(r io.Reader) *Decoder {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	return &Decoder{scanner: sc}
}

// Next returns the next envelope. io.EOF signals a cleanly ended stream;
// any other error means the underlying reader failed.
func (d *Decoder) Next() (Envelope, error) {
	for d.scanner.Scan() {
		line := strings.TrimSpace(d.scanner.Text())
		if line == "" {
			continue
		}

		var env Envelope
		if err := json.Unmarshal([]byte(line), &env); err != nil || env.Type == "" {
			return Envelope{Type: TypeRaw, Message: line}, nil
		}
		return env, nil
	}

	if err := d.scanner.Err(); err != nil {
		return Envelope{}, err
	}
	return Envelope{}, io.EOF
}
