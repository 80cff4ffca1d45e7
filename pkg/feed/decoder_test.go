package feed

import (
	"errors"
	"io"
	"strings"
	"testing"
)

func TestDecoder_Next(t *testing.T) {
	input := strings.Join([]string{
		`{"type": "status", "message": "connected", "timestamp": 1762610400500}`,
		``,
		`{"type": "market_update", "data": {"ticker": "KXEPLGAME-25NOV08CFCWOL-CFC", "pricing": {"current_price": 42}}}`,
		`this line is not json`,
		`{"no_type_field": true}`,
	}, "\n") + "\n"

	d := NewDecoder(strings.NewReader(input))

	env, err := d.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if env.Type != TypeStatus || env.Message != "connected" {
		t.Errorf("first envelope = %+v", env)
	}

	env, err = d.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if env.Type != TypeMarketUpdate {
		t.Fatalf("second envelope type = %q", env.Type)
	}
	md, err := env.Market()
	if err != nil {
		t.Fatalf("Market: %v", err)
	}
	if md.Ticker != "KXEPLGAME-25NOV08CFCWOL-CFC" {
		t.Errorf("Ticker = %q", md.Ticker)
	}
	if md.Pricing.CurrentPrice == nil || *md.Pricing.CurrentPrice != 42 {
		t.Errorf("CurrentPrice = %v", md.Pricing.CurrentPrice)
	}

	env, err = d.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if env.Type != TypeRaw || env.Message != "this line is not json" {
		t.Errorf("unparseable line = %+v, want raw passthrough", env)
	}

	env, err = d.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if env.Type != TypeRaw {
		t.Errorf("typeless json = %+v, want raw", env)
	}

	if _, err = d.Next(); err != io.EOF {
		t.Errorf("end of stream err = %v, want io.EOF", err)
	}
}

func TestDecoder_EmptyStream(t *testing.T) {
	d := NewDecoder(strings.NewReader(""))
	if _, err := d.Next(); err != io.EOF {
		t.Errorf("err = %v, want io.EOF", err)
	}
}

func TestEnvelope_MarketRejectsNonUpdates(t *testing.T) {
	env := Envelope{Type: TypeStatus, Message: "connected"}
	if _, err := env.Market(); !errors.Is(err, ErrNotMarketUpdate) {
		t.Errorf("err = %v, want ErrNotMarketUpdate", err)
	}
}
