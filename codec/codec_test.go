package codec

import (
	"bytes"
	"io"
	"testing"
)

func roundTrip[T any](t *testing.T, c Codec[T], v T) T {
	t.Helper()

	var buf bytes.Buffer
	if err := c.Encode(&buf, v); err != nil {
		t.Fatalf("encode: %v", err)
	}

	wantLen, _ := EncodedLen(c, v)
	if uint64(buf.Len()) != wantLen {
		t.Fatalf("serialized_len mismatch: buf=%d reported=%d", buf.Len(), wantLen)
	}

	got, err := c.Decode(&buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	return got
}

func TestUint64RoundTrip(t *testing.T) {
	for _, v := range []uint64{0, 1, 47, 769, ^uint64(0)} {
		if got := roundTrip(t, Uint64, v); got != v {
			t.Fatalf("got %d want %d", got, v)
		}
	}
}

func TestFloat64RoundTrip(t *testing.T) {
	for _, v := range []float64{0, 1.5, -3.25, 1e308} {
		if got := roundTrip(t, Float64, v); got != v {
			t.Fatalf("got %v want %v", got, v)
		}
	}
}

func TestStringRoundTrip(t *testing.T) {
	for _, v := range []string{"", "a", "hello world", "utf8 éè"} {
		if got := roundTrip(t, String, v); got != v {
			t.Fatalf("got %q want %q", got, v)
		}
	}
}

func TestSliceRoundTrip(t *testing.T) {
	c := Slice(Uint64)
	in := []uint64{1, 2, 3, 4}

	got := roundTrip(t, c, in)
	if len(got) != len(in) {
		t.Fatalf("got %v want %v", got, in)
	}
	for i := range in {
		if got[i] != in[i] {
			t.Fatalf("index %d: got %d want %d", i, got[i], in[i])
		}
	}
}

func TestMapRoundTrip(t *testing.T) {
	c := Map(String, Uint64)
	in := map[string]uint64{"a": 1, "b": 2, "c": 3}

	got := roundTrip(t, c, in)
	if len(got) != len(in) {
		t.Fatalf("got %v want %v", got, in)
	}
	for k, v := range in {
		if got[k] != v {
			t.Fatalf("key %q: got %d want %d", k, got[k], v)
		}
	}
}

func TestDecodeShortReadIsEOF(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{1, 2, 3})

	if _, err := Uint64.Decode(&buf); !errorsIsEOFish(err) {
		t.Fatalf("expected an EOF-ish error for a truncated uint64, got %v", err)
	}
}

func errorsIsEOFish(err error) bool {
	return err == io.EOF || err == io.ErrUnexpectedEOF
}
