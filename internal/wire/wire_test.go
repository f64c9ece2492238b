package wire

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"spdev/internal/sp"
)

func TestEncoderDecoder_Stream(t *testing.T) {
	msgs := []*sp.Message{
		{Body: []byte("first")},
		{Body: []byte{}, Control: []byte{0x80, 0, 0, 1}},
		{Body: bytes.Repeat([]byte{0xab}, 70000), Control: []byte{1}},
	}

	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	for _, m := range msgs {
		if err := enc.Encode(m); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}

	dec := NewDecoder(&buf)
	for i, want := range msgs {
		got, err := dec.Decode()
		if err != nil {
			t.Fatalf("decode %d: %v", i, err)
		}
		if !bytes.Equal(got.Body, want.Body) || !bytes.Equal(got.Control, want.Control) {
			t.Errorf("message %d changed in transit", i)
		}
	}
	if _, err := dec.Decode(); !errors.Is(err, io.EOF) {
		t.Errorf("after last frame: %v, want io.EOF", err)
	}
}

func TestMarshal_Deterministic(t *testing.T) {
	a, err := Marshal(&sp.Message{Body: []byte("x"), Control: []byte("c")})
	if err != nil {
		t.Fatal(err)
	}
	// {1: h'78', 2: h'63'}
	want := []byte{0xa2, 0x01, 0x41, 'x', 0x02, 0x41, 'c'}
	if !bytes.Equal(a, want) {
		t.Errorf("Marshal = %x, want %x", a, want)
	}
}

func TestMarshal_NilBody(t *testing.T) {
	data, err := Marshal(&sp.Message{})
	if err != nil {
		t.Fatal(err)
	}
	got, err := Unmarshal(data)
	if err != nil {
		t.Fatal(err)
	}
	if got.Body == nil || len(got.Body) != 0 || got.Control != nil {
		t.Errorf("got %+v, want empty body and no control", got)
	}
}

func TestDecode_Truncated(t *testing.T) {
	data, err := Marshal(&sp.Message{Body: []byte("truncated frame")})
	if err != nil {
		t.Fatal(err)
	}
	_, err = NewDecoder(bytes.NewReader(data[:len(data)-3])).Decode()
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("err = %v, want io.ErrUnexpectedEOF", err)
	}
}

func TestUnmarshal_Garbage(t *testing.T) {
	for _, data := range [][]byte{{0xff}, {0x61, 'x'}, {0xa1, 0x01, 0x01}} {
		if _, err := Unmarshal(data); err == nil {
			t.Errorf("Unmarshal(%x): expected error", data)
		}
	}
}
