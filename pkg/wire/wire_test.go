package wire

import "testing"

func TestEncodeDecode(t *testing.T) {
	in := NewMessage("node-a", "hello there")
	b, err := Encode(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := Decode(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out != in {
		t.Fatalf("roundtrip mismatch: %+v != %+v", out, in)
	}
}

func TestEncodeIsDeterministic(t *testing.T) {
	m := Message{Version: 1, Sender: "node-a", Text: "same bytes", SentAt: 1700000000000}
	a, err := Encode(m)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	b, err := Encode(m)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if string(a) != string(b) {
		t.Fatalf("encodings differ: %x != %x", a, b)
	}
}

func TestDecodeGarbage(t *testing.T) {
	if _, err := Decode([]byte{0xff, 0x00, 0x13}); err == nil {
		t.Fatalf("expected error for garbage payload")
	}
}
