package xmlcodec

import (
	"strings"
	"testing"
)

func TestBuilderAndReaderRoundTrip(t *testing.T) {
	root := NewElement("ebics:ebicsRequest")
	root.Xmlns("ebics", "urn:org:ebics:H004")
	root.Attr("Version", "H004")
	header := root.Child("header")
	header.Attr("authenticate", "true")
	header.Child("TransactionID").SetText("ABCDEF0123456789")
	body := root.Child("body")
	body.Child("DataTransfer").Child("OrderData").SetBase64([]byte("hello order data"))

	out, err := Marshal(root)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	scope, err := Parse(strings.NewReader(string(out)))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if v, ok := scope.Attr("Version"); !ok || v != "H004" {
		t.Errorf("Version attr = %q, %v, want H004, true", v, ok)
	}

	hdr, err := scope.One("header")
	if err != nil {
		t.Fatalf("One(header) error = %v", err)
	}
	if v, _ := hdr.Attr("authenticate"); v != "true" {
		t.Errorf("authenticate = %q, want true", v)
	}
	txID, err := hdr.One("TransactionID")
	if err != nil {
		t.Fatalf("One(TransactionID) error = %v", err)
	}
	if txID.Text() != "ABCDEF0123456789" {
		t.Errorf("TransactionID text = %q", txID.Text())
	}

	if _, err := scope.One("missing"); err == nil {
		t.Error("One(missing) expected error, got nil")
	}
	if opt, err := scope.Opt("missing"); err != nil || opt != nil {
		t.Errorf("Opt(missing) = %v, %v, want nil, nil", opt, err)
	}
}

func TestDeflateInflateRoundTrip(t *testing.T) {
	original := []byte("<Document>some order data payload that repeats repeats repeats</Document>")

	compressed, err := Deflate(original)
	if err != nil {
		t.Fatalf("Deflate() error = %v", err)
	}
	if len(compressed) == 0 {
		t.Fatal("Deflate() produced empty output")
	}

	restored, err := Inflate(compressed)
	if err != nil {
		t.Fatalf("Inflate() error = %v", err)
	}
	if string(restored) != string(original) {
		t.Errorf("Inflate(Deflate(x)) = %q, want %q", restored, original)
	}
}

func TestB64RoundTrip(t *testing.T) {
	data := []byte{0x00, 0x01, 0xff, 0x10, 0x20}
	encoded := B64Encode(data)
	decoded, err := B64Decode(encoded)
	if err != nil {
		t.Fatalf("B64Decode() error = %v", err)
	}
	if string(decoded) != string(data) {
		t.Errorf("B64Decode(B64Encode(x)) = %v, want %v", decoded, data)
	}
}

func TestEachVisitsInDocumentOrder(t *testing.T) {
	root := NewElement("list")
	root.Child("item").SetText("a")
	root.Child("item").SetText("b")
	root.Child("item").SetText("c")

	out, err := Marshal(root)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	scope, err := Parse(strings.NewReader(string(out)))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	var seen []string
	err = scope.Each("item", func(s *Scope) error {
		seen = append(seen, s.Text())
		return nil
	})
	if err != nil {
		t.Fatalf("Each() error = %v", err)
	}
	want := []string{"a", "b", "c"}
	if len(seen) != len(want) {
		t.Fatalf("Each() visited %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("item %d = %q, want %q", i, seen[i], want[i])
		}
	}
}
