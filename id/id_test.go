package id_test

import (
	"encoding/json"
	"testing"

	"github.com/dnlfm/done/id"
)

func TestNewMessageIDHasMsgPrefix(t *testing.T) {
	got := id.NewMessageID()
	if got.Prefix() != id.PrefixMessage {
		t.Fatalf("Prefix() = %q, want %q", got.Prefix(), id.PrefixMessage)
	}
	if got.IsNil() {
		t.Fatal("a freshly generated ID should not be nil")
	}
}

func TestParseRoundTrip(t *testing.T) {
	want := id.NewLogID()
	got, err := id.Parse(want.String())
	if err != nil {
		t.Fatal(err)
	}
	if got.String() != want.String() {
		t.Fatalf("Parse round trip = %q, want %q", got.String(), want.String())
	}
}

func TestParseEmptyStringIsAnError(t *testing.T) {
	if _, err := id.Parse(""); err == nil {
		t.Fatal("expected an error parsing an empty string")
	}
}

func TestParseWithPrefixRejectsMismatch(t *testing.T) {
	msgID := id.NewMessageID()
	if _, err := id.ParseWithPrefix(msgID.String(), id.PrefixLog); err == nil {
		t.Fatal("expected an error parsing a msg_ id with the log prefix")
	}
}

func TestParseMessageIDRejectsOtherPrefixes(t *testing.T) {
	logID := id.NewLogID()
	if _, err := id.ParseMessageID(logID.String()); err == nil {
		t.Fatal("expected an error parsing a log_ id as a message id")
	}
}

func TestNilIDStringIsEmpty(t *testing.T) {
	if id.Nil.String() != "" {
		t.Fatalf("Nil.String() = %q, want empty string", id.Nil.String())
	}
	if !id.Nil.IsNil() {
		t.Fatal("Nil.IsNil() should be true")
	}
}

func TestMarshalUnmarshalTextRoundTrip(t *testing.T) {
	want := id.NewMessageID()
	text, err := want.MarshalText()
	if err != nil {
		t.Fatal(err)
	}

	var got id.ID
	if err := got.UnmarshalText(text); err != nil {
		t.Fatal(err)
	}
	if got.String() != want.String() {
		t.Fatalf("UnmarshalText produced %q, want %q", got.String(), want.String())
	}
}

func TestUnmarshalTextEmptyProducesNil(t *testing.T) {
	var got id.ID
	if err := got.UnmarshalText(nil); err != nil {
		t.Fatal(err)
	}
	if !got.IsNil() {
		t.Fatal("UnmarshalText(nil) should leave the ID nil")
	}
}

func TestJSONMarshalUnmarshal(t *testing.T) {
	type wrapper struct {
		ID id.ID `json:"id"`
	}

	want := wrapper{ID: id.NewMessageID()}
	data, err := json.Marshal(want)
	if err != nil {
		t.Fatal(err)
	}

	var got wrapper
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if got.ID.String() != want.ID.String() {
		t.Fatalf("JSON round trip = %q, want %q", got.ID.String(), want.ID.String())
	}
}

func TestValueAndScanRoundTrip(t *testing.T) {
	want := id.NewMessageID()

	v, err := want.Value()
	if err != nil {
		t.Fatal(err)
	}

	var got id.ID
	if err := got.Scan(v); err != nil {
		t.Fatal(err)
	}
	if got.String() != want.String() {
		t.Fatalf("Scan(Value()) = %q, want %q", got.String(), want.String())
	}
}

func TestValueOfNilIsNil(t *testing.T) {
	v, err := id.Nil.Value()
	if err != nil {
		t.Fatal(err)
	}
	if v != nil {
		t.Fatalf("Value() of Nil = %v, want nil", v)
	}
}

func TestScanNilProducesNilID(t *testing.T) {
	var got id.ID
	if err := got.Scan(nil); err != nil {
		t.Fatal(err)
	}
	if !got.IsNil() {
		t.Fatal("Scan(nil) should leave the ID nil")
	}
}

func TestScanRejectsUnsupportedType(t *testing.T) {
	var got id.ID
	if err := got.Scan(42); err == nil {
		t.Fatal("expected an error scanning an int into ID")
	}
}
