package remotesync

import (
	"encoding/json"
	"testing"
)

func TestRangeDB_RoundTrip(t *testing.T) {
	tables := []Table{
		{Name: "health_records", Rows: []json.RawMessage{
			json.RawMessage(`{"id":1}`),
			json.RawMessage(`{"id":2}`),
		}},
		{Name: "empty_table", Rows: nil},
	}

	data, err := EncodeRangeDB(tables)
	if err != nil {
		t.Fatalf("EncodeRangeDB: %v", err)
	}
	if string(data[:5]) != "PWDB\x00" {
		t.Fatalf("magic = %q, want PWDB\\0", data[:5])
	}

	got, err := DecodeRangeDB(data)
	if err != nil {
		t.Fatalf("DecodeRangeDB: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len(tables) = %d, want 2", len(got))
	}
	if got[0].Name != "health_records" || len(got[0].Rows) != 2 {
		t.Fatalf("table[0] = %+v", got[0])
	}
	if string(got[0].Rows[1]) != `{"id":2}` {
		t.Fatalf("row[1] = %q", got[0].Rows[1])
	}
	if got[1].Name != "empty_table" || len(got[1].Rows) != 0 {
		t.Fatalf("table[1] = %+v", got[1])
	}
}

func TestDecodeRangeDB_RejectsBadMagic(t *testing.T) {
	_, err := DecodeRangeDB([]byte("NOTPW\x00\x00\x00\x00\x01"))
	if err == nil {
		t.Fatal("expected error for bad magic")
	}
}

func TestDecodeRangeDB_RejectsTruncatedInput(t *testing.T) {
	data, _ := EncodeRangeDB([]Table{{Name: "t", Rows: []json.RawMessage{json.RawMessage(`{}`)}}})
	_, err := DecodeRangeDB(data[:len(data)-2])
	if err == nil {
		t.Fatal("expected error for truncated range-db")
	}
}
