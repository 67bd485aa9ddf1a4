// Copyright 2026 The Zff Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"testing"
)

func TestMarshalDeterministic(t *testing.T) {
	value := map[string]any{"examiner": "mustermann", "case": "X-42", "chunks": 10}

	first, err := Marshal(value)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	second, err := Marshal(value)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Error("deterministic encoding produced different bytes for equal values")
	}
}

func TestRoundTrip(t *testing.T) {
	type record struct {
		Name  string `cbor:"name"`
		Count uint64 `cbor:"count"`
	}

	encoded, err := Marshal(record{Name: "segment", Count: 3})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var decoded record
	if err := Unmarshal(encoded, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if decoded.Name != "segment" || decoded.Count != 3 {
		t.Errorf("round trip produced %+v", decoded)
	}
}
