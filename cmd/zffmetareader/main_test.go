// Copyright 2026 The Zff Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestDiscoverSegments(t *testing.T) {
	directory := t.TempDir()
	for _, name := range []string{"image.z01", "image.z02", "image.z03"} {
		if err := os.WriteFile(filepath.Join(directory, name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}

	first := filepath.Join(directory, "image.z01")
	segments, err := discoverSegments([]string{first})
	if err != nil {
		t.Fatalf("discoverSegments failed: %v", err)
	}
	expected := []string{
		first,
		filepath.Join(directory, "image.z02"),
		filepath.Join(directory, "image.z03"),
	}
	if !reflect.DeepEqual(segments, expected) {
		t.Errorf("discovered %v, want %v", segments, expected)
	}
}

func TestDiscoverSegmentsExplicitList(t *testing.T) {
	paths := []string{"b.z02", "a.z01", "c.z03"}
	segments, err := discoverSegments(paths)
	if err != nil {
		t.Fatalf("discoverSegments failed: %v", err)
	}
	if !reflect.DeepEqual(segments, paths) {
		t.Error("explicit segment lists must be taken as given")
	}
}

func TestDiscoverSegmentsRequiresInput(t *testing.T) {
	if _, err := discoverSegments(nil); err == nil {
		t.Error("empty input must be rejected")
	}
}
