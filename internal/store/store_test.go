package store

import (
	"os"
	"path/filepath"
	"testing"
)

func TestStoreOptionsRoundTrip(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "corvid-store-*")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	s, err := Open(filepath.Join(tmpDir, "db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	loaded, err := s.LoadOptions()
	if err != nil {
		t.Fatalf("LoadOptions (empty db): %v", err)
	}
	if loaded != DefaultEngineOptions() {
		t.Errorf("expected defaults on empty db, got %+v", loaded)
	}

	want := EngineOptions{HashMB: 256, Threads: 4, MultiPV: 2, UseNNUE: true, EvalFile: "net.bin", ProbeDepth: 3}
	if err := s.SaveOptions(want); err != nil {
		t.Fatalf("SaveOptions: %v", err)
	}

	got, err := s.LoadOptions()
	if err != nil {
		t.Fatalf("LoadOptions: %v", err)
	}
	if got != want {
		t.Errorf("LoadOptions() = %+v, want %+v", got, want)
	}
}

func TestStoreProbeCache(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "corvid-store-*")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	s, err := Open(filepath.Join(tmpDir, "db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	const hash = uint64(0xDEADBEEFCAFEBABE)

	if _, ok, _, _ := s.LoadProbe(hash); ok {
		t.Fatal("expected cache miss before any SaveProbe")
	}

	if err := s.SaveProbe(hash, true, 2, 17); err != nil {
		t.Fatalf("SaveProbe: %v", err)
	}

	found, ok, wdl, dtz := s.LoadProbe(hash)
	if !ok || !found || wdl != 2 || dtz != 17 {
		t.Errorf("LoadProbe() = (%v,%v,%v,%v), want (true,true,2,17)", found, ok, wdl, dtz)
	}
}

func TestDataPaths(t *testing.T) {
	dataDir, err := GetDataDir()
	if err != nil {
		t.Fatalf("GetDataDir failed: %v", err)
	}
	if dataDir == "" {
		t.Error("GetDataDir returned empty path")
	}
	if _, err := os.Stat(dataDir); os.IsNotExist(err) {
		t.Errorf("data directory was not created: %s", dataDir)
	}
}
