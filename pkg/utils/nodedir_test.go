package utils

import (
	"testing"
)

func openTestDirectory(t *testing.T) *NodeDirectory {
	t.Helper()
	d, err := OpenNodeDirectory(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() {
		if err := d.Close(); err != nil {
			t.Errorf("close: %v", err)
		}
	})
	return d
}

func TestNodeDirectoryRoundTrip(t *testing.T) {
	d := openTestDirectory(t)

	rec, err := d.Get(42)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec != nil {
		t.Fatalf("unknown node returned %+v", rec)
	}

	if err := d.Put(42, NodeRecord{LongName: "Ridge Repeater", ShortName: "RDGE"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	rec, err = d.Get(42)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec == nil || rec.LongName != "Ridge Repeater" || rec.ShortName != "RDGE" {
		t.Errorf("rec = %+v", rec)
	}
	if rec.UpdatedAt == 0 {
		t.Error("Put did not stamp UpdatedAt")
	}
}

func TestNodeDirectoryMerges(t *testing.T) {
	d := openTestDirectory(t)

	if err := d.PutNames(7, "Valley Gateway", "VGW"); err != nil {
		t.Fatalf("put names: %v", err)
	}
	if err := d.PutPosition(7, 48.2, 16.4, nil); err != nil {
		t.Fatalf("put position: %v", err)
	}

	rec, err := d.Get(7)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.LongName != "Valley Gateway" || rec.ShortName != "VGW" {
		t.Errorf("position update lost the names: %+v", rec)
	}
	if !rec.HasPosition || rec.Lat != 48.2 || rec.Lon != 16.4 {
		t.Errorf("position = %+v", rec)
	}

	// Empty names do not clobber stored ones.
	if err := d.PutNames(7, "", "VG2"); err != nil {
		t.Fatalf("put names: %v", err)
	}
	rec, _ = d.Get(7)
	if rec.LongName != "Valley Gateway" || rec.ShortName != "VG2" {
		t.Errorf("merge = %+v", rec)
	}

	alt := int64(320)
	if err := d.PutPosition(7, 48.3, 16.5, &alt); err != nil {
		t.Fatalf("put position: %v", err)
	}
	rec, _ = d.Get(7)
	if rec.Alt == nil || *rec.Alt != 320 {
		t.Errorf("alt = %v", rec.Alt)
	}
}

func TestNodeDirectoryNegativeCacheInvalidation(t *testing.T) {
	d := openTestDirectory(t)

	// A miss is cached; a later write must override it.
	if rec, _ := d.Get(9); rec != nil {
		t.Fatalf("rec = %+v", rec)
	}
	if err := d.PutNames(9, "Late Arrival", ""); err != nil {
		t.Fatalf("put: %v", err)
	}
	rec, err := d.Get(9)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec == nil || rec.LongName != "Late Arrival" {
		t.Errorf("rec = %+v", rec)
	}
}

func TestNodeDirectoryForEach(t *testing.T) {
	d := openTestDirectory(t)

	want := map[uint32]string{1: "alpha", 2: "beta", 3: "gamma"}
	for id, name := range want {
		if err := d.PutNames(id, name, ""); err != nil {
			t.Fatalf("put %d: %v", id, err)
		}
	}

	got := map[uint32]string{}
	err := d.ForEach(func(id uint32, rec NodeRecord) error {
		got[id] = rec.LongName
		return nil
	})
	if err != nil {
		t.Fatalf("foreach: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("got %d records, want %d", len(got), len(want))
	}
	for id, name := range want {
		if got[id] != name {
			t.Errorf("record %d = %q, want %q", id, got[id], name)
		}
	}
}
