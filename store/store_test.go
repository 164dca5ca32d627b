package store

import (
	"path/filepath"
	"testing"

	"github.com/chazu/marionette/vm"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "programs.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// sampleProgram builds a runnable single-counter program. The literal slot
// varies the content hash between distinct programs.
func sampleProgram(t *testing.T, seed int64) *vm.Program {
	t.Helper()
	lit := vm.NewMemory(vm.RegionLiteral)
	lit.AddSlot("seed", vm.NewInt(seed))
	work := vm.NewMemory(vm.RegionWork)
	work.AddSlot("counter", vm.NewInt(0))

	b := vm.NewBuilder()
	b.Entry("Update")
	b.Increment(vm.NewOperand(vm.RegionWork, 0))
	b.Exit()
	bc, err := b.Finish()
	if err != nil {
		t.Fatal(err)
	}
	return &vm.Program{
		ByteCode:  bc,
		Functions: vm.NewFunctionTable(),
		Literal:   lit,
		Work:      work,
	}
}

func TestPutAndGet(t *testing.T) {
	s := openTestStore(t)
	p := sampleProgram(t, 1)

	hash, err := s.Put("walk-cycle", p)
	if err != nil {
		t.Fatal(err)
	}
	if len(hash) != 64 {
		t.Fatalf("hash = %q, want 64 hex chars", hash)
	}

	got, err := s.Get(hash)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := got.ByteCode.EntryIndex("Update"); !ok {
		t.Fatal("loaded program lost its entry")
	}

	inst, err := vm.NewVM(got, vm.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	if err := inst.Execute(nil, nil, "Update"); err != nil {
		t.Fatal(err)
	}
	v, err := inst.WorkValue(0)
	if err != nil {
		t.Fatal(err)
	}
	if v.Int != 1 {
		t.Errorf("counter = %d, want 1", v.Int)
	}
}

func TestPutIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	p := sampleProgram(t, 1)

	first, err := s.Put("a", p)
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.Put("b", p)
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Errorf("same program produced different hashes: %s vs %s", first, second)
	}

	entries, err := s.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	if entries[0].Name != "b" {
		t.Errorf("re-put did not update name: %q", entries[0].Name)
	}
}

func TestDistinctProgramsDistinctHashes(t *testing.T) {
	s := openTestStore(t)
	h1, err := s.Put("one", sampleProgram(t, 1))
	if err != nil {
		t.Fatal(err)
	}
	h2, err := s.Put("two", sampleProgram(t, 2))
	if err != nil {
		t.Fatal(err)
	}
	if h1 == h2 {
		t.Error("programs with different literals share a hash")
	}
}

func TestGetByName(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.Put("rig", sampleProgram(t, 1)); err != nil {
		t.Fatal(err)
	}

	p, err := s.GetByName("rig")
	if err != nil {
		t.Fatal(err)
	}
	seed, err := p.Literal.GetValue(0, nil)
	if err != nil {
		t.Fatal(err)
	}
	if seed.Int != 1 {
		t.Errorf("seed = %d, want 1", seed.Int)
	}

	if _, err := s.GetByName("missing"); err == nil {
		t.Error("expected error for unknown name")
	}
}

func TestGetMissingHash(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.Get("0000000000000000000000000000000000000000000000000000000000000000"); err == nil {
		t.Error("expected error for unknown hash")
	}
}

func TestHas(t *testing.T) {
	s := openTestStore(t)
	hash, err := s.Put("x", sampleProgram(t, 1))
	if err != nil {
		t.Fatal(err)
	}

	ok, err := s.Has(hash)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("stored hash reported missing")
	}
	ok, err = s.Has("deadbeef")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("unknown hash reported present")
	}
}

func TestDelete(t *testing.T) {
	s := openTestStore(t)
	hash, err := s.Put("x", sampleProgram(t, 1))
	if err != nil {
		t.Fatal(err)
	}

	if err := s.Delete(hash); err != nil {
		t.Fatal(err)
	}
	ok, err := s.Has(hash)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("deleted hash still present")
	}
	if err := s.Delete(hash); err == nil {
		t.Error("expected error deleting a missing hash")
	}
}

func TestListContents(t *testing.T) {
	s := openTestStore(t)
	h1, err := s.Put("one", sampleProgram(t, 1))
	if err != nil {
		t.Fatal(err)
	}
	h2, err := s.Put("two", sampleProgram(t, 2))
	if err != nil {
		t.Fatal(err)
	}

	entries, err := s.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	seen := map[string]string{}
	for _, e := range entries {
		seen[e.Hash] = e.Name
		if e.Size == 0 {
			t.Errorf("entry %s has zero size", e.Hash)
		}
		if e.CreatedAt.IsZero() {
			t.Errorf("entry %s has zero timestamp", e.Hash)
		}
	}
	if seen[h1] != "one" || seen[h2] != "two" {
		t.Errorf("entries = %v", seen)
	}
}
