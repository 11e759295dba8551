package store

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/harborchat/harbor/internal/store/keys"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "harbor.db"), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestTreeInsertGet(t *testing.T) {
	s := openTest(t)
	tr := s.Tree(TreeChat)

	key := keys.Guild(42)
	if err := tr.Insert(key, []byte("guild-42")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	got, err := tr.Get(key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(got, []byte("guild-42")) {
		t.Fatalf("got %q want %q", got, "guild-42")
	}
}

func TestTreeGetMissing(t *testing.T) {
	s := openTest(t)
	tr := s.Tree(TreeChat)
	if _, err := tr.Get(keys.Guild(1)); err != ErrNotFound {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestTreeRemove(t *testing.T) {
	s := openTest(t)
	tr := s.Tree(TreeChat)
	key := keys.Guild(1)
	tr.Insert(key, []byte("v"))
	if err := tr.Remove(key); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if ok, _ := tr.ContainsKey(key); ok {
		t.Fatal("key still present after Remove")
	}
	if err := tr.Remove(key); err != nil {
		t.Fatalf("Remove of absent key should not error: %v", err)
	}
}

func TestScanPrefixOrder(t *testing.T) {
	s := openTest(t)
	tr := s.Tree(TreeChat)

	const gid = 42
	for _, cid := range []uint64{3, 1, 9, 5} {
		if err := tr.Insert(keys.Channel(gid, cid), []byte("c")); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	// insert a message under a different tag to make sure ScanPrefix(ChannelPrefix)
	// does not leak unrelated tags sharing the guild id.
	tr.Insert(keys.Message(gid, 1, 7), []byte("m"))

	seq, err := tr.ScanPrefix(keys.ChannelPrefix(gid))
	if err != nil {
		t.Fatalf("ScanPrefix: %v", err)
	}
	var got []uint64
	for k := range seq {
		got = append(got, bytesToU64(k[len(k)-8:]))
	}
	want := []uint64{1, 3, 5, 9}
	if len(got) != len(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v want %v", got, want)
		}
	}
}

func TestApplyBatchAtomic(t *testing.T) {
	s := openTest(t)
	tr := s.Tree(TreeChat)

	err := tr.ApplyBatch(func(b Batch) error {
		if err := b.Insert(keys.Guild(1), []byte("a")); err != nil {
			return err
		}
		return b.Insert(keys.Guild(2), []byte("b"))
	})
	if err != nil {
		t.Fatalf("ApplyBatch: %v", err)
	}
	for _, gid := range []uint64{1, 2} {
		if ok, _ := tr.ContainsKey(keys.Guild(gid)); !ok {
			t.Fatalf("guild %d missing after batch", gid)
		}
	}
}

func TestSchemaVersionPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "harbor.db")
	s1, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	s1.Close()

	s2, err := Open(path, nil)
	if err != nil {
		t.Fatalf("re-Open: %v", err)
	}
	defer s2.Close()

	var v uint64
	tr := s2.Tree(TreeVersion)
	got, err := tr.Get(schemaVersionKey)
	if err != nil {
		t.Fatalf("Get schema version: %v", err)
	}
	v = bytesToU64(got)
	if v != schemaVersion {
		t.Fatalf("schema version = %d, want %d", v, schemaVersion)
	}
}
