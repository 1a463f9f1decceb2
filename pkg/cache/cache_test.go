package cache

import (
	"io"
	"os"
	"testing"

	"github.com/cesar-douady/open-lmake-sub004/pkg/depmodel"
	"github.com/cesar-douady/open-lmake-sub004/pkg/logging"
)

func openTestCache(t *testing.T, sizeMax uint64) *Cache {
	t.Helper()
	root := t.TempDir()
	c, err := Open(root, sizeMax, logging.RootLogger)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func commitEntry(t *testing.T, c *Cache, job string, repoCrc string, data []byte, deps []CacheDep) {
	t.Helper()
	uploadKey, f, err := c.UploadReserve(uint64(len(data)))
	if err != nil {
		t.Fatalf("UploadReserve: %v", err)
	}
	if _, err := f.Write(data); err != nil {
		t.Fatalf("write reserved data: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close reserved data: %v", err)
	}
	info := JobInfo{Targets: []CacheTarget{{File: depmodel.Path("/out"), Size: uint64(len(data))}}}
	if err := c.Commit(uploadKey, Key{Job: job, RepoCrc: repoCrc}, info, deps); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}

// TestDownloadPromotesToHead covers S5: a cache hit followed by download
// moves the entry to the head of the LRU list.
func TestDownloadPromotesToHead(t *testing.T) {
	c := openTestCache(t, 100)

	commitEntry(t, c, "jobA", "crc1", []byte("aaaaa"), nil)
	commitEntry(t, c, "jobB", "crc1", []byte("bbbbb"), nil)

	keyA := Key{Job: "jobA", RepoCrc: "crc1"}
	_, data, err := c.Download(keyA)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	defer data.Close()

	content, err := io.ReadAll(data)
	if err != nil {
		t.Fatalf("read downloaded data: %v", err)
	}
	if string(content) != "aaaaa" {
		t.Fatalf("unexpected downloaded content: %q", content)
	}

	head, err := c.readRecord(headName)
	if err != nil {
		t.Fatalf("readRecord(head): %v", err)
	}
	if head.Next != keyA.listName() {
		t.Errorf("expected jobA at head after download, got %q", head.Next)
	}
}

// TestEvictionDropsLeastRecentlyUsed covers S6: with sz_max=10, inserting A
// (size 6) then B (size 5) must evict A, leaving only B in the list.
func TestEvictionDropsLeastRecentlyUsed(t *testing.T) {
	c := openTestCache(t, 10)

	commitEntry(t, c, "jobA", "crc1", []byte("aaaaaa"), nil) // size 6
	commitEntry(t, c, "jobB", "crc1", []byte("bbbbb"), nil)  // size 5, evicts A

	keyB := Key{Job: "jobB", RepoCrc: "crc1"}

	head, err := c.readRecord(headName)
	if err != nil {
		t.Fatalf("readRecord(head): %v", err)
	}
	if head.Next != keyB.listName() {
		t.Errorf("expected jobB at head, got %q", head.Next)
	}
	if head.Prev != keyB.listName() {
		t.Errorf("expected jobB at tail (only entry), got %q", head.Prev)
	}
	if head.Size != 5 {
		t.Errorf("expected head.Size == 5 after eviction, got %d", head.Size)
	}

	if _, err := os.Stat(entryDir(c.root, "jobA", "crc1")); !os.IsNotExist(err) {
		t.Errorf("expected jobA's entry directory to be removed, stat err = %v", err)
	}
}

func TestMatchHitExactDeps(t *testing.T) {
	c := openTestCache(t, 1000)

	dep := depmodel.DepDigest{File: depmodel.Path("/in"), Crc: depmodel.NewCrc([]byte("hi")), Accesses: depmodel.AccessReg}
	commitEntry(t, c, "jobA", "crc1", []byte("out"), []CacheDep{
		{File: dep.File, Crc: dep.Crc, Accesses: dep.Accesses},
	})

	result, err := c.Match("jobA", []depmodel.DepDigest{dep})
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if result.Status != MatchHit {
		t.Fatalf("expected MatchHit, got %v", result.Status)
	}
	if result.Key.RepoCrc != "crc1" {
		t.Errorf("unexpected matched repo_crc: %q", result.Key.RepoCrc)
	}
}

func TestMatchMissOnContentChange(t *testing.T) {
	c := openTestCache(t, 1000)

	committed := depmodel.DepDigest{File: depmodel.Path("/in"), Crc: depmodel.NewCrc([]byte("hi")), Accesses: depmodel.AccessReg}
	commitEntry(t, c, "jobA", "crc1", []byte("out"), []CacheDep{
		{File: committed.File, Crc: committed.Crc, Accesses: committed.Accesses},
	})

	changed := depmodel.DepDigest{File: depmodel.Path("/in"), Crc: depmodel.NewCrc([]byte("bye")), Accesses: depmodel.AccessReg}
	result, err := c.Match("jobA", []depmodel.DepDigest{changed})
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if result.Status != MatchMiss {
		t.Fatalf("expected MatchMiss after dep content changed, got %v", result.Status)
	}
}

func TestDismissReleasesReservation(t *testing.T) {
	c := openTestCache(t, 10)

	uploadKey, f, err := c.UploadReserve(10)
	if err != nil {
		t.Fatalf("UploadReserve: %v", err)
	}
	f.Close()

	if err := c.Dismiss(uploadKey); err != nil {
		t.Fatalf("Dismiss: %v", err)
	}
	if _, err := os.Stat(reservedDataPath(c.root, uploadKey)); !os.IsNotExist(err) {
		t.Errorf("expected reserved file removed after dismiss, stat err = %v", err)
	}

	// Space should be reclaimed: a second full-capacity reservation must
	// succeed without needing to evict anything, since nothing was ever
	// committed.
	uploadKey2, f2, err := c.UploadReserve(10)
	if err != nil {
		t.Fatalf("UploadReserve after dismiss: %v", err)
	}
	f2.Close()
	if err := c.Dismiss(uploadKey2); err != nil {
		t.Fatalf("Dismiss: %v", err)
	}
}
