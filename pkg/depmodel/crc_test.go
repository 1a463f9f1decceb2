package depmodel

import "testing"

func TestCrcMatchContent(t *testing.T) {
	a := NewCrc([]byte("hello"))
	b := NewCrc([]byte("hello"))
	c := NewCrc([]byte("world"))

	if !a.Match(b, AccessReg) {
		t.Error("identical content should match under Reg access")
	}
	if a.Match(c, AccessReg) {
		t.Error("different content should not match under Reg access")
	}
}

func TestCrcMatchStatOnly(t *testing.T) {
	a := NewCrc([]byte("hello"))
	c := NewCrc([]byte("world"))

	if !a.Match(c, AccessStat) {
		t.Error("stat-only access should not distinguish content")
	}
	if a.Match(CrcNone, AccessStat) {
		t.Error("existence should still be distinguished under stat access")
	}
}

func TestCrcMatchUnknown(t *testing.T) {
	a := NewCrc([]byte("hello"))
	if a.Match(CrcUnknown, AccessReg) {
		t.Error("unknown crc should never match under a content-reading access")
	}
}

func TestCrcEmptySentinel(t *testing.T) {
	empty := NewCrc(nil)
	if empty != CrcEmpty {
		t.Error("NewCrc(nil) should produce the Empty sentinel")
	}
	if !empty.Match(CrcEmpty, AccessReg) {
		t.Error("two empty files should match under Reg access")
	}
}

func TestFileSigEqual(t *testing.T) {
	a := FileSig{Device: 1, Inode: 2, ModTimeNs: 3, Kind: KindReg}
	b := FileSig{Device: 1, Inode: 2, ModTimeNs: 3, Kind: KindReg}
	c := FileSig{Device: 1, Inode: 2, ModTimeNs: 4, Kind: KindReg}

	if !a.Equal(b) {
		t.Error("identical signatures should be equal")
	}
	if a.Equal(c) {
		t.Error("signatures with different mtimes should not be equal")
	}
	if !NoneSig.Equal(FileSig{Kind: KindNone}) {
		t.Error("two None signatures should always be equal")
	}
}

func TestPathClean(t *testing.T) {
	cases := []struct {
		path  Path
		valid bool
	}{
		{"/a/b/c", true},
		{"", true},
		{"/", true},
		{"/a/b/", false},
		{"/a//b", false},
		{"/a/./b", false},
		{"/a/../b", false},
	}
	for _, tc := range cases {
		err := tc.path.Clean()
		if (err == nil) != tc.valid {
			t.Errorf("Clean(%q) error = %v, expected valid=%v", tc.path, err, tc.valid)
		}
	}
}

func TestPathDirBase(t *testing.T) {
	p := Path("/a/b/c")
	if p.Dir() != "/a/b" {
		t.Error("unexpected Dir():", p.Dir())
	}
	if p.Base() != "c" {
		t.Error("unexpected Base():", p.Base())
	}
	if Path("/a").Dir() != "/" {
		t.Error("unexpected Dir() for top-level path:", Path("/a").Dir())
	}
}
