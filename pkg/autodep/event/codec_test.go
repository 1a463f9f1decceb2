package event

import (
	"bytes"
	"testing"

	"github.com/go-test/deep"

	"github.com/cesar-douady/open-lmake-sub004/pkg/depmodel"
)

func TestRoundTrip(t *testing.T) {
	messages := []*Message{
		{
			Event: depmodel.AccessEvent{
				TimestampNs: 1234,
				Proc:        depmodel.ProcAccess,
				File:        depmodel.Path("/repo/src/main.go"),
				Digest: depmodel.Digest{
					Accesses: depmodel.AccessReg | depmodel.AccessStat,
					Write:    depmodel.WriteNo,
					Dflags:   depmodel.DflagCritical,
					Tflags:   0,
				},
				FileInfo: &depmodel.FileInfo{Sig: depmodel.FileSig{
					Device: 42, Inode: 7, ModTimeNs: 99, Kind: depmodel.KindReg,
				}},
			},
			Comment:     1,
			CommentExts: 2,
			Sync:        SyncNo,
		},
		{
			Event: depmodel.AccessEvent{
				TimestampNs: 5678,
				Proc:        depmodel.ProcConfirm,
				File:        depmodel.Path("/repo/build/out.o"),
				Digest: depmodel.Digest{
					Write: depmodel.WriteYes,
					ID:    99,
				},
			},
			Sync: SyncYes,
		},
		{
			Event: depmodel.AccessEvent{
				Proc:    depmodel.ProcPanic,
				Message: "word-size mismatch decoding syscall entry",
			},
		},
	}

	var stream bytes.Buffer
	encoder := NewEncoder(&stream)
	for _, msg := range messages {
		if err := encoder.Encode(msg); err != nil {
			t.Fatal("unable to encode message:", err)
		}
	}

	decoder := NewDecoder(&stream)
	for i, want := range messages {
		got, err := decoder.Decode()
		if err != nil {
			t.Fatalf("unable to decode message %d: %v", i, err)
		}
		if diff := deep.Equal(want, got); diff != nil {
			t.Errorf("message %d round-trip mismatch: %v", i, diff)
		}
	}
}

func TestDecodeRejectsOversizedMessage(t *testing.T) {
	var stream bytes.Buffer
	var lengthPrefix [4]byte
	lengthPrefix[0] = 0xff
	lengthPrefix[1] = 0xff
	lengthPrefix[2] = 0xff
	lengthPrefix[3] = 0xff
	stream.Write(lengthPrefix[:])

	decoder := NewDecoder(&stream)
	if _, err := decoder.Decode(); err == nil {
		t.Error("expected oversized message to be rejected")
	}
}
