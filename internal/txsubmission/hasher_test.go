package txsubmission

import (
	"testing"

	"ouroboros/internal/cborutil"
)

func TestDefaultHasherDeterministic(t *testing.T) {
	body := []byte("a serialized transaction")
	if DefaultHasher(body) != DefaultHasher(body) {
		t.Fatal("DefaultHasher not deterministic")
	}
}

func TestAnnounceBodiesBuildsMatchingWindow(t *testing.T) {
	c2h := newBufPipe()
	h2c := newBufPipe()
	holderFramer := cborutil.NewFramer(c2h, h2c)
	downloaderFramer := cborutil.NewFramer(h2c, c2h)

	holder := NewHolder(holderFramer)
	downloader := NewDownloader(downloaderFramer)

	if err := holder.SendInit(); err != nil {
		t.Fatalf("SendInit: %v", err)
	}
	if err := downloader.AwaitInit(); err != nil {
		t.Fatalf("AwaitInit: %v", err)
	}

	bodies := [][]byte{[]byte("tx one"), []byte("tx two")}

	type reqResult struct {
		ids  []TxIDAndSize
		done bool
		err  error
	}
	reqDone := make(chan reqResult, 1)
	go func() {
		ids, done, err := downloader.RequestTxIds(false, 0, 2)
		reqDone <- reqResult{ids, done, err}
	}()

	if _, err := holder.ReadRequest(); err != nil {
		t.Fatalf("ReadRequest: %v", err)
	}
	announced, err := holder.AnnounceBodies(bodies, nil)
	if err != nil {
		t.Fatalf("AnnounceBodies: %v", err)
	}

	got := <-reqDone
	if got.err != nil {
		t.Fatalf("RequestTxIds: %v", got.err)
	}
	if len(got.ids) != len(bodies) {
		t.Fatalf("got %d ids, want %d", len(got.ids), len(bodies))
	}
	for i, id := range got.ids {
		if id != announced[i] {
			t.Fatalf("id %d = %+v, want %+v", i, id, announced[i])
		}
		if id.ID != DefaultHasher(bodies[i]) {
			t.Fatalf("id %d does not match DefaultHasher(body)", i)
		}
		if int(id.Size) != len(bodies[i]) {
			t.Fatalf("size %d, want %d", id.Size, len(bodies[i]))
		}
	}
}
