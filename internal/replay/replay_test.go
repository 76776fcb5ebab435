package replay

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

type fakeSleeper struct {
	slept []time.Duration
}

func (fs *fakeSleeper) Sleep(ctx context.Context, d time.Duration) error {
	fs.slept = append(fs.slept, d)
	return ctx.Err()
}

type sinkFunc func([]byte) error

func (f sinkFunc) WriteDatagram(p []byte) error { return f(p) }

func collect(out *[][]byte) Sink {
	return sinkFunc(func(p []byte) error {
		*out = append(*out, append([]byte(nil), p...))
		return nil
	})
}

func TestReaderReadAll(t *testing.T) {
	in := strings.NewReader(`
# capture from bench unit

START
0, 2447 50
10, 0a 0b
`)

	recs, err := NewReader(in).ReadAll()
	if err != nil {
		t.Fatalf("ReadAll() error: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("expected 3 records, got %d", len(recs))
	}
	if !recs[0].IsStart() {
		t.Fatalf("expected START marker, got %v", recs[0].Payload)
	}
	if !reflect.DeepEqual(recs[1].Payload, []byte("$GP")) {
		t.Fatalf("unexpected payload 1: %q", recs[1].Payload)
	}
	if recs[2].At != 10*time.Nanosecond {
		t.Fatalf("expected At=10ns, got %s", recs[2].At)
	}
}

func TestReaderReadAll_Invalid(t *testing.T) {
	for name, in := range map[string]string{
		"no comma":     "not-a-valid-line\n",
		"empty field":  "10,\n",
		"negative":     "-1,00\n",
		"bad hex":      "1,zz\n",
		"bad duration": "x,00\n",
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := NewReader(strings.NewReader(in)).ReadAll(); err == nil {
				t.Fatalf("expected error for %q", in)
			}
		})
	}
}

func TestPlay_RespectsTimingAndStart(t *testing.T) {
	var got [][]byte
	fs := &fakeSleeper{}

	recs := []Record{
		{At: time.Second},
		{At: time.Second, Payload: []byte{0xAA}},
		{At: time.Second + 100*time.Nanosecond, Payload: []byte{0xBB}},
		{At: 2 * time.Second},
		{At: 2*time.Second + 50*time.Nanosecond, Payload: []byte{0xCC}},
	}

	if err := Play(context.Background(), recs, PlayOptions{Sleeper: fs}, collect(&got)); err != nil {
		t.Fatalf("Play() error: %v", err)
	}
	want := [][]byte{{0xAA}, {0xBB}, {0xCC}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("payloads=%x want %x", got, want)
	}
	if !reflect.DeepEqual(fs.slept, []time.Duration{100 * time.Nanosecond}) {
		t.Fatalf("slept=%v want [100ns]", fs.slept)
	}
}

func TestPlay_SpeedMultiplier(t *testing.T) {
	fs := &fakeSleeper{}
	recs := []Record{
		{At: 0, Payload: []byte{0x01}},
		{At: 100 * time.Nanosecond, Payload: []byte{0x02}},
	}

	var got [][]byte
	if err := Play(context.Background(), recs, PlayOptions{Speed: 2, Sleeper: fs}, collect(&got)); err != nil {
		t.Fatalf("Play() error: %v", err)
	}
	if !reflect.DeepEqual(fs.slept, []time.Duration{50 * time.Nanosecond}) {
		t.Fatalf("slept=%v want [50ns]", fs.slept)
	}
}

func TestPlay_Errors(t *testing.T) {
	recs := []Record{{At: 0, Payload: []byte{0x01}}}
	var got [][]byte
	if err := Play(context.Background(), recs, PlayOptions{Speed: -1}, collect(&got)); err == nil {
		t.Fatalf("expected error for negative speed")
	}
	if err := Play(context.Background(), nil, PlayOptions{}, collect(&got)); err == nil {
		t.Fatalf("expected error for empty capture")
	}

	boom := errors.New("boom")
	err := Play(context.Background(), recs, PlayOptions{}, sinkFunc(func([]byte) error { return boom }))
	if !errors.Is(err, boom) {
		t.Fatalf("err=%v want %v", err, boom)
	}
}

func TestPlay_LoopStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	recs := []Record{{At: 0, Payload: []byte{0x01}}}

	n := 0
	err := Play(ctx, recs, PlayOptions{Loop: true, Sleeper: &fakeSleeper{}}, sinkFunc(func([]byte) error {
		n++
		if n == 3 {
			cancel()
		}
		return nil
	}))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v want context.Canceled", err)
	}
	if n != 3 {
		t.Fatalf("sent %d payloads want 3", n)
	}
}

func TestWriter_WritesExpectedFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")

	w, err := CreateWriter(path)
	if err != nil {
		t.Fatalf("CreateWriter() error: %v", err)
	}
	w.start = time.Unix(0, 0)

	if err := w.WriteDatagram(time.Unix(0, 20), []byte("$G")); err != nil {
		t.Fatalf("WriteDatagram() error: %v", err)
	}
	if err := w.WriteDatagram(time.Unix(0, 30), nil); err != nil {
		t.Fatalf("WriteDatagram(nil) error: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if err := w.WriteDatagram(time.Unix(0, 40), []byte{1}); !errors.Is(err, ErrWriterClosed) {
		t.Fatalf("write after close err=%v want %v", err, ErrWriterClosed)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error: %v", err)
	}
	if string(b) != "START\n20,2447\n" {
		t.Fatalf("unexpected file contents: %q", string(b))
	}
}

func TestRecordReplay_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.log")
	w, err := CreateWriter(path)
	if err != nil {
		t.Fatalf("CreateWriter() error: %v", err)
	}

	// Same instant for every datagram so playback never waits.
	now := time.Now()
	in := [][]byte{
		[]byte("$GPRMC,143030.00,A,2848.3180,N,09659.1198,W,21.5,270.0,080125,,,A,1234*1C\r\n"),
		[]byte("$GPGGA,1\r\n$GPRMC,2\r\n"),
		{0xff, 0xfe, 0x00},
	}
	for _, p := range in {
		if err := w.WriteDatagram(now, p); err != nil {
			t.Fatalf("WriteDatagram() error: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	recs, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error: %v", err)
	}
	var out [][]byte
	fs := &fakeSleeper{}
	if err := Play(context.Background(), recs, PlayOptions{Sleeper: fs}, collect(&out)); err != nil {
		t.Fatalf("Play() error: %v", err)
	}
	if len(fs.slept) != 0 {
		t.Fatalf("expected no sleeps, got %v", fs.slept)
	}
	if !reflect.DeepEqual(out, in) {
		t.Fatalf("payloads mismatch\n got: %q\nwant: %q", out, in)
	}
}
