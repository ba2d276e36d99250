package serial

import (
	"errors"
	"io"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/buckleypaul/sdkrun/internal/transcript"
)

// fakeDevice hands out queued chunks, one per Read, and otherwise behaves
// like a driver read timeout.
type fakeDevice struct {
	chunks  [][]byte
	timeout time.Duration
	closed  bool
	readErr error
}

func (d *fakeDevice) Read(p []byte) (int, error) {
	if len(d.chunks) == 0 {
		if d.readErr != nil {
			return 0, d.readErr
		}
		time.Sleep(d.timeout)
		return 0, nil
	}
	n := copy(p, d.chunks[0])
	if n < len(d.chunks[0]) {
		d.chunks[0] = d.chunks[0][n:]
	} else {
		d.chunks = d.chunks[1:]
	}
	return n, nil
}

func (d *fakeDevice) SetReadTimeout(t time.Duration) error { d.timeout = t; return nil }
func (d *fakeDevice) Close() error                         { d.closed = true; return nil }

func TestPortAssemblesLines(t *testing.T) {
	dev := &fakeDevice{chunks: [][]byte{
		[]byte("Nuclei SDK "),
		[]byte("Build Time: Mar 15 2024, 10:20:30\r\nhel"),
		[]byte("lo\r\n"),
	}}
	p, err := newPort(dev, "/dev/ttyFAKE")
	if err != nil {
		t.Fatal(err)
	}
	if dev.timeout != pollInterval {
		t.Errorf("expected driver timeout %s, got=%s", pollInterval, dev.timeout)
	}

	line, err := p.ReadLine(time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if string(line) != "Nuclei SDK Build Time: Mar 15 2024, 10:20:30" {
		t.Errorf("unexpected first line %q", line)
	}

	line, err = p.ReadLine(time.Second)
	if err != nil || string(line) != "hello" {
		t.Errorf("expected hello, got=%q err=%v", line, err)
	}
}

func TestPortReadTimeoutKeepsPartial(t *testing.T) {
	dev := &fakeDevice{chunks: [][]byte{[]byte("partial")}}
	p, _ := newPort(dev, "/dev/ttyFAKE")
	// Short driver timeout keeps the test fast.
	dev.timeout = 5 * time.Millisecond

	if _, err := p.ReadLine(20 * time.Millisecond); !errors.Is(err, transcript.ErrReadTimeout) {
		t.Fatalf("expected read timeout, got=%v", err)
	}

	dev.chunks = [][]byte{[]byte(" line\n")}
	line, err := p.ReadLine(time.Second)
	if err != nil || string(line) != "partial line" {
		t.Errorf("expected partial line joined, got=%q err=%v", line, err)
	}
}

func TestPortReadError(t *testing.T) {
	dev := &fakeDevice{readErr: errors.New("device unplugged")}
	p, _ := newPort(dev, "/dev/ttyFAKE")
	if _, err := p.ReadLine(time.Second); err == nil || errors.Is(err, transcript.ErrReadTimeout) {
		t.Errorf("expected device error, got=%v", err)
	} else if !strings.Contains(err.Error(), "/dev/ttyFAKE") {
		t.Errorf("expected port name in error, got=%v", err)
	}
}

func TestPortClose(t *testing.T) {
	dev := &fakeDevice{}
	p, _ := newPort(dev, "/dev/ttyFAKE")
	p.Close()
	p.Close()
	if !dev.closed {
		t.Error("expected device closed")
	}
	if _, err := p.ReadLine(time.Millisecond); !errors.Is(err, io.EOF) {
		t.Errorf("expected EOF after close, got=%v", err)
	}
}

func TestMostLikely(t *testing.T) {
	ports := []PortInfo{{Name: "/dev/ttyUSB1"}, {Name: "/dev/ttyACM0"}, {Name: "/dev/ttyUSB0"}}
	if got := MostLikely(ports); got != "/dev/ttyUSB1" {
		t.Errorf("expected /dev/ttyUSB1, got=%s", got)
	}
	if got := MostLikely(nil); got != "" {
		t.Errorf("expected empty, got=%s", got)
	}
}

func TestFindBySerialNumber(t *testing.T) {
	serno := "FT6S9RD6"
	suffix := ""
	if runtime.GOOS == "windows" {
		suffix = "B"
	}
	ports := []PortInfo{
		{Name: "/dev/ttyUSB0", SerialNumber: serno + suffix},
		{Name: "/dev/ttyUSB1", SerialNumber: serno + suffix},
		{Name: "/dev/ttyUSB2", SerialNumber: "OTHER"},
	}
	if got := FindBySerialNumber(ports, serno); got != "/dev/ttyUSB1" {
		t.Errorf("expected /dev/ttyUSB1, got=%s", got)
	}
	if got := FindBySerialNumber(ports, "MISSING"); got != "" {
		t.Errorf("expected no match, got=%s", got)
	}
}

func TestExists(t *testing.T) {
	ports := []PortInfo{{Name: "/dev/ttyUSB0"}}
	if !Exists(ports, "/dev/ttyUSB0") || Exists(ports, "/dev/ttyUSB9") {
		t.Error("unexpected Exists result")
	}
}
