package distribute

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

type fakeRunner struct {
	calls [][]string
	res   commandResult
	err   error
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) (commandResult, error) {
	f.calls = append(f.calls, append([]string{name}, args...))
	return f.res, f.err
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func writePNG(t *testing.T, path string) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 8, 6))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	img.SetNRGBA(1, 1, color.NRGBA{R: 200, A: 255})
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
}

func TestCommandPrinter_SubmitsPath(t *testing.T) {
	dir := t.TempDir()
	photo := filepath.Join(dir, "photo.jpg")
	writeFile(t, photo, "jpeg")

	runner := &fakeRunner{res: commandResult{Stdout: "request id is booth-1"}}
	p := NewCommandPrinter("lp", []string{"-d", "booth"}, false)
	p.runner = runner

	if !p.Print(context.Background(), photo) {
		t.Fatal("Print() = false, want true")
	}
	if len(runner.calls) != 1 {
		t.Fatalf("runner called %d times, want 1", len(runner.calls))
	}
	got := strings.Join(runner.calls[0], " ")
	want := "lp -d booth " + photo
	if got != want {
		t.Errorf("command = %q, want %q", got, want)
	}
}

func TestCommandPrinter_Failures(t *testing.T) {
	dir := t.TempDir()
	photo := filepath.Join(dir, "photo.jpg")
	writeFile(t, photo, "jpeg")

	t.Run("missing file", func(t *testing.T) {
		runner := &fakeRunner{}
		p := NewCommandPrinter("lp", nil, false)
		p.runner = runner
		if p.Print(context.Background(), filepath.Join(dir, "nope.jpg")) {
			t.Error("Print() = true for missing file")
		}
		if len(runner.calls) != 0 {
			t.Error("runner must not be called for a missing file")
		}
	})

	t.Run("spooler exits non-zero", func(t *testing.T) {
		runner := &fakeRunner{res: commandResult{ExitCode: 1, Stderr: "lp: no default destination"}, err: errors.New("exit status 1")}
		p := NewCommandPrinter("lp", nil, false)
		p.runner = runner
		if p.Print(context.Background(), photo) {
			t.Error("Print() = true on non-zero exit")
		}
	})

	t.Run("pdf conversion fails", func(t *testing.T) {
		runner := &fakeRunner{}
		p := NewCommandPrinter("lp", nil, true)
		p.runner = runner
		p.toPDF = func(string) (string, error) { return "", errors.New("broken image") }
		if p.Print(context.Background(), photo) {
			t.Error("Print() = true when pdf conversion fails")
		}
		if len(runner.calls) != 0 {
			t.Error("runner must not be called when conversion fails")
		}
	})
}

func TestCommandPrinter_PDFJob(t *testing.T) {
	dir := t.TempDir()
	photo := filepath.Join(dir, "photo.jpg")
	writeFile(t, photo, "jpeg")

	runner := &fakeRunner{}
	p := NewCommandPrinter("lp", nil, true)
	p.runner = runner
	p.toPDF = func(string) (string, error) { return filepath.Join(dir, "photo.pdf"), nil }

	if !p.Print(context.Background(), photo) {
		t.Fatal("Print() = false")
	}
	last := runner.calls[0][len(runner.calls[0])-1]
	if last != filepath.Join(dir, "photo.pdf") {
		t.Errorf("job = %q, want the pdf", last)
	}
}

func TestImageToPDF(t *testing.T) {
	dir := t.TempDir()
	img := filepath.Join(dir, "photo.png")
	writePNG(t, img)

	out, err := ImageToPDF(img)
	if err != nil {
		t.Fatalf("ImageToPDF() error: %v", err)
	}
	if out != filepath.Join(dir, "photo.pdf") {
		t.Errorf("out = %q", out)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(data), "%PDF-") {
		t.Error("output is not a PDF")
	}
}

func TestSharedStore_Store(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "captures", "photo_20250101_120000.jpg")
	writeFile(t, src, "composite")
	mtime := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	if err := os.Chtimes(src, mtime, mtime); err != nil {
		t.Fatal(err)
	}

	s := NewSharedStore(filepath.Join(dir, "shared"), "http://booth.local:8080")
	s.now = func() time.Time { return time.Date(2025, 1, 1, 12, 0, 3, 0, time.Local) }

	dest, err := s.Store(src)
	if err != nil {
		t.Fatalf("Store() error: %v", err)
	}
	want := filepath.Join(dir, "shared", "20250101_120003", "photo_20250101_120000.jpg")
	if dest != want {
		t.Errorf("dest = %q, want %q", dest, want)
	}
	data, err := os.ReadFile(dest)
	if err != nil || string(data) != "composite" {
		t.Errorf("copy content = %q, %v", data, err)
	}
	info, err := os.Stat(dest)
	if err != nil {
		t.Fatal(err)
	}
	if !info.ModTime().Equal(mtime) {
		t.Errorf("modtime = %v, want %v", info.ModTime(), mtime)
	}
	if _, err := os.Stat(src); err != nil {
		t.Error("source must be left in place")
	}
}

func TestSharedStore_MissingSource(t *testing.T) {
	s := NewSharedStore(t.TempDir(), "http://booth.local")
	_, err := s.Store(filepath.Join(t.TempDir(), "gone.jpg"))
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Store() error = %v, want ErrNotFound", err)
	}
}

func TestSharedStore_Link(t *testing.T) {
	root := filepath.Join(t.TempDir(), "shared")
	tests := []struct {
		name    string
		base    string
		path    string
		want    string
		wantErr bool
	}{
		{"plain", "http://booth.local:8080", filepath.Join(root, "20250101_120003", "a.jpg"), "http://booth.local:8080/shared/20250101_120003/a.jpg", false},
		{"base with path", "https://example.org/booth", filepath.Join(root, "d", "a.jpg"), "https://example.org/booth/shared/d/a.jpg", false},
		{"outside root", "http://booth.local", filepath.Join(filepath.Dir(root), "other", "a.jpg"), "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSharedStore(root, tt.base)
			got, err := s.Link(tt.path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Link() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Link() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestQREncoder_Encode(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "qr", "photo_qr.png")
	q := NewQREncoder(-10)

	got, err := q.Encode("http://booth.local:8080/shared/20250101_120003/a.jpg", dest)
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}
	if got != dest {
		t.Errorf("Encode() = %q, want %q", got, dest)
	}
	f, err := os.Open(dest)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		t.Fatalf("output is not a PNG: %v", err)
	}
	b := img.Bounds()
	if b.Dx() != b.Dy() || b.Dx()%10 != 0 {
		t.Errorf("QR image %dx%d, want square multiple of 10", b.Dx(), b.Dy())
	}
	// Quiet zone is white.
	r, g, bl, _ := img.At(0, 0).RGBA()
	if r != 0xffff || g != 0xffff || bl != 0xffff {
		t.Errorf("corner pixel not white: %v", img.At(0, 0))
	}
}

func TestQREncoder_Unavailable(t *testing.T) {
	var q *QREncoder
	if _, err := q.Encode("x", filepath.Join(t.TempDir(), "q.png")); !errors.Is(err, ErrEncoderUnavailable) {
		t.Errorf("nil encoder error = %v, want ErrEncoderUnavailable", err)
	}
	if _, err := NewQREncoder(0).Encode("", filepath.Join(t.TempDir(), "q.png")); err == nil {
		t.Error("empty payload should fail")
	}
}
