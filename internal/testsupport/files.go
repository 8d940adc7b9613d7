package testsupport

import (
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

// JXLMagic is the bare JPEG XL codestream signature.
const JXLMagic = "\xff\x0a"

// WriteFile writes content to path, creating parent directories.
func WriteFile(t testing.TB, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// WriteJXL writes a file that sniffs as JPEG XL.
func WriteJXL(t testing.TB, path, payload string) {
	t.Helper()
	WriteFile(t, path, JXLMagic+payload)
}

// WritePNG writes a small valid PNG. Different seeds give different pixels.
func WritePNG(t testing.TB, path string, seed uint8) {
	t.Helper()
	writeImage(t, path, seed, func(f *os.File, img image.Image) error {
		return png.Encode(f, img)
	})
}

// WriteJPEG writes a small valid JPEG. Different seeds give different pixels.
func WriteJPEG(t testing.TB, path string, seed uint8) {
	t.Helper()
	writeImage(t, path, seed, func(f *os.File, img image.Image) error {
		return jpeg.Encode(f, img, &jpeg.Options{Quality: 90})
	})
}

func writeImage(t testing.TB, path string, seed uint8, encode func(*os.File, image.Image) error) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, color.RGBA{R: seed, G: uint8(x * 16), B: uint8(y * 16), A: 255})
		}
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()
	if err := encode(f, img); err != nil {
		t.Fatalf("encode %s: %v", path, err)
	}
}

// Exists reports whether path exists.
func Exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}
