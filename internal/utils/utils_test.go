package utils

import (
	"image"
	"image/color"
	"testing"
)

func TestCalculateDataMD5(t *testing.T) {
	got := CalculateDataMD5([]byte("hello"))
	if got != "5d41402abc4b2a76b9719d911017c592" {
		t.Errorf("Expected md5 of hello, got %s", got)
	}
}

func TestCloneRGBAMovesToOrigin(t *testing.T) {
	src := image.NewRGBA(image.Rect(10, 10, 14, 12))
	src.Set(10, 10, color.RGBA{R: 200, A: 255})

	dst := CloneRGBA(src)

	if dst.Bounds() != image.Rect(0, 0, 4, 2) {
		t.Fatalf("Expected bounds (0,0)-(4,2), got %v", dst.Bounds())
	}
	if got := dst.RGBAAt(0, 0); got.R != 200 || got.A != 255 {
		t.Errorf("Expected copied pixel at origin, got %v", got)
	}

	dst.Set(1, 1, color.RGBA{G: 1, A: 255})
	if src.RGBAAt(11, 11).G != 0 {
		t.Error("Expected clone to be independent of the source")
	}
}
