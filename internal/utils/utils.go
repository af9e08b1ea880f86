package utils

import (
	"crypto/md5"
	"encoding/hex"
	"image"
	"image/draw"
)

// CalculateDataMD5 returns the hex encoded MD5 digest of data
func CalculateDataMD5(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

// CloneRGBA copies img into a new RGBA image whose bounds start at the origin.
func CloneRGBA(img image.Image) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

// CloneAlpha copies m into a new Alpha image whose bounds start at the origin.
func CloneAlpha(m image.Image) *image.Alpha {
	b := m.Bounds()
	dst := image.NewAlpha(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), m, b.Min, draw.Src)
	return dst
}
