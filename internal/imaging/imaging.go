// Package imaging converts uploaded fingerprint captures into the
// grayscale PNG files mindtct consumes. PNG and JPEG come from the
// device camera path; WSQ is accepted for captures produced by
// dedicated fingerprint scanners.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	wsq "github.com/jtejido/go-wsq"
)

// Stage decodes a raw capture and writes it as a grayscale PNG under
// dir, returning the file path. The caller removes the file when the
// extraction pipeline is done with it.
func Stage(dir string, capture []byte) (string, error) {
	img, err := Decode(capture)
	if err != nil {
		return "", err
	}

	path := filepath.Join(dir, uuid.NewString()+".png")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return "", fmt.Errorf("stage capture: %w", err)
	}
	if err := png.Encode(f, toGray(img)); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("encode capture: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("stage capture: %w", err)
	}
	return path, nil
}

// Decode recognizes PNG, JPEG, and WSQ capture data.
func Decode(capture []byte) (image.Image, error) {
	reader := bytes.NewReader(capture)

	if img, err := png.Decode(reader); err == nil {
		return img, nil
	}

	reader.Seek(0, io.SeekStart)
	if img, err := jpeg.Decode(reader); err == nil {
		return img, nil
	}

	reader.Seek(0, io.SeekStart)
	if img, err := wsq.Decode(reader); err == nil {
		return img, nil
	}

	return nil, fmt.Errorf("unsupported capture format: must be PNG, JPEG, or WSQ")
}

func toGray(img image.Image) *image.Gray {
	if gray, ok := img.(*image.Gray); ok {
		return gray
	}
	bounds := img.Bounds()
	gray := image.NewGray(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			gray.Set(x, y, color.GrayModel.Convert(img.At(x, y)))
		}
	}
	return gray
}
