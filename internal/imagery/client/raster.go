package client

import (
	"bytes"
	"image"
	"image/color"
	_ "image/png"

	imagerydomain "github.com/fieldscope/fieldscope/internal/imagery/domain"
)

// decodeIndexValue turns a single-channel raster into one scalar by
// averaging pixel intensity, then remapping into the index range. Most
// normalized-difference indices land in -1..1; moisture stress uses 0..3.
func decodeIndexValue(raster []byte, index imagerydomain.IndexKind) (float64, error) {
	img, _, err := image.Decode(bytes.NewReader(raster))
	if err != nil {
		return 0, err
	}

	bounds := img.Bounds()
	if bounds.Empty() {
		return 0, imagerydomain.ErrEmptyRaster
	}

	var sum float64
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			g := color.GrayModel.Convert(img.At(x, y)).(color.Gray)
			sum += float64(g.Y)
		}
	}
	mean := sum / float64(bounds.Dx()*bounds.Dy()) / 255.0

	return mapIndexRange(mean, index), nil
}

func mapIndexRange(normalized float64, index imagerydomain.IndexKind) float64 {
	if index == imagerydomain.IndexMSI {
		return normalized * 3
	}
	return normalized*2 - 1
}
