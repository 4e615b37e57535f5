package imaging

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"math"
)

// JPEGQuality is used for every derived image.
const JPEGQuality = 75

// normalize maps data linearly onto 0..255 using its own min and max.
// Constant input maps to zero. NaN values map to zero.
func normalize(data []float64) []uint8 {
	out := make([]uint8, len(data))

	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range data {
		if math.IsNaN(v) {
			continue
		}
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	span := hi - lo
	if !(span > 0) || math.IsInf(span, 0) {
		return out
	}

	for i, v := range data {
		if math.IsNaN(v) {
			continue
		}
		out[i] = uint8(255 * ((v - lo) / span))
	}
	return out
}

// ArrayImage renders a 2-D array as grayscale, or a 3-D array with a
// trailing channel axis of 1 (grayscale) or 3 (RGB).
func ArrayImage(a *Array) (image.Image, error) {
	for _, d := range a.Shape {
		if d == 0 {
			return nil, ErrFormat.New("empty array of shape %v", a.Shape)
		}
	}
	switch a.NDim() {
	case 2:
		return grayImage(a.Shape[0], a.Shape[1], normalize(a.Data)), nil
	case 3:
		switch a.Shape[2] {
		case 1:
			return grayImage(a.Shape[0], a.Shape[1], normalize(a.Data)), nil
		case 3:
			return rgbImage(a.Shape[0], a.Shape[1], normalize(a.Data)), nil
		}
		return nil, ErrFormat.New("3D array must have 1 or 3 channels, found shape %v", a.Shape)
	}
	return nil, ErrFormat.New("array is not 2D or 3D: shape %v", a.Shape)
}

func grayImage(h, w int, pix []uint8) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	copy(img.Pix, pix)
	return img
}

func rgbImage(h, w int, pix []uint8) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := (y*w + x) * 3
			img.SetRGBA(x, y, color.RGBA{R: pix[i], G: pix[i+1], B: pix[i+2], A: 0xff})
		}
	}
	return img
}

// EncodeJPEG encodes img at JPEGQuality
func EncodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: JPEGQuality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
