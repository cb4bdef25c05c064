package motion

import (
	"fmt"

	"golang.org/x/image/draw"
)

// Format identifies the pixel layout of a frame handed to the motion
// analyzer. The recording context feeds decoded frames here in
// whatever format its codec collaborator produced.
type Format int

const (
	FormatGray8 Format = iota
	FormatBGR
	FormatBGRA
	FormatRGB
)

// Frame is a raw decoded image in one of the supported formats,
// row-major with no padding between rows.
type Frame struct {
	Width, Height int
	Format        Format
	Data          []byte
}

// toGray converts a Frame to an 8-bit grayscale plane using the
// standard BT.601 luma weights, matching OpenCV's COLOR_{BGR,RGB,BGRA}2GRAY
// conversions.
func toGray(f Frame) ([]uint8, error) {
	n := f.Width * f.Height
	out := make([]uint8, n)
	switch f.Format {
	case FormatGray8:
		if len(f.Data) < n {
			return nil, fmt.Errorf("motion: short gray frame buffer")
		}
		copy(out, f.Data[:n])
	case FormatBGR:
		if len(f.Data) < n*3 {
			return nil, fmt.Errorf("motion: short bgr frame buffer")
		}
		for i := 0; i < n; i++ {
			b, g, r := f.Data[i*3], f.Data[i*3+1], f.Data[i*3+2]
			out[i] = luma(r, g, b)
		}
	case FormatBGRA:
		if len(f.Data) < n*4 {
			return nil, fmt.Errorf("motion: short bgra frame buffer")
		}
		for i := 0; i < n; i++ {
			b, g, r := f.Data[i*4], f.Data[i*4+1], f.Data[i*4+2]
			out[i] = luma(r, g, b)
		}
	case FormatRGB:
		if len(f.Data) < n*3 {
			return nil, fmt.Errorf("motion: short rgb frame buffer")
		}
		for i := 0; i < n; i++ {
			r, g, b := f.Data[i*3], f.Data[i*3+1], f.Data[i*3+2]
			out[i] = luma(r, g, b)
		}
	default:
		return nil, fmt.Errorf("motion: unsupported frame format %d", f.Format)
	}
	return out, nil
}

func luma(r, g, b uint8) uint8 {
	v := 0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)
	if v > 255 {
		v = 255
	}
	return uint8(v + 0.5)
}

// gaussianKernel5 is the classic binomial approximation to a 5-tap
// Gaussian (OpenCV's default getGaussianKernel(5, 0) weights), used
// for the separable blur pass.
var gaussianKernel5 = [5]float64{1, 4, 6, 4, 1}

const gaussianKernel5Sum = 16.0

// gaussianBlur5x5 applies a separable 5x5 Gaussian blur with edge
// replication, operating on an 8-bit grayscale plane.
func gaussianBlur5x5(src []uint8, w, h int) []uint8 {
	tmp := make([]float64, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var acc float64
			for k := -2; k <= 2; k++ {
				xx := clampInt(x+k, 0, w-1)
				acc += float64(src[y*w+xx]) * gaussianKernel5[k+2]
			}
			tmp[y*w+x] = acc / gaussianKernel5Sum
		}
	}
	out := make([]uint8, w*h)
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			var acc float64
			for k := -2; k <= 2; k++ {
				yy := clampInt(y+k, 0, h-1)
				acc += tmp[yy*w+x] * gaussianKernel5[k+2]
			}
			v := acc / gaussianKernel5Sum
			if v > 255 {
				v = 255
			} else if v < 0 {
				v = 0
			}
			out[y*w+x] = uint8(v + 0.5)
		}
	}
	return out
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// resizeGray8 resizes an 8-bit grayscale plane, used when a camera's
// decoded frame dimensions drift from the analyzer's established
// background size (e.g. after a mid-stream resolution change).
// Grounded on golang.org/x/image/draw, the same resize primitive the
// rest of the retrieval pack's imaging code reaches for.
func resizeGray8(src []uint8, sw, sh, dw, dh int) []uint8 {
	srcImg := &grayImage{pix: src, w: sw, h: sh}
	dstPix := make([]uint8, dw*dh)
	dstImg := &grayImage{pix: dstPix, w: dw, h: dh}
	draw.NearestNeighbor.Scale(dstImg, dstImg.Bounds(), srcImg, srcImg.Bounds(), draw.Over, nil)
	return dstPix
}
