package motion

import (
	"image"
	"image/color"
)

// grayImage adapts a flat []uint8 plane to image.Image/draw.Image so
// resizeGray8 can drive golang.org/x/image/draw without an extra copy
// through image.Gray's stride bookkeeping.
type grayImage struct {
	pix  []uint8
	w, h int
}

func (g *grayImage) ColorModel() color.Model { return color.GrayModel }
func (g *grayImage) Bounds() image.Rectangle { return image.Rect(0, 0, g.w, g.h) }

func (g *grayImage) At(x, y int) color.Color {
	if x < 0 || y < 0 || x >= g.w || y >= g.h {
		return color.Gray{}
	}
	return color.Gray{Y: g.pix[y*g.w+x]}
}

func (g *grayImage) Set(x, y int, c color.Color) {
	if x < 0 || y < 0 || x >= g.w || y >= g.h {
		return
	}
	gr := color.GrayModel.Convert(c).(color.Gray)
	g.pix[y*g.w+x] = gr.Y
}
