package chart

import (
	"image"
	"image/color"
	"image/draw"
	"math"

	"golang.org/x/image/font"
	"golang.org/x/image/math/fixed"
)

type align int

const (
	alignLeft align = iota
	alignCenter
	alignRight
)

// canvas draws in layout units that are multiplied by scale on the bitmap.
type canvas struct {
	img   *image.RGBA
	scale float64
}

func newCanvas(w, h, scale float64, bg color.Color) *canvas {
	img := image.NewRGBA(image.Rect(0, 0, int(math.Ceil(w*scale)), int(math.Ceil(h*scale))))
	draw.Draw(img, img.Bounds(), image.NewUniform(bg), image.Point{}, draw.Src)
	return &canvas{img: img, scale: scale}
}

func (c *canvas) px(v float64) int {
	return int(math.Round(v * c.scale))
}

func (c *canvas) rect(x, y, w, h float64, col color.Color) {
	if w <= 0 || h <= 0 {
		return
	}
	r := image.Rect(c.px(x), c.px(y), c.px(x+w), c.px(y+h))
	if r.Dx() == 0 {
		r.Max.X = r.Min.X + 1
	}
	if r.Dy() == 0 {
		r.Max.Y = r.Min.Y + 1
	}
	draw.Draw(c.img, r, image.NewUniform(col), image.Point{}, draw.Over)
}

// outline draws a one-pixel border around the rectangle.
func (c *canvas) outline(x, y, w, h float64, col color.Color) {
	t := 1 / c.scale
	c.rect(x, y, w, t, col)
	c.rect(x, y+h-t, w, t, col)
	c.rect(x, y, t, h, col)
	c.rect(x+w-t, y, t, h, col)
}

func (c *canvas) vline(x, y1, y2, width float64, col color.Color) {
	c.rect(x-width/2, y1, width, y2-y1, col)
}

func (c *canvas) hline(x1, x2, y, width float64, col color.Color) {
	c.rect(x1, y-width/2, x2-x1, width, col)
}

// text draws s with its baseline at y.
func (c *canvas) text(x, y float64, s string, face font.Face, col color.Color, a align) {
	d := &font.Drawer{Dst: c.img, Src: image.NewUniform(col), Face: face}
	adv := d.MeasureString(s)
	startX := fixed.Int26_6(c.px(x) << 6)
	switch a {
	case alignCenter:
		startX -= adv / 2
	case alignRight:
		startX -= adv
	}
	d.Dot = fixed.Point26_6{X: startX, Y: fixed.Int26_6(c.px(y) << 6)}
	d.DrawString(s)
}

// textWidth returns the advance of s in layout units.
func (c *canvas) textWidth(s string, face font.Face) float64 {
	return float64(font.MeasureString(face, s)) / 64 / c.scale
}

func hex(s string) color.RGBA {
	var v uint32
	for _, r := range s[1:] {
		v <<= 4
		switch {
		case r >= '0' && r <= '9':
			v |= uint32(r - '0')
		case r >= 'a' && r <= 'f':
			v |= uint32(r-'a') + 10
		}
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}
}
