package sandbox

import (
	"bytes"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
)

var colorWhite = color.NRGBA{R: 255, G: 255, B: 255, A: 255}

// canvas is the mutable RGBA bitmap exposed to scripts.
type canvas struct {
	img *image.NRGBA
}

func clampByte(v int) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}

func (c *canvas) setPixel(x, y, r, g, b, a int) {
	if !(image.Point{X: x, Y: y}).In(c.img.Bounds()) {
		return
	}
	c.img.SetNRGBA(x, y, color.NRGBA{R: clampByte(r), G: clampByte(g), B: clampByte(b), A: clampByte(a)})
}

func (c *canvas) fillRect(x, y, w, h, r, g, b, a int) {
	col := color.NRGBA{R: clampByte(r), G: clampByte(g), B: clampByte(b), A: clampByte(a)}
	rect := image.Rect(x, y, x+w, y+h).Intersect(c.img.Bounds())
	for py := rect.Min.Y; py < rect.Max.Y; py++ {
		for px := rect.Min.X; px < rect.Max.X; px++ {
			c.img.SetNRGBA(px, py, col)
		}
	}
}

func (c *canvas) clear() {
	bounds := c.img.Bounds()
	c.img = imaging.New(bounds.Dx(), bounds.Dy(), colorWhite)
}

func (c *canvas) encodePNG() ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, c.img, imaging.PNG); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
