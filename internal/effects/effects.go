package effects

import (
	"fmt"
	"image"
	"image/color"

	"github.com/skip2/go-qrcode"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/ivlev/dance2video/internal/config"
)

// Effect рисует поверх готового кадра перед кодированием.
type Effect interface {
	Apply(frame *image.RGBA, index, total int)
}

// Chain применяет эффекты по порядку.
type Chain []Effect

func (c Chain) Apply(frame *image.RGBA, index, total int) {
	for _, e := range c {
		e.Apply(frame, index, total)
	}
}

// Build собирает цепочку эффектов из конфигурации. Водяной знак требует
// источника: без URL он пропускается.
func Build(cfg config.EffectsConfig, source string) (Chain, error) {
	var chain Chain
	if cfg.Watermark && source != "" {
		wm, err := NewWatermark(source, cfg.WatermarkSize)
		if err != nil {
			return nil, err
		}
		chain = append(chain, wm)
	}
	if cfg.Debug {
		chain = append(chain, DebugLabel{})
	}
	return chain, nil
}

// DebugLabel подписывает номер кадра в левом верхнем углу.
type DebugLabel struct{}

var (
	labelColor = image.NewUniform(color.RGBA{R: 255, G: 255, A: 255})
	labelBox   = image.NewUniform(color.RGBA{A: 128})
)

func (DebugLabel) Apply(frame *image.RGBA, index, total int) {
	text := fmt.Sprintf("frame %d/%d", index+1, total)
	face := basicfont.Face7x13

	const pad = 4
	origin := frame.Bounds().Min.Add(image.Pt(10, 10))
	w := font.MeasureString(face, text).Ceil()
	box := image.Rect(0, 0, w+2*pad, face.Height+2*pad).Add(origin)
	draw.Draw(frame, box, labelBox, image.Point{}, draw.Over)

	d := &font.Drawer{
		Dst:  frame,
		Src:  labelColor,
		Face: face,
		Dot:  fixed.P(origin.X+pad, origin.Y+pad+face.Ascent),
	}
	d.DrawString(text)
}

// Watermark рисует QR-код с адресом источника в правом нижнем углу.
type Watermark struct {
	img    *image.RGBA
	margin int
}

func NewWatermark(content string, size int) (*Watermark, error) {
	q, err := qrcode.New(content, qrcode.Medium)
	if err != nil {
		return nil, fmt.Errorf("qrcode: %w", err)
	}
	// один пиксель на модуль, масштабируем сами
	src := q.Image(-1)

	img := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.NearestNeighbor.Scale(img, img.Bounds(), src, src.Bounds(), draw.Src, nil)
	return &Watermark{img: img, margin: 8}, nil
}

func (w *Watermark) Apply(frame *image.RGBA, _, _ int) {
	b := frame.Bounds()
	size := w.img.Bounds().Size()
	if size.X+w.margin > b.Dx() || size.Y+w.margin > b.Dy() {
		return
	}
	at := image.Pt(b.Max.X-size.X-w.margin, b.Max.Y-size.Y-w.margin)
	draw.Draw(frame, image.Rectangle{Min: at, Max: at.Add(size)}, w.img, image.Point{}, draw.Src)
}
