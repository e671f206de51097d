package imgdiff

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/png"

	appErr "github.com/visualtesting/engine/pkg/errors"
)

// Result is the outcome of comparing two images. Distance is the comparer's
// own metric; callers only test it against a threshold.
type Result struct {
	Distance  float64
	DiffImage []byte
}

// Comparer computes a visual distance between two encoded images and renders
// an image highlighting the divergence.
type Comparer interface {
	Compare(head, base []byte) (*Result, error)
}

// PNGComparer compares PNG screenshots pixel by pixel. Distance is the
// percentage of mismatching pixels over the union of both bounds, so
// differently sized captures register as differing. Mismatching pixels are
// painted red on a faded copy of the head image.
type PNGComparer struct{}

var _ Comparer = PNGComparer{}

var diffColor = color.RGBA{R: 0xff, A: 0xff}

func (PNGComparer) Compare(head, base []byte) (*Result, error) {
	headImg, err := png.Decode(bytes.NewReader(head))
	if err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInvalid, "decode head image failed")
	}
	baseImg, err := png.Decode(bytes.NewReader(base))
	if err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInvalid, "decode base image failed")
	}

	bounds := headImg.Bounds().Union(baseImg.Bounds())
	out := image.NewRGBA(bounds)
	draw.Draw(out, headImg.Bounds(), fade{headImg}, headImg.Bounds().Min, draw.Src)

	var mismatched int
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			if !samePixel(headImg, baseImg, x, y) {
				mismatched++
				out.SetRGBA(x, y, diffColor)
			}
		}
	}

	total := bounds.Dx() * bounds.Dy()
	var distance float64
	if total > 0 {
		distance = float64(mismatched) / float64(total) * 100
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, out); err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInternal, "encode diff image failed")
	}
	return &Result{Distance: distance, DiffImage: buf.Bytes()}, nil
}

func samePixel(a, b image.Image, x, y int) bool {
	p := image.Pt(x, y)
	inA := p.In(a.Bounds())
	inB := p.In(b.Bounds())
	if inA != inB {
		return false
	}
	if !inA {
		return true
	}
	ar, ag, ab, aa := a.At(x, y).RGBA()
	br, bg, bb, ba := b.At(x, y).RGBA()
	return ar == br && ag == bg && ab == bb && aa == ba
}

// fade renders an image at reduced opacity for the diff backdrop.
type fade struct{ image.Image }

func (f fade) At(x, y int) color.Color {
	r, g, b, _ := f.Image.At(x, y).RGBA()
	scale := func(v uint32) uint8 { return uint8((v/0x101)/4 + 0xc0) }
	return color.RGBA{R: scale(r), G: scale(g), B: scale(b), A: 0xff}
}
