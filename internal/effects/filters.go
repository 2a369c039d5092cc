package effects

import (
	"fmt"
	"strconv"
)

// Filters - цветокоррекция и ретушь из секций effects и color. Ползунки
// 0..100 переводятся в параметры convert через ReScale.
type Filters struct {
	Brightness, Contrast int

	Sharpen       bool
	SharpenAmount int

	OilPaint   bool
	Saturation int // -100..100

	Nashville       bool
	NashvilleAmount int

	Sepia       bool
	SepiaAmount int

	Tint       bool
	TintAmount int
	TintColor  string

	FadeEdges      bool
	FadeEdgeAmount int

	Blur int

	Border       bool
	BorderAmount int
	BorderColor  string
}

// BorderOffset - толщина рамки в пикселях, 0 без рамки.
func (f Filters) BorderOffset() int {
	if !f.Border {
		return 0
	}
	return ReScale(f.BorderAmount, 0, 100, 1, 40)
}

var ditherModes = [][]string{
	{"-ordered-dither", "checks,20"},
	{"-dither", "Riemersma"},
	{"-dither", "FloydSteinberg"},
}

func (f Filters) GenerateArgs(Frame) []string {
	var args []string

	if f.Brightness != 0 || f.Contrast != 0 {
		args = append(args, "-brightness-contrast", fmt.Sprintf("%dx%d", f.Brightness, f.Contrast))
	}
	if f.Sharpen {
		args = append(args, "-sharpen", "3")
	}
	if f.OilPaint {
		args = append(args, "-morphology", "OpenI", "Disk:1.75")
	}
	if f.Saturation != 0 {
		sat := 100 + ReScale(f.Saturation, -100, 100, -80, 80)
		args = append(args, "-modulate", fmt.Sprintf("100,%d", sat))
	}
	if f.Nashville {
		amt := ReScale(f.NashvilleAmount, 0, 100, 10, 65)
		for _, layer := range []struct{ fill, blend string }{
			{"#222b6d", "50,0"},
			{"#f7daae", "120,1"},
		} {
			args = append(args,
				"(", "-clone", "0", "-fill", layer.fill, "-colorize", fmt.Sprintf("%d%%", amt), ")",
				"(", "-clone", "0", "-colorspace", "gray", "-negate", ")",
				"-compose", "blend", "-define", "compose:args="+layer.blend, "-composite")
		}
		args = append(args, "-contrast", "-modulate", "100,150,100", "-auto-gamma")
	}
	if f.Sepia {
		args = append(args, "-sepia-tone", fmt.Sprintf("%d%%", ReScale(f.SepiaAmount, 0, 100, 75, 100)))
	}
	if f.Tint {
		args = append(args, "-fill", f.TintColor, "-tint", strconv.Itoa(ReScale(f.TintAmount, 0, 100, 30, 100)))
	}
	if f.FadeEdges {
		rad := ReScale(100-f.FadeEdgeAmount, 0, 100, 20, 60)
		sig := ReScale(100-f.FadeEdgeAmount, 0, 100, 50, 5000)
		args = append(args, "-background", "black", "-vignette", fmt.Sprintf("%dx%d-30-30", rad, sig))
	}
	if f.Blur > 0 {
		args = append(args, "-blur", fmt.Sprintf("0x%d", ReScale(f.Blur, 0, 100, 1, 11)))
	}
	if b := f.BorderOffset(); b > 0 {
		args = append(args, "-bordercolor", f.BorderColor, "-border", strconv.Itoa(b))
	}

	if f.Sharpen {
		mode := 0
		switch {
		case f.SharpenAmount >= 60:
			mode = 2
		case f.SharpenAmount >= 30:
			mode = 1
		}
		args = append(args, "-sharpen", strconv.Itoa(ReScale(f.SharpenAmount, 0, 100, 0, 5)))
		args = append(args, ditherModes[mode]...)
	} else {
		args = append(args, "-dither", "none")
	}
	return args
}

// Palette - цветовое пространство и, для GIF, размер палитры.
type Palette struct {
	ColorSpace string
	Colors     int
	GIF        bool
}

func (p Palette) GenerateArgs(Frame) []string {
	var args []string
	if p.ColorSpace != "" && p.ColorSpace != "CMYK" {
		args = append(args, "-colorspace", p.ColorSpace)
	}
	if p.GIF {
		args = append(args, "-depth", "8", "-colors", strconv.Itoa(p.Colors))
	}
	return args
}

// Format задаёт формат промежуточного кадра.
type Format string

func (f Format) GenerateArgs(Frame) []string {
	return []string{"-format", string(f)}
}
