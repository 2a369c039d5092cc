package effects

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ivlev/gifloop/internal/timing"
)

// MaxCaptions - сколько слотов caption1..captionN просматривается.
const MaxCaptions = 30

// CaptionEffect рисует подпись на отдельном прозрачном слое и
// растворяет его поверх кадра. Огибающая меняет непрозрачность и
// положение от кадра к кадру.
type CaptionEffect struct {
	Slot             int
	Text             string
	Font             string // имя шрифта для convert
	Size             int
	Color            string
	OutlineColor     string
	Outline          int
	Opacity          float64 // 0..100
	Gravity          string
	Margin           int
	FrameStart       int
	FrameEnd         int
	InterlineSpacing int
	DropShadow       bool
	// BeforeFX: подпись рисуется до фильтров и они к ней применяются.
	BeforeFX bool
	Envelope timing.Envelope
}

// EscapeText готовит текст для -annotate: "[enter]" становится переводом
// строки, а "\" и "@" экранируются (convert иначе читает текст из файла).
func EscapeText(s string) string {
	s = strings.ReplaceAll(s, "[enter]", "\n")
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, "@", `\@`)
}

func (c *CaptionEffect) visible(f Frame) bool {
	return c.Text != "" && f.Index >= c.FrameStart && f.Index <= c.FrameEnd
}

func (c *CaptionEffect) GenerateArgs(f Frame) []string {
	if !c.visible(f) {
		return nil
	}

	opacity := c.Opacity
	var adjX, adjY int
	if c.Envelope.Active() {
		v := c.Envelope.At(f.Index, c.FrameStart, c.FrameEnd, f.Total, f.FPS)
		adj := c.Envelope.Apply(v)
		opacity *= adj.Opacity
		adjX += adj.DX
		adjY += adj.DY
	}
	if opacity <= 1 {
		return nil
	}

	if strings.Contains(c.Gravity, "West") || strings.Contains(c.Gravity, "East") {
		adjX += c.Margin + f.BorderOffset
	}
	if strings.Contains(c.Gravity, "North") || strings.Contains(c.Gravity, "South") {
		adjY += c.Margin + f.BorderOffset
	}

	outline := c.Outline
	if outline >= 1 && c.Size > 13 {
		outline++
	}

	// Обводка рисуется дважды со сдвигом на пиксель, чтобы не было щелей.
	tweakX := -1
	if strings.Contains(c.Gravity, "East") {
		tweakX = 1
	}
	tweakY := -1
	if strings.Contains(c.Gravity, "South") {
		tweakY = 1
	}

	text := EscapeText(c.Text)
	args := []string{"(", "+clone", "-alpha", "transparent",
		"-font", c.Font, "-pointsize", strconv.Itoa(c.Size), "-gravity", c.Gravity}
	if c.InterlineSpacing != 0 {
		args = append(args, "-interline-spacing", strconv.Itoa(c.InterlineSpacing))
	}
	if outline >= 1 {
		stroke := []string{"-stroke", c.OutlineColor, "-strokewidth", strconv.Itoa(outline)}
		args = append(args, stroke...)
		args = append(args, "-annotate", offset(adjX+tweakX, adjY), text)
		args = append(args, stroke...)
		args = append(args, "-annotate", offset(adjX, adjY+tweakY), text)
	}
	args = append(args, "-stroke", "none", "-strokewidth", strconv.Itoa(outline),
		"-fill", c.Color, "-annotate", offset(adjX, adjY), text)

	if c.DropShadow {
		args = append(args, "(", "+clone", "-gravity", "none", "-background", "none",
			"-shadow", "60x1-5-5", ")", "+swap", "-compose", "over", "-composite")
	}
	return append(args, ")", "-compose", "dissolve",
		"-define", fmt.Sprintf("compose:args=%d", int(opacity)), "-composite")
}

// BlitEffect накладывает картинку из файла.
type BlitEffect struct {
	Path    string
	Gravity string
	Resize  int // проценты
	Opacity int
	XNudge  int
	YNudge  int
	// BeforeFX: картинка проходит через фильтры вместе с кадром.
	BeforeFX bool
}

func (b *BlitEffect) GenerateArgs(Frame) []string {
	if b.Path == "" {
		return nil
	}
	return []string{
		"(", b.Path, "-resize", fmt.Sprintf("%d%%", b.Resize), ")",
		"-gravity", b.Gravity, "-geometry", offset(b.XNudge, b.YNudge),
		"-compose", "dissolve", "-define", fmt.Sprintf("compose:args=%d", b.Opacity), "-composite",
	}
}
