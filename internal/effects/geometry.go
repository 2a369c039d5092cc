package effects

import "fmt"

// Normalize приводит кадр к размеру видео с поправкой на SAR и убирает
// метаданные (иначе convert применяет к части кадров гамму).
type Normalize struct {
	Width, Height int
}

func (n Normalize) GenerateArgs(Frame) []string {
	return []string{"-resize", dims(n.Width, n.Height), "+repage", "-strip"}
}

// Cinemagraph накладывает ключевой кадр через маску: под белой частью
// маски картинка застывает. Первый кадр и есть ключевой, его не трогаем.
type Cinemagraph struct {
	KeyFrame      string
	Mask          string
	Width, Height int
	Invert        bool
	// Transparent делает неподвижную часть прозрачной.
	Transparent bool
}

func (c Cinemagraph) mask() []string {
	m := []string{"(", c.Mask}
	if c.Invert {
		m = append(m, "+negate")
	}
	return append(m, ")")
}

func (c Cinemagraph) GenerateArgs(f Frame) []string {
	if f.Index <= 1 {
		return nil
	}
	args := []string{"(", c.KeyFrame, "-resize", dims(c.Width, c.Height)}
	args = append(args, c.mask()...)
	args = append(args, "-alpha", "off", "-compose", "copy_opacity", "-composite", ")",
		"-compose", "over", "-composite")

	if c.Transparent {
		args = append(args, "(")
		args = append(args, c.mask()...)
		args = append(args, "-fill", "black", "-fuzz", "0%", "+opaque", "#ffffff",
			"-negate", "-transparent", "black", "-negate", ")",
			"-compose", "copy_opacity", "-composite")
	}
	return args
}

type Crop struct {
	X, Y, Width, Height int
}

func (c Crop) GenerateArgs(Frame) []string {
	return []string{"+repage", "-crop", fmt.Sprintf("%dx%d+%d+%d", c.Width, c.Height, c.X, c.Y), "+repage"}
}

// Resize - итоговый размер кадра, пропорции не сохраняются.
type Resize struct {
	Width, Height int
}

func (r Resize) GenerateArgs(Frame) []string {
	return []string{"-resize", dims(r.Width, r.Height)}
}
