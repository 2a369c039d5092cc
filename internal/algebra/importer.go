package algebra

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/gif"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"golang.org/x/image/colornames"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/ivlev/gifloop/internal/apperr"
	"github.com/ivlev/gifloop/internal/frames"
)

type SourceKind int

const (
	SourceFile SourceKind = iota
	SourceBlank
)

// Source - кадр для импорта: файл или однотонный кадр заданного цвета.
type Source struct {
	Kind  SourceKind
	Path  string
	Color string
}

func FileRef(path string) Source {
	return Source{Kind: SourceFile, Path: path}
}

func SyntheticBlank(colorName string) Source {
	return Source{Kind: SourceBlank, Color: colorName}
}

// ParseSource понимает запись "<black>" как пустой кадр цвета black.
func ParseSource(s string) Source {
	if strings.HasPrefix(s, "<") && strings.HasSuffix(s, ">") {
		return SyntheticBlank(strings.Trim(s, "<>"))
	}
	return FileRef(s)
}

func (s Source) String() string {
	if s.Kind == SourceBlank {
		return "<" + s.Color + ">"
	}
	return s.Path
}

// FitMode - как вписать импортируемую картинку в размер кадра.
type FitMode int

const (
	FitStretch FitMode = iota
	FitLetterbox
)

type ImportOptions struct {
	// At - позиция (с единицы), с которой начинаются новые кадры.
	At          int
	InsertAfter bool
	Reverse     bool
	// Riffle вставляет по одному новому кадру после каждого старого.
	Riffle bool
	Fit    FitMode
	// Width и Height - размер кадра. Ноль - взять с первого кадра
	// последовательности, а если она пуста, с первой картинки.
	Width, Height int
}

// ImportResult: Imported - сколько кадров добавлено, Discrepancies -
// сколько исходников не удалось прочитать (они пропущены).
type ImportResult struct {
	Imported      int
	Discrepancies int
}

// ParseColor понимает имена цветов SVG и запись #rrggbb.
func ParseColor(name string) (color.Color, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if c, ok := colornames.Map[name]; ok {
		return c, nil
	}
	var r, g, b uint8
	if _, err := fmt.Sscanf(name, "#%02x%02x%02x", &r, &g, &b); err == nil && len(name) == 7 {
		return color.RGBA{R: r, G: g, B: b, A: 0xff}, nil
	}
	return nil, apperr.New(apperr.KindPrecondition, "parse color", "неизвестный цвет %q", name)
}

// Import вставляет новые кадры в последовательность. Исходники
// сортируются по имени (Reverse - в обратном порядке), вписываются в
// размер кадра и пишутся в отдельное временное пространство имён, после
// чего вся последовательность раскладывается одной перестановкой. Так
// кадр самой последовательности можно импортировать повторно.
//
// Нечитаемый исходник пропускается и учитывается в Discrepancies.
func (e *Editor) Import(ctx context.Context, sources []Source, opt ImportOptions) (ImportResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(sources) == 0 {
		return ImportResult{}, apperr.New(apperr.KindPrecondition, "import", "нечего импортировать")
	}
	for _, s := range sources {
		if s.Kind == SourceBlank {
			if _, err := ParseColor(s.Color); err != nil {
				return ImportResult{}, err
			}
		}
	}

	current := e.seq.Sorted()
	size, err := e.importSize(sources, opt)
	if err != nil {
		return ImportResult{}, err
	}

	ordered := slices.Clone(sources)
	slices.SortStableFunc(ordered, func(a, b Source) int { return strings.Compare(a.String(), b.String()) })
	if opt.Reverse {
		slices.Reverse(ordered)
	}

	token := uuid.NewString()[:8]
	var imported []string
	cleanup := func() {
		for _, p := range imported {
			os.Remove(p)
		}
	}

	var res ImportResult
	for i, src := range ordered {
		if err := ctx.Err(); err != nil {
			cleanup()
			return ImportResult{}, apperr.Wrap(apperr.KindCanceled, "import", err)
		}
		imgs, err := decodeSource(src, size)
		if err != nil {
			e.log.Warn().Err(err).Str("source", src.String()).Msg("Не удалось импортировать кадр, пропускаем")
			res.Discrepancies++
			continue
		}
		for _, img := range imgs {
			out := filepath.Join(e.seq.Dir(), fmt.Sprintf("imported_%s_%04d.%s", token, len(imported)+1, e.seq.Ext()))
			if err := saveImage(fit(img, size, opt.Fit), out); err != nil {
				cleanup()
				return ImportResult{}, err
			}
			imported = append(imported, out)
		}
		e.report(i+1, len(ordered))
	}
	if len(imported) == 0 {
		return res, apperr.New(apperr.KindPrecondition, "import", "ни один кадр не прочитан (%d ошибок)", res.Discrepancies)
	}
	if len(current)+len(imported) > frames.MaxFrames {
		cleanup()
		return ImportResult{}, apperr.New(apperr.KindOutOfRange, "import", "получится больше %d кадров", frames.MaxFrames)
	}

	order := Interleave(current, imported, opt.At, opt.InsertAfter, opt.Riffle)
	moves := make([]frames.Move, len(order))
	for i, p := range order {
		moves[i] = frames.Move{From: p, To: i + 1}
	}
	if err := e.seq.Permute(moves); err != nil {
		return res, err
	}

	res.Imported = len(imported)
	e.log.Info().Int("imported", res.Imported).Int("skipped", res.Discrepancies).Int("total", len(order)).
		Msg("Кадры импортированы")
	return res, nil
}

// Interleave раскладывает старые и новые кадры: старые до позиции at,
// затем новые блоком (или вперемешку при riffle), затем остаток.
func Interleave(current, imported []string, at int, insertAfter, riffle bool) []string {
	if insertAfter {
		at++
	}
	before := max(0, min(at-1, len(current)))

	out := make([]string, 0, len(current)+len(imported))
	out = append(out, current[:before]...)
	rest := current[before:]
	if !riffle {
		out = append(out, imported...)
		imported = nil
	}
	for len(rest) > 0 || len(imported) > 0 {
		if len(rest) > 0 {
			out = append(out, rest[0])
			rest = rest[1:]
		}
		if len(imported) > 0 {
			out = append(out, imported[0])
			imported = imported[1:]
		}
	}
	return out
}

func (e *Editor) importSize(sources []Source, opt ImportOptions) (image.Point, error) {
	if opt.Width > 0 && opt.Height > 0 {
		return image.Pt(opt.Width, opt.Height), nil
	}
	if p, ok := e.frameSize(); ok {
		return p, nil
	}
	for _, s := range sources {
		if s.Kind != SourceFile {
			continue
		}
		if img, err := imaging.Open(s.Path); err == nil {
			return img.Bounds().Size(), nil
		}
	}
	return image.Point{}, apperr.New(apperr.KindPrecondition, "import", "не удалось определить размер кадра")
}

// decodeSource возвращает один кадр, а для анимированного GIF - все.
func decodeSource(src Source, size image.Point) ([]image.Image, error) {
	if src.Kind == SourceBlank {
		c, err := ParseColor(src.Color)
		if err != nil {
			return nil, err
		}
		return []image.Image{imaging.New(size.X, size.Y, c)}, nil
	}

	if strings.EqualFold(filepath.Ext(src.Path), ".gif") {
		return decodeGIF(src.Path)
	}
	img, err := loadImage(src.Path)
	if err != nil {
		return nil, err
	}
	return []image.Image{img}, nil
}

// decodeGIF раскладывает анимацию на полные кадры: каждый следующий
// кадр GIF хранит только изменившуюся область.
func decodeGIF(path string) ([]image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperr.WrapPath(apperr.KindIO, "open gif", path, err)
	}
	defer f.Close()

	anim, err := gif.DecodeAll(f)
	if err != nil {
		return nil, apperr.WrapPath(apperr.KindIO, "decode gif", path, err)
	}
	bounds := image.Rect(0, 0, anim.Config.Width, anim.Config.Height)
	canvas := image.NewRGBA(bounds)

	out := make([]image.Image, 0, len(anim.Image))
	for _, fr := range anim.Image {
		draw.Draw(canvas, fr.Bounds(), fr, fr.Bounds().Min, draw.Over)
		out = append(out, imaging.Clone(canvas))
	}
	return out, nil
}

func fit(img image.Image, size image.Point, mode FitMode) image.Image {
	if img.Bounds().Size() == size {
		return img
	}
	if mode == FitStretch {
		return imaging.Resize(img, size.X, size.Y, imaging.Lanczos)
	}
	// imaging.Fit только уменьшает, а маленькие картинки тоже растягиваются
	w, h := letterboxSize(img.Bounds().Size(), size)
	bg := imaging.New(size.X, size.Y, color.Black)
	return imaging.PasteCenter(bg, imaging.Resize(img, w, h, imaging.Lanczos))
}

// letterboxSize - наибольший размер с пропорциями src, влезающий в dst.
func letterboxSize(src, dst image.Point) (int, int) {
	if src.X <= 0 || src.Y <= 0 {
		return dst.X, dst.Y
	}
	if src.X*dst.Y >= src.Y*dst.X {
		return dst.X, max(1, src.Y*dst.X/src.X)
	}
	return max(1, src.X*dst.Y/src.Y), dst.Y
}
