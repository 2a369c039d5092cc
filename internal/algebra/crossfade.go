package algebra

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"golang.org/x/image/draw"
	"golang.org/x/sync/errgroup"

	"github.com/ivlev/gifloop/internal/apperr"
	"github.com/ivlev/gifloop/internal/system"
)

// FadePlan - заранее посчитанные пары кадров для затухания.
type FadePlan struct {
	Start int
	Span  int
	Pairs []FadePair
}

// FadePair: кадр A смешивается с B, после чего B удаляется.
type FadePair struct {
	A, B    int
	Percent int
}

// PlanCrossFade считает пары для затухания на отрезке [start, end]
// (с единицы, включительно). Если start > end, отрезок проходит через
// конец последовательности. Нечётная длина дополняется до чётной: вперёд,
// если есть куда, иначе назад. Отрезок короче 3 кадров отклоняется.
func PlanCrossFade(start, end, total int) (FadePlan, error) {
	if start < 1 || start > total || end < 1 || end > total {
		return FadePlan{}, apperr.New(apperr.KindOutOfRange, "cross fade",
			"отрезок %d..%d вне диапазона 1..%d", start, end, total)
	}

	var span int
	if start > end {
		span = total - (start - end) + 1
	} else {
		span = end - start + 1
	}

	if span%2 == 1 {
		switch {
		case span < total && end < total:
			span++
		case span < total && start > 1:
			span++
			start--
		default:
			span--
		}
	}
	if span < 3 {
		return FadePlan{}, apperr.New(apperr.KindPrecondition, "cross fade",
			"для затухания нужно хотя бы 3 кадра, выбрано %d", span)
	}

	k := span / 2
	plan := FadePlan{Start: start, Span: span, Pairs: make([]FadePair, k)}
	for x := range k {
		plan.Pairs[x] = FadePair{
			A:       (start-1+x)%total + 1,
			B:       (start-1+x+k)%total + 1,
			Percent: (x + 1) * 100 / (k + 1),
		}
	}
	return plan, nil
}

// CrossFade смешивает пары кадров по плану и удаляет вторые кадры пар,
// так что стык петли становится плавным. Возвращает число удалённых кадров.
//
// Смешанные кадры сначала пишутся во временные файлы: если что-то пошло
// не так до подмены, последовательность остаётся прежней.
func (e *Editor) CrossFade(ctx context.Context, start, end int) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	paths := e.seq.Sorted()
	plan, err := PlanCrossFade(start, end, len(paths))
	if err != nil {
		return 0, err
	}
	e.log.Info().Int("start", plan.Start).Int("span", plan.Span).Int("pairs", len(plan.Pairs)).
		Msg("Перекрёстное затухание")

	token := uuid.NewString()[:8]
	blended := make([]string, len(plan.Pairs))
	cleanup := func() {
		for _, p := range blended {
			if p != "" {
				os.Remove(p)
			}
		}
	}

	var reportMu sync.Mutex
	done := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, pair := range plan.Pairs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return apperr.Wrap(apperr.KindCanceled, "cross fade", err)
			}
			out := filepath.Join(e.seq.Dir(), fmt.Sprintf("xfade_%s_%04d.%s", token, i, e.seq.Ext()))
			// недописанный файл тоже уберёт cleanup
			blended[i] = out
			if err := blendFiles(paths[pair.A-1], paths[pair.B-1], pair.Percent, out); err != nil {
				return err
			}
			reportMu.Lock()
			done++
			e.report(done, len(plan.Pairs))
			reportMu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		cleanup()
		return 0, err
	}

	// дальше меняем сами кадры, откат невозможен
	for i, pair := range plan.Pairs {
		a := paths[pair.A-1]
		if err := os.Rename(blended[i], a); err != nil {
			return 0, apperr.WrapPath(apperr.KindIO, "cross fade", a, err)
		}
		blended[i] = ""
	}
	for _, pair := range plan.Pairs {
		b := paths[pair.B-1]
		if err := os.Remove(b); err != nil {
			return 0, apperr.WrapPath(apperr.KindIO, "cross fade", b, err)
		}
	}
	if err := e.seq.ReEnumerate(); err != nil {
		return 0, err
	}
	return len(plan.Pairs), nil
}

func blendFiles(pathA, pathB string, percent int, out string) error {
	a, err := loadImage(pathA)
	if err != nil {
		return err
	}
	b, err := loadImage(pathB)
	if err != nil {
		return err
	}
	dst := Blend(a, b, percent)
	defer system.PutImage(dst)
	return saveImage(dst, out)
}

// Blend накладывает b поверх a с непрозрачностью percent (0..100).
// Если размеры разные, b растягивается под a. Результат взят из пула:
// после использования его можно вернуть через system.PutImage.
func Blend(a, b image.Image, percent int) *image.RGBA {
	percent = max(0, min(100, percent))
	r := a.Bounds()
	dst := system.GetImage(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(dst, dst.Bounds(), a, r.Min, draw.Src)

	if b.Bounds().Size() != r.Size() {
		b = imaging.Resize(b, r.Dx(), r.Dy(), imaging.Lanczos)
	}
	mask := image.NewUniform(color.Alpha{A: uint8(percent * 255 / 100)})
	draw.DrawMask(dst, dst.Bounds(), b, b.Bounds().Min, mask, image.Point{}, draw.Over)
	return dst
}
