package source

import (
	"context"
	"image"
	"sync"
	"sync/atomic"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
	"golang.org/x/sync/errgroup"

	"github.com/ivlev/gifloop/internal/apperr"
	"github.com/ivlev/gifloop/internal/frames"
)

// ImageList - картинки с диска в заданном порядке.
type ImageList struct {
	paths []string
}

func NewImageList(paths []string) *ImageList {
	return &ImageList{paths: paths}
}

func (s *ImageList) Count() int {
	return len(s.paths)
}

func (s *ImageList) Render(index int) (image.Image, error) {
	return imaging.Open(s.paths[index], imaging.AutoOrientation(true))
}

func (s *ImageList) Close() error {
	return nil
}

type ExtractOptions struct {
	Workers  int
	Progress func(done, total int)
}

type ExtractResult struct {
	Frames int
	// Discrepancies - сколько входных файлов не удалось прочитать.
	Discrepancies int
}

// Extract рендерит источник в seq. Размер задаёт первая читаемая
// картинка, остальные растягиваются под него. Нечитаемые файлы
// пропускаются, нумерация потом сжимается.
func Extract(ctx context.Context, src Source, seq *frames.Sequence, opt ExtractOptions, log zerolog.Logger) (ExtractResult, error) {
	if err := seq.Ensure(); err != nil {
		return ExtractResult{}, err
	}
	total := src.Count()
	var skipped atomic.Int64
	// Progress вызывается из нескольких горутин, но получает вызовы по одному
	var mu sync.Mutex
	done := 0
	report := func() {
		mu.Lock()
		defer mu.Unlock()
		done++
		if opt.Progress != nil {
			opt.Progress(done, total)
		}
	}

	first := -1
	var size image.Point
	for i := range total {
		img, err := src.Render(i)
		if err != nil {
			log.Warn().Err(err).Int("index", i+1).Msg("Не удалось прочитать изображение, пропускаем")
			skipped.Add(1)
			report()
			continue
		}
		size = img.Bounds().Size()
		if err := imaging.Save(img, seq.Path(i+1)); err != nil {
			return ExtractResult{}, apperr.WrapPath(apperr.KindExtraction, "extract image", seq.Path(i+1), err)
		}
		first = i
		report()
		break
	}
	if first < 0 {
		return ExtractResult{Discrepancies: total}, apperr.New(apperr.KindDegenerate, "extract images", "ни одно изображение не прочитано")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, opt.Workers))
	for i := first + 1; i < total; i++ {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return apperr.Wrap(apperr.KindCanceled, "extract images", err)
			}
			defer report()
			img, err := src.Render(i)
			if err != nil {
				log.Warn().Err(err).Int("index", i+1).Msg("Не удалось прочитать изображение, пропускаем")
				skipped.Add(1)
				return nil
			}
			if img.Bounds().Size() != size {
				img = imaging.Resize(img, size.X, size.Y, imaging.Lanczos)
			}
			if err := imaging.Save(img, seq.Path(i+1)); err != nil {
				return apperr.WrapPath(apperr.KindExtraction, "extract image", seq.Path(i+1), err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return ExtractResult{}, err
	}

	if err := seq.ReEnumerate(); err != nil {
		return ExtractResult{}, err
	}
	res := ExtractResult{Frames: seq.Count(), Discrepancies: int(skipped.Load())}
	log.Info().Int("frames", res.Frames).Int("skipped", res.Discrepancies).Msg("Изображения извлечены")
	return res, nil
}
