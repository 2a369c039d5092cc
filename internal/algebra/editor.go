// Package algebra содержит операции над последовательностью кадров:
// поиск дублей, разворот, перекрёстное затухание, петля туда-обратно,
// импорт, экспорт и удаление диапазона.
//
// Каждая операция сначала проверяет условия без записи на диск, потом
// меняет файлы. Ошибка на втором этапе возвращается как KindIO: кадры
// стадии в таком случае нужно извлечь заново.
package algebra

import (
	"image"
	"os"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog"

	"github.com/ivlev/gifloop/internal/apperr"
	"github.com/ivlev/gifloop/internal/frames"
	"github.com/ivlev/gifloop/internal/logging"
	"github.com/ivlev/gifloop/internal/system"
)

// ProgressFunc получает число обработанных элементов и их общее число.
type ProgressFunc func(done, total int)

// Editor выполняет операции над одной папкой кадров. Операции одного
// Editor не пересекаются; два Editor на одну папку создавать нельзя.
type Editor struct {
	mu       sync.Mutex
	seq      *frames.Sequence
	workers  int
	progress ProgressFunc
	log      zerolog.Logger
}

func New(seq *frames.Sequence, logger zerolog.Logger) *Editor {
	return &Editor{
		seq:     seq,
		workers: system.Workers(),
		log:     logging.WithComponent(logger, "algebra").With().Str("dir", seq.Dir()).Logger(),
	}
}

// SetWorkers ограничивает число параллельных задач (хэширование, смешивание).
func (e *Editor) SetWorkers(n int) {
	if n < 1 {
		n = 1
	}
	e.workers = n
}

func (e *Editor) SetProgress(fn ProgressFunc) {
	e.progress = fn
}

func (e *Editor) Sequence() *frames.Sequence {
	return e.seq
}

func (e *Editor) report(done, total int) {
	if e.progress != nil {
		e.progress(done, total)
	}
}

func loadImage(path string) (image.Image, error) {
	img, err := imaging.Open(path)
	if err != nil {
		return nil, apperr.WrapPath(apperr.KindIO, "decode frame", path, err)
	}
	return img, nil
}

func saveImage(img image.Image, path string) error {
	if err := imaging.Save(img, path); err != nil {
		return apperr.WrapPath(apperr.KindIO, "encode frame", path, err)
	}
	return nil
}

// frameSize читает размер первого кадра, не декодируя пиксели.
func (e *Editor) frameSize() (image.Point, bool) {
	paths := e.seq.Sorted()
	if len(paths) == 0 {
		return image.Point{}, false
	}
	f, err := os.Open(paths[0])
	if err != nil {
		return image.Point{}, false
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return image.Point{}, false
	}
	return image.Pt(cfg.Width, cfg.Height), true
}
