package algebra

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"

	"github.com/ivlev/gifloop/internal/apperr"
	"github.com/ivlev/gifloop/internal/frames"
)

type ExportOptions struct {
	Start, End int
	Prefix     string
	// RotateDeg - поворот по часовой стрелке.
	RotateDeg int
	Dir       string
}

// Export копирует кадры Start..End в Dir под именами Prefix0001.png и
// далее. Перенумерация последовательности на экспорт не влияет. Ошибка
// посередине прерывает копирование, уже записанные файлы остаются.
// Возвращает число записанных файлов.
func Export(seq *frames.Sequence, opt ExportOptions) (int, error) {
	paths := seq.Sorted()
	if opt.Start < 1 || opt.End > len(paths) || opt.Start > opt.End {
		return 0, apperr.New(apperr.KindOutOfRange, "export frames",
			"диапазон %d..%d вне 1..%d", opt.Start, opt.End, len(paths))
	}
	if err := os.MkdirAll(opt.Dir, 0755); err != nil {
		return 0, apperr.WrapPath(apperr.KindIO, "export frames", opt.Dir, err)
	}

	written := 0
	for i := opt.Start; i <= opt.End; i++ {
		dst := filepath.Join(opt.Dir, fmt.Sprintf("%s%04d.png", opt.Prefix, written+1))
		if err := exportOne(paths[i-1], dst, opt.RotateDeg); err != nil {
			return written, err
		}
		written++
	}
	return written, nil
}

func exportOne(src, dst string, rotate int) error {
	if rotate%360 == 0 && filepath.Ext(src) == ".png" {
		if err := frames.CopyFile(src, dst); err != nil {
			return apperr.WrapPath(apperr.KindIO, "export frame", dst, err)
		}
		return nil
	}
	img, err := loadImage(src)
	if err != nil {
		return err
	}
	// imaging поворачивает против часовой стрелки
	return saveImage(imaging.Rotate(img, float64(-rotate), color.Black), dst)
}
