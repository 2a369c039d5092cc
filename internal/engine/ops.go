package engine

import (
	"context"
	"os"
	"time"

	"github.com/ivlev/gifloop/internal/algebra"
	"github.com/ivlev/gifloop/internal/apperr"
	"github.com/ivlev/gifloop/internal/frames"
	"github.com/ivlev/gifloop/internal/pipeline"
)

// Операции над извлечёнными кадрами. Трекер они не трогают: следующие
// стадии устаревают сами, потому что папка кадров стала новее.

// invalidate: ошибка ввода-вывода посреди операции оставляет кадры в
// неизвестном состоянии, извлечение придётся повторить.
func (e *Engine) invalidate(err error) error {
	if apperr.IsKind(err, apperr.KindIO) {
		e.log.Error().Err(err).Msg("Кадры повреждены, извлечение будет выполнено заново")
		e.tracker.MarkFailed(pipeline.Extraction)
		if serr := e.tracker.Save(e.manifestPath()); serr != nil {
			e.log.Warn().Err(serr).Msg("Не удалось сохранить состояние стадий")
		}
	}
	return err
}

// Cull удаляет кадры, повторяющие более ранние.
func (e *Engine) Cull(ctx context.Context) (algebra.CullResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fromVideo := e.loc == nil || e.loc.FromVideo()
	res, err := e.editor().Cull(ctx, true, fromVideo)
	return res, e.invalidate(err)
}

func (e *Engine) Reverse() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.invalidate(e.editor().Reverse())
}

func (e *Engine) ForwardReverseLoop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.invalidate(e.editor().ForwardReverseLoop())
}

// CrossFade возвращает, сколько кадров ушло на переход.
func (e *Engine) CrossFade(ctx context.Context, start, end int) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	n, err := e.editor().CrossFade(ctx, start, end)
	return n, e.invalidate(err)
}

// Import вставляет картинки. Элемент вида "<black>" - пустой кадр цвета.
// В пустую последовательность кадры идут размером открытого видео, если
// размер не задан явно.
func (e *Engine) Import(ctx context.Context, items []string, opt algebra.ImportOptions) (algebra.ImportResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if (opt.Width <= 0 || opt.Height <= 0) && e.original.Empty() && e.info.Width > 0 && e.info.Height > 0 {
		opt.Width, opt.Height = e.info.Width, e.info.Height
	}
	sources := make([]algebra.Source, len(items))
	for i, it := range items {
		sources[i] = algebra.ParseSource(it)
	}
	res, err := e.editor().Import(ctx, sources, opt)
	return res, e.invalidate(err)
}

// Export копирует кадры наружу. withGeometry - брать кадры после
// обрезки и масштаба, а не исходные.
func (e *Engine) Export(opt algebra.ExportOptions, withGeometry bool) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	seq := e.original
	if withGeometry {
		seq = e.resized
	}
	return algebra.Export(seq, opt)
}

// DeleteFrames удаляет кадры from..to (с единицы), при evenOnly - через один.
func (e *Engine) DeleteFrames(from, to int, evenOnly bool) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	n, err := e.editor().DeleteRange(from, to, evenOnly)
	return n, e.invalidate(err)
}

// SetMask копирует маску синемаграфа в рабочую папку. Пустой путь
// убирает маску.
func (e *Engine) SetMask(path string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	dst := e.MaskPath()
	if path == "" {
		if err := os.Remove(dst); err != nil && !os.IsNotExist(err) {
			return apperr.WrapPath(apperr.KindIO, "remove mask", dst, err)
		}
	} else if err := frames.CopyFile(path, dst); err != nil {
		return apperr.WrapPath(apperr.KindIO, "copy mask", path, err)
	}
	e.syncMaskSetting()
	return nil
}

// syncMaskSetting отражает время файла маски в настройках, чтобы
// смена маски делала устаревшей геометрию и в новом процессе тоже.
func (e *Engine) syncMaskSetting() {
	updated := ""
	if fi, err := os.Stat(e.MaskPath()); err == nil {
		updated = fi.ModTime().UTC().Format(time.RFC3339Nano)
	}
	e.settings.Set(pipeline.SectionMask, "updated", updated)
}
