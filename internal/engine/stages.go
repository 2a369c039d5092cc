package engine

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ivlev/gifloop/internal/algebra"
	"github.com/ivlev/gifloop/internal/apperr"
	"github.com/ivlev/gifloop/internal/config"
	"github.com/ivlev/gifloop/internal/effects"
	"github.com/ivlev/gifloop/internal/frames"
	"github.com/ivlev/gifloop/internal/magick"
	"github.com/ivlev/gifloop/internal/source"
	"github.com/ivlev/gifloop/internal/system"
	"github.com/ivlev/gifloop/internal/timing"
	"github.com/ivlev/gifloop/internal/video"
)

// glitchLead - на сколько раньше начинать извлечение, чтобы обойти
// подтормаживание первых кадров после перемотки ffmpeg.
const glitchLead = 2 * time.Second

// frameRate - частота из настроек, ограниченная rate.maxFrameRate.
func frameRate(s *config.Settings) int {
	fps := s.IntOr("rate", "frameRate", int(video.DefaultFPS))
	return max(1, min(fps, s.IntOr("rate", "maxFrameRate", 50)))
}

// window - кусок видео, который извлекается. Skip кадров в начале потом
// удаляются.
type window struct {
	Start    time.Duration
	Duration time.Duration
	FPS      int
	Skip     int
}

func (w window) frames() int {
	return int(w.Duration.Seconds() * float64(w.FPS))
}

func extractionWindow(s *config.Settings, info video.Info, randN func(int64) int64) (window, error) {
	w := window{FPS: frameRate(s)}

	sec, err := s.GetFloat("length", "durationSec")
	if err != nil || sec <= 0 {
		return w, apperr.New(apperr.KindConfig, "extraction window", "неверная длительность %q", s.Get("length", "durationSec"))
	}
	w.Duration = time.Duration(sec * float64(time.Second))

	start := s.Get("length", "startTime")
	if strings.EqualFold(start, "random") {
		if span := info.Duration - w.Duration; span > 0 {
			w.Start = time.Duration(randN(int64(span))).Truncate(time.Millisecond)
		}
	} else if start != "" {
		w.Start, err = timing.ParseDuration(start)
		if err != nil {
			return w, apperr.Recast(apperr.KindConfig, "extraction window", err)
		}
	}
	if info.Duration > 0 && w.Start >= info.Duration {
		return w, apperr.New(apperr.KindConfig, "extraction window", "начало %s за концом видео %s",
			timing.FormatDuration(w.Start), timing.FormatDuration(info.Duration))
	}

	if n := w.frames(); n > frames.MaxFrames {
		return w, apperr.New(apperr.KindConfig, "extraction window", "слишком много кадров: %d, максимум %d", n, frames.MaxFrames)
	}

	if s.GetBool("settings", "fixSlowdownGlitch") && w.Start > glitchLead {
		w.Start -= glitchLead
		w.Duration += glitchLead
		w.Skip = int(glitchLead.Seconds()) * w.FPS
	}
	return w, nil
}

func percentOf(report func(*int, string) bool, status string) func(done, total int) {
	return func(done, total int) {
		pct := done * 100 / max(total, 1)
		report(&pct, status)
	}
}

func (e *Engine) editor() *algebra.Editor {
	ed := algebra.New(e.original, e.log)
	ed.SetWorkers(e.cfg.Workers)
	return ed
}

func (e *Engine) extract(ctx context.Context, report system.ProgressFunc) error {
	if err := e.original.Ensure(); err != nil {
		return err
	}
	if err := e.original.DeleteAll(); err != nil {
		return err
	}

	if e.loc.FromVideo() {
		w, err := extractionWindow(e.settings, e.info, e.randN)
		if err != nil {
			return err
		}
		need := uint64(w.frames()+w.Skip) * uint64(max(e.info.Width, 1)*max(e.info.Height, 1)) * 3
		if err := system.CheckFreeSpace(e.cfg.WorkDir, need); err != nil {
			return err
		}

		e.log.Info().
			Str("start", timing.FormatDuration(w.Start)).
			Dur("duration", w.Duration).
			Int("fps", w.FPS).
			Msg("Извлечение кадров")
		err = e.tools.Transcoder.ExtractFrames(ctx, video.ExtractOptions{
			Input:    e.media,
			Start:    w.Start,
			Duration: w.Duration,
			FPS:      w.FPS,
			Dir:      e.original.Dir(),
		}, report)
		if err != nil {
			return err
		}
		if e.original.Empty() {
			return apperr.New(apperr.KindExtraction, "extract frames", "транскодер не выдал ни одного кадра")
		}

		if w.Skip > 0 && e.original.Count() > w.Skip {
			if _, err := e.editor().DeleteRange(1, w.Skip, false); err != nil {
				return err
			}
		}
	} else {
		src, err := e.loc.Open()
		if err != nil {
			return err
		}
		defer src.Close()

		res, err := source.Extract(ctx, src, e.original, source.ExtractOptions{
			Workers:  e.cfg.Workers,
			Progress: percentOf(report, "Extracting"),
		}, e.log)
		if err != nil {
			return err
		}
		if res.Discrepancies > 0 {
			e.notes = append(e.notes, fmt.Sprintf("Пропущено нечитаемых изображений: %d", res.Discrepancies))
		}
	}

	cull := e.settings.GetBool("settings", "autoDeleteDuplicateFrames")
	ed := e.editor()
	ed.SetProgress(percentOf(report, "Checking for duplicate frames"))
	res, err := ed.Cull(ctx, cull, e.loc.FromVideo())
	switch {
	case apperr.IsKind(err, apperr.KindDegenerate) && res.Fatal:
		return err
	case apperr.IsKind(err, apperr.KindDegenerate):
		e.log.Warn().Int("frames", res.Total).Msg("Все кадры одинаковые")
		e.notes = append(e.notes, "Все кадры исходника одинаковые")
	case err != nil:
		return err
	case cull && res.Duplicates > 0:
		e.log.Info().Int("duplicates", res.Duplicates).Int("total", res.Total).Msg("Удалены повторяющиеся кадры")
	}
	return nil
}

// sourceSize - размер кадра до обрезки. У видео он уже исправлен на
// пропорции пикселя и поворот, у картинок берётся с первого кадра.
func (e *Engine) sourceSize(first string) (int, int, error) {
	if e.loc.FromVideo() && e.info.Width > 0 && e.info.Height > 0 {
		return e.info.Width, e.info.Height, nil
	}
	return imageSize(first)
}

func imageSize(path string) (int, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, apperr.WrapPath(apperr.KindIO, "frame size", path, err)
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, apperr.WrapPath(apperr.KindIO, "frame size", path, err)
	}
	return cfg.Width, cfg.Height, nil
}

func (e *Engine) geometry(ctx context.Context, report system.ProgressFunc) error {
	if err := e.resized.Ensure(); err != nil {
		return err
	}
	if err := e.resized.DeleteAll(); err != nil {
		return err
	}
	sources := e.original.Sorted()
	if len(sources) == 0 {
		return apperr.New(apperr.KindPrecondition, "geometry", "нет извлечённых кадров")
	}

	w, h, err := e.sourceSize(sources[0])
	if err != nil {
		return err
	}
	key := e.settings.IntOr("blend", "cinemagraphKeyFrameIdx", 0)
	chain, err := effects.GeometryChain(e.settings, effects.GeometryInput{
		SourceWidth:  w,
		SourceHeight: h,
		KeyFrame:     sources[max(0, min(key, len(sources)-1))],
		Mask:         e.MaskPath(),
	})
	if err != nil {
		return err
	}

	err = e.tools.Processor.ProcessFrames(ctx, magick.Job{
		Label:   effects.LabelGeometry,
		Sources: sources,
		DstDir:  e.resized.Dir(),
		FPS:     frameRate(e.settings),
		Chain:   chain,
		Kind:    apperr.KindGeometry,
	}, report)
	if err != nil {
		return err
	}
	if n := e.resized.Count(); n != len(sources) {
		return apperr.New(apperr.KindGeometry, "geometry", "получено %d кадров из %d", n, len(sources))
	}
	return nil
}

func (e *Engine) finalize(ctx context.Context, report system.ProgressFunc) error {
	format := e.cfg.OutputFormat()
	if format != "gif" && format != "mp4" && format != "webm" {
		return apperr.New(apperr.KindConfig, "finalize", "неподдерживаемый формат %q", format)
	}
	if err := e.processed.Ensure(); err != nil {
		return err
	}
	if err := e.processed.DeleteAll(); err != nil {
		return err
	}
	sources := e.resized.Sorted()
	if len(sources) == 0 {
		return apperr.New(apperr.KindPrecondition, "finalize", "нет кадров после обрезки")
	}

	if e.fonts == nil {
		cat, err := e.tools.Processor.Fonts(ctx)
		if err != nil {
			e.log.Warn().Err(err).Msg("Список шрифтов не получен, имена шрифтов передаются как есть")
		} else {
			e.fonts = cat
		}
	}
	chain, filters, err := effects.ProcessingChain(e.settings, e.fonts, format == "gif")
	if err != nil {
		return err
	}

	fps := frameRate(e.settings)
	err = e.tools.Processor.ProcessFrames(ctx, magick.Job{
		Label:        effects.LabelProcessing,
		Sources:      sources,
		DstDir:       e.processed.Dir(),
		FPS:          fps,
		BorderOffset: filters.BorderOffset(),
		Chain:        chain,
		Kind:         apperr.KindFinalize,
	}, report)
	if err != nil {
		return err
	}
	count := e.processed.Count()
	if count != len(sources) {
		return apperr.New(apperr.KindFinalize, "finalize", "получено %d кадров из %d", count, len(sources))
	}
	if err := e.checkCanceled("finalize"); err != nil {
		return err
	}

	delay := timing.FrameDelay(fps, e.settings.IntOr("rate", "speedModifier", 0))
	out := system.NextOutputPath(e.cfg.OutputPath, e.cfg.Overwrite)
	if err := os.MkdirAll(filepath.Dir(out), 0755); err != nil {
		return apperr.WrapPath(apperr.KindConfig, "finalize", filepath.Dir(out), err)
	}

	if format == "gif" {
		err = e.assembleGIF(ctx, out, delay, report)
	} else {
		err = e.encodeVideo(ctx, out, format, delay, count, report)
	}
	if err != nil {
		return err
	}

	fi, err := os.Stat(out)
	if err != nil || fi.Size() == 0 {
		return apperr.New(apperr.KindFinalize, "finalize", "файл результата не создан: %s", out)
	}
	e.output = out
	e.log.Info().Str("path", out).Int64("bytes", fi.Size()).Msg("Результат готов")
	return nil
}

func (e *Engine) assembleGIF(ctx context.Context, out string, delay int, report system.ProgressFunc) error {
	timings, err := timing.ParseFrameTimings(e.settings.Get("rate", "customFrameTimingMs"))
	if err != nil {
		return apperr.Recast(apperr.KindConfig, "frame timing", err)
	}
	_, maskErr := os.Stat(e.MaskPath())
	err = e.tools.Processor.AssembleGIF(ctx, magick.GIFOptions{
		FramesDir: e.processed.Dir(),
		Output:    out,
		Delay:     delay,
		Loops:     e.settings.IntOr("rate", "numLoops", 0),
		Transparent: e.settings.GetBool("blend", "cinemagraph") &&
			e.settings.GetBool("blend", "cinemagraphUseTransparency") && maskErr == nil,
	}, report)
	if err != nil {
		return err
	}
	if err := e.tools.Processor.ApplyFrameTimings(ctx, out, timings, report); err != nil {
		return err
	}
	if e.settings.GetBool("size", "fileOptimizer") {
		if _, err := e.tools.Processor.Optimize(ctx, out, report); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) encodeVideo(ctx context.Context, out, format string, delay, count int, report system.ProgressFunc) error {
	var audio string
	if path := e.settings.Get("audio", "path"); e.settings.GetBool("audio", "audioEnabled") && path != "" {
		start, _ := e.settings.GetFloat("audio", "startTime")
		audio = filepath.Join(e.cfg.WorkDir, audioName)
		err := e.tools.Transcoder.ExtractAudio(ctx, video.AudioOptions{
			Input:    path,
			Start:    time.Duration(start * float64(time.Second)),
			Duration: timing.TotalRuntime(delay, count),
			Volume:   float64(e.settings.IntOr("audio", "volume", 100)) / 100,
			Output:   audio,
		}, report)
		if err != nil {
			return err
		}
	}
	return e.tools.Transcoder.Encode(ctx, video.EncodeOptions{
		FramesDir: e.processed.Dir(),
		Delay:     delay,
		Format:    format,
		Audio:     audio,
		Output:    out,
	}, report)
}

// describe собирает Result по готовому файлу и кадрам стадии эффектов.
func (e *Engine) describe(path string) (Result, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return Result{}, apperr.WrapPath(apperr.KindFinalize, "describe", path, err)
	}
	res := Result{
		Path:   path,
		Size:   fi.Size(),
		Frames: e.processed.Count(),
		Delay:  timing.FrameDelay(frameRate(e.settings), e.settings.IntOr("rate", "speedModifier", 0)),
	}
	res.Runtime = timing.TotalRuntime(res.Delay, res.Frames)
	if paths := e.processed.Sorted(); len(paths) > 0 {
		res.Width, res.Height, _ = imageSize(paths[0])
	}

	if e.settings.GetBool("warnings", "socialMedia") {
		var enabled []timing.Platform
		for _, p := range timing.AllPlatforms {
			if e.settings.GetBool("warnings", string(p)) {
				enabled = append(enabled, p)
			}
		}
		res.Warnings = timing.CompatibilityWarnings(timing.Metrics{
			Width:      res.Width,
			Height:     res.Height,
			FrameCount: res.Frames,
			Runtime:    res.Runtime,
			SizeBytes:  res.Size,
		}, enabled)
	}
	return res, nil
}
