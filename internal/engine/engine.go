// Package engine ведёт конвейер целиком: открывает исходник, решает,
// какие стадии устарели, запускает их по порядку и отдаёт готовый файл.
package engine

import (
	"context"
	"fmt"
	"maps"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/ivlev/gifloop/internal/apperr"
	"github.com/ivlev/gifloop/internal/config"
	"github.com/ivlev/gifloop/internal/download"
	"github.com/ivlev/gifloop/internal/effects"
	"github.com/ivlev/gifloop/internal/frames"
	"github.com/ivlev/gifloop/internal/logging"
	"github.com/ivlev/gifloop/internal/magick"
	"github.com/ivlev/gifloop/internal/pipeline"
	"github.com/ivlev/gifloop/internal/source"
	"github.com/ivlev/gifloop/internal/system"
	"github.com/ivlev/gifloop/internal/video"
)

// Папки стадий внутри рабочей.
const (
	DirOriginal  = "original"
	DirResized   = "resized"
	DirProcessed = "processed"
	DirDownloads = "downloads"
	DirMask      = "mask"

	manifestName = "stages.yaml"
	audioName    = "audio.wav"
	maskName     = "mask.png"
	benchmarkLog = "benchmark.log"
)

// ProgressFunc получает стадию, процент (nil - неизвестен) и статус.
// false останавливает текущую стадию.
type ProgressFunc func(stage pipeline.Stage, percent *int, status string) bool

// Tools - внешние программы. Downloader и Runner могут быть nil: без
// первого не открыть ссылку, без второго Cancel не убьёт процесс.
type Tools struct {
	Transcoder video.Transcoder
	Processor  magick.Processor
	Downloader download.Downloader
	Runner     *system.Runner
}

type Options struct {
	// ResolveConflict решает, что делать, если изменились настройки
	// извлечения, а кадры правили вручную. Без него Run в такой
	// ситуации возвращает ошибку Precondition.
	ResolveConflict func(pipeline.Conflict) pipeline.Resolution
}

type Engine struct {
	Options Options

	settings *config.Settings
	cfg      *config.Config
	tools    Tools
	log      zerolog.Logger

	original  *frames.Sequence
	resized   *frames.Sequence
	processed *frames.Sequence
	downloads string
	maskDir   string
	tracker   *pipeline.Tracker

	mu       sync.Mutex
	loc      *source.Locator
	media    string
	info     video.Info
	fonts    effects.FontCatalog
	output   string
	notes    []string
	timings  map[pipeline.Stage]time.Duration
	canceled atomic.Bool
	randN    func(n int64) int64

	manifestLoaded bool
}

// New создаёт папки стадий. Состояние из stages.yaml поднимается при
// первом Open, если рабочая папка уже использовалась.
func New(settings *config.Settings, cfg *config.Config, tools Tools, logger zerolog.Logger) (*Engine, error) {
	if cfg.WorkDir == "" {
		return nil, apperr.New(apperr.KindConfig, "engine", "не задана рабочая папка")
	}
	if tools.Transcoder == nil || tools.Processor == nil {
		return nil, apperr.New(apperr.KindConfig, "engine", "не заданы транскодер или конвертер")
	}

	e := &Engine{
		settings:  settings,
		cfg:       cfg,
		tools:     tools,
		log:       logging.WithComponent(logger, "engine"),
		original:  frames.New(filepath.Join(cfg.WorkDir, DirOriginal)),
		resized:   frames.New(filepath.Join(cfg.WorkDir, DirResized)),
		processed: frames.New(filepath.Join(cfg.WorkDir, DirProcessed)),
		downloads: filepath.Join(cfg.WorkDir, DirDownloads),
		maskDir:   filepath.Join(cfg.WorkDir, DirMask),
		timings:   make(map[pipeline.Stage]time.Duration),
		randN:     rand.Int64N,
	}
	for _, dir := range []string{e.original.Dir(), e.resized.Dir(), e.processed.Dir(), e.downloads, e.maskDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, apperr.WrapPath(apperr.KindConfig, "create work dir", dir, err)
		}
	}

	e.tracker = pipeline.NewTracker(settings, map[pipeline.Stage]pipeline.Output{
		pipeline.Extraction: e.original,
		pipeline.Geometry:   e.resized,
		pipeline.Finalize:   e.processed,
	}, logger)
	return e, nil
}

// loadManifest читает состояние прошлого запуска. Отпечатки стадий
// включают исходник и маску, поэтому читать можно только после Open.
func (e *Engine) loadManifest() {
	if e.manifestLoaded {
		return
	}
	e.manifestLoaded = true
	e.syncMaskSetting()
	if err := e.tracker.Load(e.manifestPath()); err != nil {
		e.log.Warn().Err(err).Msg("Состояние стадий не прочитано, всё будет пересчитано")
		e.tracker.Reset()
	}
}

func (e *Engine) manifestPath() string {
	return filepath.Join(e.cfg.WorkDir, manifestName)
}

// MaskPath - куда класть маску синемаграфа.
func (e *Engine) MaskPath() string {
	return filepath.Join(e.maskDir, maskName)
}

// Sequence - извлечённые кадры, над которыми работают операции с кадрами.
func (e *Engine) Sequence() *frames.Sequence {
	return e.original
}

func (e *Engine) Tracker() *pipeline.Tracker {
	return e.tracker
}

// Open разбирает исходник, при необходимости скачивает его и читает
// параметры видео. Смена исходника делает устаревшим извлечение.
func (e *Engine) Open(ctx context.Context, locator string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	loc, err := source.Classify(locator)
	if err != nil {
		return err
	}
	media := loc.Path()

	if loc.Kind == source.KindURL {
		if e.tools.Downloader == nil {
			return apperr.New(apperr.KindConfig, "open", "загрузчик видео не настроен")
		}
		q := download.Quality(e.settings.Get("settings", "downloadQuality"))
		media, err = e.tools.Downloader.Download(ctx, loc.Raw, q, nil)
		if err != nil {
			return err
		}
	}

	var info video.Info
	if loc.FromVideo() {
		info, err = e.tools.Transcoder.Probe(ctx, media)
		if err != nil {
			return err
		}
	}

	e.loc = &loc
	e.media = media
	e.info = info
	if e.settings.Set(pipeline.SectionSource, "locator", locator) {
		e.log.Info().Str("source", locator).Str("kind", loc.Kind.String()).Msg("Новый исходник")
	}
	e.loadManifest()
	return nil
}

// Info - параметры открытого видео. Для картинок и PDF нулевые.
func (e *Engine) Info() video.Info {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.info
}

// Plan - что будет пересчитано при следующем Generate.
type Plan struct {
	Stages   []pipeline.Stage
	Reasons  map[pipeline.Stage][]pipeline.Reason
	Conflict *pipeline.Conflict
}

func (e *Engine) Plan() (Plan, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.loc == nil {
		return Plan{}, apperr.New(apperr.KindPrecondition, "plan", "исходник не открыт")
	}

	p := Plan{
		Stages:  e.tracker.Plan(pipeline.Finalize),
		Reasons: make(map[pipeline.Stage][]pipeline.Reason),
	}
	for _, s := range p.Stages {
		p.Reasons[s] = e.tracker.Reasons(s)
	}
	if c, ok := e.tracker.DetectConflict(); ok {
		p.Conflict = &c
	}
	return p, nil
}

// Cancel просит остановить текущую стадию. Процесс внешней программы
// убивается вместе с потомками, стадия потом считается не запускавшейся.
func (e *Engine) Cancel() {
	e.canceled.Store(true)
	if e.tools.Runner != nil {
		e.tools.Runner.Cancel()
	}
}

func (e *Engine) checkCanceled(op string) error {
	if e.canceled.Load() {
		return apperr.New(apperr.KindCanceled, op, "отменено пользователем")
	}
	return nil
}

// Run выполняет устаревшие стадии до upTo включительно. Упавшая стадия
// сбрасывается вместе с последующими, её кадры удаляются.
func (e *Engine) Run(ctx context.Context, upTo pipeline.Stage, progress ProgressFunc) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.run(ctx, upTo, progress, false)
}

func (e *Engine) run(ctx context.Context, upTo pipeline.Stage, progress ProgressFunc, forceFinal bool) error {
	if e.loc == nil {
		return apperr.New(apperr.KindPrecondition, "run", "исходник не открыт")
	}
	e.canceled.Store(false)
	if e.tools.Runner != nil {
		e.tools.Runner.Reset()
	}

	if c, ok := e.tracker.DetectConflict(); ok {
		if e.Options.ResolveConflict == nil {
			return apperr.New(apperr.KindPrecondition, "run",
				"настройки извлечения изменены после ручной правки кадров (%s), нужно решение",
				c.EditedAt.Format(time.TimeOnly))
		}
		switch e.Options.ResolveConflict(c) {
		case pipeline.KeepEdits:
			e.log.Info().Msg("Ручные правки сохранены, извлечение пропущено")
			e.tracker.AcceptSettings(pipeline.Extraction)
		default:
			e.log.Info().Msg("Кадры будут извлечены заново, ручные правки теряются")
		}
	}

	plan := e.tracker.Plan(upTo)
	if forceFinal && upTo == pipeline.Finalize && len(plan) == 0 {
		plan = []pipeline.Stage{pipeline.Finalize}
	}
	for _, stage := range plan {
		e.log.Info().Str("stage", stage.String()).Strs("reasons", reasonStrings(e.tracker.Reasons(stage))).Msg(stage.Title())
		start := time.Now()
		if err := e.runStage(ctx, stage, progress); err != nil {
			e.fail(stage)
			return err
		}
		e.timings[stage] = time.Since(start)
		e.tracker.MarkRun(stage)
		if err := e.tracker.Save(e.manifestPath()); err != nil {
			e.log.Warn().Err(err).Msg("Не удалось сохранить состояние стадий")
		}
	}
	return nil
}

func reasonStrings(rs []pipeline.Reason) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = string(r)
	}
	return out
}

func (e *Engine) runStage(ctx context.Context, stage pipeline.Stage, progress ProgressFunc) error {
	if err := e.checkCanceled(stage.String()); err != nil {
		return err
	}
	report := e.stageProgress(stage, progress)
	switch stage {
	case pipeline.Extraction:
		return e.extract(ctx, report)
	case pipeline.Geometry:
		return e.geometry(ctx, report)
	case pipeline.Finalize:
		return e.finalize(ctx, report)
	}
	return apperr.New(apperr.KindPrecondition, "run", "неизвестная стадия %s", stage)
}

// fail: стадия и последующие становятся "никогда не запускались", кадры
// упавшей стадии удаляются, чтобы не остаться наполовину заполненными.
func (e *Engine) fail(stage pipeline.Stage) {
	e.tracker.MarkFailed(stage)
	if err := e.stageSequence(stage).DeleteAll(); err != nil {
		e.log.Error().Err(err).Str("stage", stage.String()).Msg("Не удалось очистить папку стадии")
	}
	if err := e.tracker.Save(e.manifestPath()); err != nil {
		e.log.Warn().Err(err).Msg("Не удалось сохранить состояние стадий")
	}
}

func (e *Engine) stageSequence(stage pipeline.Stage) *frames.Sequence {
	switch stage {
	case pipeline.Extraction:
		return e.original
	case pipeline.Geometry:
		return e.resized
	}
	return e.processed
}

func (e *Engine) stageProgress(stage pipeline.Stage, progress ProgressFunc) system.ProgressFunc {
	return func(percent *int, status string) bool {
		if e.canceled.Load() {
			return false
		}
		if progress == nil {
			return true
		}
		if !progress(stage, percent, status) {
			e.canceled.Store(true)
			return false
		}
		return true
	}
}

// Result - итог Generate.
type Result struct {
	Path     string
	Size     int64
	Frames   int
	Width    int
	Height   int
	Delay    int
	Runtime  time.Duration
	Warnings []string
	// Stages - сколько заняла каждая выполненная стадия.
	Stages map[pipeline.Stage]time.Duration
	Total  time.Duration
}

// Generate прогоняет все стадии и возвращает готовый файл. Если ничего
// не изменилось, пересобирается только результат.
func (e *Engine) Generate(ctx context.Context, progress ProgressFunc) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	clear(e.timings)
	e.notes = nil
	if err := e.run(ctx, pipeline.Finalize, progress, e.output == ""); err != nil {
		return Result{}, err
	}

	res, err := e.describe(e.output)
	if err != nil {
		return Result{}, err
	}
	res.Stages = maps.Clone(e.timings)
	res.Total = time.Since(start)
	res.Warnings = append(res.Warnings, e.notes...)

	if e.cfg.ShowStats {
		e.appendBenchmark(res)
	}
	return res, nil
}

// Report - сводка производительности для --stats.
func (r Result) Report(build string) string {
	fps := 0.0
	if r.Total > 0 {
		fps = float64(r.Frames) / r.Total.Seconds()
	}
	return fmt.Sprintf(
		"--- [PERFORMANCE REPORT] ---\n"+
			"Build: %s\n"+
			"Total Time: %.2fs\n"+
			"Extraction: %.2fs\n"+
			"Crop and Resize: %.2fs\n"+
			"Effects and Encode: %.2fs\n"+
			"Effective FPS: %.2f\n"+
			"----------------------------\n",
		build, r.Total.Seconds(),
		r.Stages[pipeline.Extraction].Seconds(),
		r.Stages[pipeline.Geometry].Seconds(),
		r.Stages[pipeline.Finalize].Seconds(),
		fps,
	)
}

func (e *Engine) appendBenchmark(r Result) {
	entry := fmt.Sprintf("[%s] Build: %s | Input: %s | Frames: %d | Total: %.2fs | Extract: %.2fs | Geometry: %.2fs | Finalize: %.2fs\n",
		time.Now().Format(time.DateTime),
		e.cfg.BuildVersion,
		filepath.Base(e.media),
		r.Frames,
		r.Total.Seconds(),
		r.Stages[pipeline.Extraction].Seconds(),
		r.Stages[pipeline.Geometry].Seconds(),
		r.Stages[pipeline.Finalize].Seconds(),
	)
	path := filepath.Join(e.cfg.WorkDir, benchmarkLog)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		e.log.Warn().Err(err).Str("path", path).Msg("Не удалось записать benchmark.log")
		return
	}
	defer f.Close()
	if _, err := f.WriteString(entry); err != nil {
		e.log.Warn().Err(err).Str("path", path).Msg("Не удалось записать benchmark.log")
	}
}
