package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io/fs"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/ivlev/gifloop/internal/apperr"
	"github.com/ivlev/gifloop/internal/config"
	"github.com/ivlev/gifloop/internal/logging"
)

// Output - то, что стадия пишет на диск. *frames.Sequence подходит.
type Output interface {
	LastModified() time.Time
	Empty() bool
}

// StageState фиксирует успешный запуск. nil в трекере означает
// "никогда не запускалась".
type StageState struct {
	LastRun  time.Time `yaml:"last_run"`
	Revision uint64    `yaml:"revision"`
	Digest   string    `yaml:"digest"`
}

// Reason объясняет, почему стадия устарела.
type Reason string

const (
	ReasonNeverRun      Reason = "never run"
	ReasonSettings      Reason = "settings changed"
	ReasonUpstreamNewer Reason = "upstream output newer"
	ReasonUpstreamRerun Reason = "upstream stage re-ran"
	ReasonEmptyOutput   Reason = "output empty"
)

// Conflict: изменены настройки извлечения, но кадры после последнего
// извлечения правили вручную. Выбор делает вызывающий код.
type Conflict struct {
	LastExtraction time.Time
	EditedAt       time.Time
}

// Resolution - ответ на Conflict.
type Resolution int

const (
	// Regenerate - извлечь кадры заново, ручные правки теряются.
	Regenerate Resolution = iota
	// KeepEdits - оставить кадры как есть и не перезапускать извлечение.
	KeepEdits
)

type Tracker struct {
	mu       sync.Mutex
	settings *config.Settings
	deps     map[Stage][]config.Dep
	outputs  map[Stage]Output
	states   map[Stage]*StageState
	now      func() time.Time
	log      zerolog.Logger
}

// NewTracker создаёт трекер со всеми стадиями в состоянии "никогда".
func NewTracker(settings *config.Settings, outputs map[Stage]Output, logger zerolog.Logger) *Tracker {
	return &Tracker{
		settings: settings,
		deps:     DefaultDeps,
		outputs:  outputs,
		states:   make(map[Stage]*StageState),
		now:      time.Now,
		log:      logging.WithComponent(logger, "tracker"),
	}
}

// SetDeps заменяет набор зависимостей стадии.
func (t *Tracker) SetDeps(stage Stage, deps []config.Dep) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.deps = cloneDeps(t.deps)
	t.deps[stage] = deps
}

func cloneDeps(in map[Stage][]config.Dep) map[Stage][]config.Dep {
	out := make(map[Stage][]config.Dep, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// State возвращает копию состояния стадии и признак того, что она запускалась.
func (t *Tracker) State(stage Stage) (StageState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.states[stage]
	if st == nil {
		return StageState{}, false
	}
	return *st, true
}

// IsStale сообщает, нужно ли перезапускать стадию.
func (t *Tracker) IsStale(stage Stage) bool {
	return len(t.Reasons(stage)) > 0
}

// Reasons перечисляет все причины устаревания стадии.
func (t *Tracker) Reasons(stage Stage) []Reason {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reasons(stage)
}

func (t *Tracker) reasons(stage Stage) []Reason {
	st := t.states[stage]
	if st == nil {
		return []Reason{ReasonNeverRun}
	}

	var out []Reason
	if t.settings.Revision(t.deps[stage]) > st.Revision {
		out = append(out, ReasonSettings)
	}

	own := t.outputs[stage]
	if stage > Extraction {
		up := stage - 1
		if upOut := t.outputs[up]; upOut != nil && own != nil {
			if upOut.LastModified().After(own.LastModified()) {
				out = append(out, ReasonUpstreamNewer)
			}
		}
		if upSt := t.states[up]; upSt != nil && upSt.LastRun.After(st.LastRun) {
			out = append(out, ReasonUpstreamRerun)
		}
	}

	if own != nil && own.Empty() {
		out = append(out, ReasonEmptyOutput)
	}
	return out
}

// Plan возвращает устаревшие стадии до upTo включительно. Если стадия
// устарела, все последующие тоже попадают в план.
func (t *Tracker) Plan(upTo Stage) []Stage {
	t.mu.Lock()
	defer t.mu.Unlock()

	var plan []Stage
	dirty := false
	for _, s := range Stages {
		if s > upTo {
			break
		}
		if dirty || len(t.reasons(s)) > 0 {
			dirty = true
			plan = append(plan, s)
		}
	}
	return plan
}

// ExtractionSettingsChanged - изменились ли настройки, от которых зависит извлечение.
func (t *Tracker) ExtractionSettingsChanged() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.states[Extraction]
	return st != nil && t.settings.Revision(t.deps[Extraction]) > st.Revision
}

// DetectConflict проверяет, что извлечение уже было, с тех пор кадры
// правили вручную и при этом изменились настройки извлечения.
func (t *Tracker) DetectConflict() (Conflict, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.states[Extraction]
	out := t.outputs[Extraction]
	if st == nil || out == nil || st.LastRun.IsZero() {
		return Conflict{}, false
	}
	edited := out.LastModified()
	if !edited.After(st.LastRun) {
		return Conflict{}, false
	}
	if t.settings.Revision(t.deps[Extraction]) <= st.Revision {
		return Conflict{}, false
	}
	return Conflict{LastExtraction: st.LastRun, EditedAt: edited}, true
}

// AcceptSettings фиксирует текущие настройки стадии как учтённые, не
// трогая время запуска. Так реализуется KeepEdits.
func (t *Tracker) AcceptSettings(stage Stage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if st := t.states[stage]; st != nil {
		st.Revision = t.settings.Revision(t.deps[stage])
		st.Digest = t.digest(stage)
	}
}

// MarkRun вызывается сразу после успешного завершения стадии.
func (t *Tracker) MarkRun(stage Stage) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ts := t.now()
	// время записи файлов могло уйти чуть вперёд системных часов
	if out := t.outputs[stage]; out != nil {
		if m := out.LastModified(); m.After(ts) {
			ts = m
		}
	}
	t.states[stage] = &StageState{
		LastRun:  ts,
		Revision: t.settings.Revision(t.deps[stage]),
		Digest:   t.digest(stage),
	}
	t.log.Debug().Str("stage", stage.String()).Time("at", ts).Msg("Стадия выполнена")
}

// MarkFailed сбрасывает стадию и все последующие в "никогда не запускалась".
func (t *Tracker) MarkFailed(stage Stage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range Stages {
		if s >= stage {
			delete(t.states, s)
		}
	}
	t.log.Debug().Str("stage", stage.String()).Msg("Стадия сброшена")
}

// Reset забывает всё, например при смене источника.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.states = make(map[Stage]*StageState)
	t.mu.Unlock()
}

// digest - отпечаток значений зависимостей стадии. Счётчики живут только
// в памяти процесса, а отпечаток переживает перезапуск.
func (t *Tracker) digest(stage Stage) string {
	sum := sha256.Sum256([]byte(strings.Join(t.settings.Snapshot(t.deps[stage]), "\n")))
	return hex.EncodeToString(sum[:])
}

type manifest struct {
	Stages map[string]*StageState `yaml:"stages"`
}

// Save пишет состояние стадий в YAML.
func (t *Tracker) Save(path string) error {
	t.mu.Lock()
	m := manifest{Stages: make(map[string]*StageState)}
	for s, st := range t.states {
		cp := *st
		cp.Revision = 0
		m.Stages[s.String()] = &cp
	}
	t.mu.Unlock()

	data, err := yaml.Marshal(&m)
	if err != nil {
		return apperr.Wrap(apperr.KindIO, "marshal stages", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return apperr.WrapPath(apperr.KindIO, "write stages", path, err)
	}
	return nil
}

// Load восстанавливает состояние из YAML. Стадия, у которой отпечаток
// настроек не совпал, остаётся "никогда не запускалась". Счётчики
// настроек нового процесса начинаются с нуля, поэтому снимок ревизии
// берётся текущий.
func (t *Tracker) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return apperr.WrapPath(apperr.KindIO, "read stages", path, err)
	}

	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return apperr.WrapPath(apperr.KindConfig, "parse stages", path, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range Stages {
		st, ok := m.Stages[s.String()]
		if !ok || st == nil {
			continue
		}
		if st.Digest != t.digest(s) {
			t.log.Info().Str("stage", s.String()).Msg("Настройки изменились с прошлого запуска")
			continue
		}
		st.Revision = t.settings.Revision(t.deps[s])
		t.states[s] = st
	}
	return nil
}
