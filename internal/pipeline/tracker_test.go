package pipeline

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivlev/gifloop/internal/config"
	"github.com/ivlev/gifloop/internal/frames"
)

type fakeOutput struct {
	mod   time.Time
	empty bool
}

func (f *fakeOutput) LastModified() time.Time { return f.mod }
func (f *fakeOutput) Empty() bool             { return f.empty }

type harness struct {
	tr       *Tracker
	settings *config.Settings
	outs     map[Stage]*fakeOutput
	clock    time.Time
}

func newHarness() *harness {
	h := &harness{
		settings: config.Defaults(),
		outs:     make(map[Stage]*fakeOutput),
		clock:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	outputs := make(map[Stage]Output)
	for _, s := range Stages {
		h.outs[s] = &fakeOutput{}
		outputs[s] = h.outs[s]
	}
	h.tr = NewTracker(h.settings, outputs, zerolog.Nop())
	h.tr.now = func() time.Time { return h.clock }
	return h
}

// run имитирует успешный прогон стадии: вывод записан "сейчас".
func (h *harness) run(stages ...Stage) {
	for _, s := range stages {
		h.outs[s].mod = h.clock
		h.tr.MarkRun(s)
		h.clock = h.clock.Add(time.Second)
	}
}

func TestNeverRunIsStale(t *testing.T) {
	h := newHarness()
	for _, s := range Stages {
		assert.Equal(t, []Reason{ReasonNeverRun}, h.tr.Reasons(s))
	}
	assert.Equal(t, []Stage{Extraction, Geometry}, h.tr.Plan(Geometry))
	assert.Equal(t, Stages, h.tr.Plan(Finalize))
}

func TestFreshStageNotStale(t *testing.T) {
	h := newHarness()
	h.run(Stages...)

	for _, s := range Stages {
		assert.False(t, h.tr.IsStale(s), s.String())
	}
	assert.Empty(t, h.tr.Plan(Finalize))
}

func TestDependencySettingMakesStale(t *testing.T) {
	h := newHarness()
	h.run(Stages...)

	require.True(t, h.settings.Set("rate", "frameRate", "20"))

	assert.Equal(t, []Reason{ReasonSettings}, h.tr.Reasons(Extraction))
	assert.False(t, h.tr.IsStale(Geometry), "сама по себе геометрия не зависит от frameRate")
	assert.Equal(t, Stages, h.tr.Plan(Finalize), "устаревание каскадом тянет все следующие стадии")
}

func TestUnrelatedSettingKeepsFresh(t *testing.T) {
	h := newHarness()
	h.run(Stages...)

	h.settings.Set("effects", "sepiaTone", "true")

	assert.False(t, h.tr.IsStale(Extraction))
	assert.False(t, h.tr.IsStale(Geometry))
	assert.True(t, h.tr.IsStale(Finalize))
	assert.Equal(t, []Stage{Finalize}, h.tr.Plan(Finalize))
}

func TestSameValueDoesNotMakeStale(t *testing.T) {
	h := newHarness()
	h.run(Stages...)

	h.settings.Set("rate", "frameRate", h.settings.Get("rate", "frameRate"))
	assert.False(t, h.tr.IsStale(Extraction))
}

func TestUpstreamNewerMakesStale(t *testing.T) {
	h := newHarness()
	h.run(Stages...)

	h.outs[Extraction].mod = h.clock.Add(time.Hour)

	assert.False(t, h.tr.IsStale(Extraction))
	assert.Contains(t, h.tr.Reasons(Geometry), ReasonUpstreamNewer)
	assert.Equal(t, []Stage{Geometry, Finalize}, h.tr.Plan(Finalize))
}

func TestUpstreamRerunMakesStale(t *testing.T) {
	h := newHarness()
	h.run(Stages...)
	h.run(Geometry)

	assert.Contains(t, h.tr.Reasons(Finalize), ReasonUpstreamRerun)
	assert.False(t, h.tr.IsStale(Geometry))
}

func TestEmptyOutputIsStale(t *testing.T) {
	h := newHarness()
	h.run(Stages...)
	h.outs[Finalize].empty = true

	assert.Equal(t, []Reason{ReasonEmptyOutput}, h.tr.Reasons(Finalize))
}

func TestMarkRunUsesOutputTimeIfAhead(t *testing.T) {
	h := newHarness()
	ahead := h.clock.Add(5 * time.Second)
	h.outs[Extraction].mod = ahead
	h.tr.MarkRun(Extraction)

	st, ok := h.tr.State(Extraction)
	require.True(t, ok)
	assert.Equal(t, ahead, st.LastRun)
}

func TestMarkFailedResetsLaterStages(t *testing.T) {
	h := newHarness()
	h.run(Stages...)

	h.tr.MarkFailed(Geometry)

	_, ok := h.tr.State(Extraction)
	assert.True(t, ok)
	for _, s := range []Stage{Geometry, Finalize} {
		_, ok := h.tr.State(s)
		assert.False(t, ok, s.String())
		assert.Equal(t, []Reason{ReasonNeverRun}, h.tr.Reasons(s))
	}
}

func TestDetectConflict(t *testing.T) {
	tests := []struct {
		name    string
		edit    bool
		change  bool
		wantHit bool
	}{
		{"ничего не менялось", false, false, false},
		{"только правки", true, false, false},
		{"только настройки", false, true, false},
		{"правки и настройки", true, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			h.run(Stages...)
			if tt.edit {
				h.outs[Extraction].mod = h.clock.Add(time.Minute)
			}
			if tt.change {
				h.settings.Set("length", "durationSec", "5")
			}
			c, ok := h.tr.DetectConflict()
			assert.Equal(t, tt.wantHit, ok)
			if ok {
				assert.True(t, c.EditedAt.After(c.LastExtraction))
			}
			assert.Equal(t, tt.change, h.tr.ExtractionSettingsChanged())
		})
	}
}

func TestNoConflictBeforeFirstExtraction(t *testing.T) {
	h := newHarness()
	h.outs[Extraction].mod = h.clock
	h.settings.Set("length", "durationSec", "5")

	_, ok := h.tr.DetectConflict()
	assert.False(t, ok)
}

func TestAcceptSettingsKeepsEdits(t *testing.T) {
	h := newHarness()
	h.run(Stages...)
	h.outs[Extraction].mod = h.clock.Add(time.Minute)
	h.settings.Set("length", "durationSec", "5")

	_, ok := h.tr.DetectConflict()
	require.True(t, ok)

	h.tr.AcceptSettings(Extraction)

	_, ok = h.tr.DetectConflict()
	assert.False(t, ok)
	assert.False(t, h.tr.IsStale(Extraction))
	assert.Equal(t, []Stage{Geometry, Finalize}, h.tr.Plan(Finalize), "правленые кадры всё равно идут дальше")
}

func TestSetDepsDoesNotLeakIntoDefaults(t *testing.T) {
	h := newHarness()
	h.tr.SetDeps(Finalize, []config.Dep{{Section: "effects", Key: "blur"}})

	assert.NotEqual(t, 1, len(DefaultDeps[Finalize]))
}

func TestSaveLoadRoundTrip(t *testing.T) {
	h := newHarness()
	h.run(Stages...)
	path := filepath.Join(t.TempDir(), "stages.yaml")
	require.NoError(t, h.tr.Save(path))

	// новый процесс: счётчики с нуля, те же значения настроек
	h2 := newHarness()
	for s, o := range h.outs {
		*h2.outs[s] = *o
	}
	require.NoError(t, h2.tr.Load(path))

	for _, s := range Stages {
		want, _ := h.tr.State(s)
		got, ok := h2.tr.State(s)
		require.True(t, ok, s.String())
		assert.True(t, want.LastRun.Equal(got.LastRun))
		assert.False(t, h2.tr.IsStale(s), s.String())
	}
}

func TestLoadDropsStagesWithChangedSettings(t *testing.T) {
	h := newHarness()
	h.run(Stages...)
	path := filepath.Join(t.TempDir(), "stages.yaml")
	require.NoError(t, h.tr.Save(path))

	h2 := newHarness()
	h2.settings.Set("length", "durationSec", "5")
	require.NoError(t, h2.tr.Load(path))

	_, ok := h2.tr.State(Extraction)
	assert.False(t, ok)
	_, ok = h2.tr.State(Geometry)
	assert.True(t, ok)
}

func TestLoadMissingManifest(t *testing.T) {
	h := newHarness()
	assert.NoError(t, h.tr.Load(filepath.Join(t.TempDir(), "nope.yaml")))
	assert.True(t, h.tr.IsStale(Extraction))
}

func TestStalenessOnRealSequences(t *testing.T) {
	root := t.TempDir()
	orig := frames.New(filepath.Join(root, "original"))
	resized := frames.New(filepath.Join(root, "resized"))
	require.NoError(t, orig.Ensure())
	require.NoError(t, resized.Ensure())

	past := time.Now().Add(-time.Hour)
	for i := 1; i <= 3; i++ {
		for _, seq := range []*frames.Sequence{orig, resized} {
			p := seq.Path(i)
			require.NoError(t, os.WriteFile(p, []byte{byte(i)}, 0644))
			require.NoError(t, os.Chtimes(p, past, past))
		}
	}
	require.NoError(t, os.Chtimes(orig.Dir(), past, past))
	require.NoError(t, os.Chtimes(resized.Dir(), past, past))

	tr := NewTracker(config.Defaults(), map[Stage]Output{Extraction: orig, Geometry: resized}, zerolog.Nop())
	tr.MarkRun(Extraction)
	tr.MarkRun(Geometry)
	require.False(t, tr.IsStale(Geometry))

	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(orig.Path(2), future, future))

	assert.Contains(t, tr.Reasons(Geometry), ReasonUpstreamNewer)
}
