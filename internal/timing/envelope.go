package timing

import (
	"math"
	"math/rand/v2"
	"strings"
)

// AnimationKind - что именно анимирует огибающая.
type AnimationKind int

const (
	AnimOff AnimationKind = iota
	AnimBlink
	AnimLeftRight
	AnimUpDown
	AnimSubtleChange
)

// Waveform - форма базового сигнала. WaveFlat даёт постоянную единицу,
// это имеет смысл вместе с нарастанием или затуханием.
type Waveform int

const (
	WaveFlat Waveform = iota
	WaveSawtooth
	WaveTriangle
	WaveSquare
	WaveRandom
)

// Pace задаёт период сигнала в секундах.
type Pace int

const (
	PaceMedium Pace = iota
	PaceSlow
	PaceFast
)

func (p Pace) seconds() float64 {
	switch p {
	case PaceSlow:
		return 2
	case PaceFast:
		return 0.5
	default:
		return 1
	}
}

// Envelope полностью описывает анимацию подписи. Seed делает случайную
// форму воспроизводимой: одна и та же подпись даёт одни и те же значения
// при каждом рендере кадра.
type Envelope struct {
	Kind     AnimationKind
	Waveform Waveform
	Pace     Pace
	FadeIn   bool
	FadeOut  bool
	Seed     uint64
}

// ParseEnvelope собирает Envelope из строк файла настроек:
// animationEnvelope ("Triangle Fast", "Fade In Slow", "Off") и
// animationType ("Blink", "Left-Right", "Up-Down", "Subtle Change").
func ParseEnvelope(envelope, animationType string) Envelope {
	name := strings.ToLower(strings.TrimSpace(envelope))
	if name == "" || name == "off" {
		return Envelope{}
	}

	var e Envelope
	switch strings.ToLower(strings.TrimSpace(animationType)) {
	case "blink":
		e.Kind = AnimBlink
	case "left-right":
		e.Kind = AnimLeftRight
	case "up-down":
		e.Kind = AnimUpDown
	case "subtle change":
		e.Kind = AnimSubtleChange
	default:
		return Envelope{}
	}

	switch {
	case strings.Contains(name, "triangle"):
		e.Waveform = WaveTriangle
	case strings.Contains(name, "square"):
		e.Waveform = WaveSquare
	case strings.Contains(name, "random"):
		e.Waveform = WaveRandom
	case strings.Contains(name, "sawtooth"):
		e.Waveform = WaveSawtooth
	}

	switch {
	case strings.Contains(name, "slow"):
		e.Pace = PaceSlow
	case strings.Contains(name, "fast"):
		e.Pace = PaceFast
	}

	if strings.Contains(name, "fade") {
		e.FadeIn = strings.Contains(name, "in")
		e.FadeOut = strings.Contains(name, "out")
	}
	return e
}

func (e Envelope) Active() bool {
	return e.Kind != AnimOff
}

// shapes возвращает базовый период и пилу, по которой строятся нарастание
// и затухание.
func (e Envelope) shapes(fps int) (pattern, saw []float64) {
	if fps < 1 {
		fps = 1
	}
	duty := float64(fps) * e.Pace.seconds()
	step := int(math.Round(100 / duty))
	if step == 0 {
		step = 1
	}

	for x := 0; x <= 100; x += step {
		saw = append(saw, float64(x)/100)
	}
	if saw[len(saw)-1] != 1.0 {
		saw = append(saw, 1.0)
	}

	switch e.Waveform {
	case WaveSawtooth:
		pattern = saw
	case WaveTriangle:
		pattern = append([]float64(nil), saw...)
		for i := len(saw) - 2; i >= 1; i-- {
			pattern = append(pattern, saw[i])
		}
	case WaveSquare:
		n := int(duty)
		for range n {
			pattern = append(pattern, 1)
		}
		for range n {
			pattern = append(pattern, 0)
		}
		if len(pattern) == 0 {
			pattern = []float64{1, 0}
		}
	case WaveRandom:
		r := rand.New(rand.NewPCG(e.Seed, e.Seed^0x9e3779b97f4a7c15))
		pattern = make([]float64, 50)
		for i := range pattern {
			pattern[i] = float64(r.IntN(101)) / 100
		}
	default:
		pattern = []float64{1}
	}
	return pattern, saw
}

// Values возвращает значения огибающей для кадров 1..total. Вне диапазона
// [start, end] значение 0.
func (e Envelope) Values(start, end, total, fps int) []float64 {
	out := make([]float64, max(total, 0))
	if start < 1 {
		start = 1
	}
	n := end - start + 1
	if n <= 0 || total <= 0 {
		return out
	}

	pattern, saw := e.shapes(fps)
	env := make([]float64, n)
	for i := range env {
		env[i] = pattern[i%len(pattern)]
	}

	if e.FadeIn {
		for i := 0; i < min(len(saw), n); i++ {
			env[i] *= saw[i]
		}
	}
	if e.FadeOut {
		for i, si := n-1, 0; i >= 0 && si < len(saw); i, si = i-1, si+1 {
			env[i] *= saw[si]
		}
	}

	for i, v := range env {
		idx := start - 1 + i
		if idx >= total {
			break
		}
		out[idx] = v
	}
	return out
}

// At - значение огибающей на кадре frame (с единицы).
func (e Envelope) At(frame, start, end, total, fps int) float64 {
	if frame < 1 || frame > total {
		return 0
	}
	return e.Values(start, end, total, fps)[frame-1]
}

// Adjustment - поправки к подписи на конкретном кадре.
type Adjustment struct {
	Opacity float64 // множитель непрозрачности
	DX, DY  int
}

// Apply переводит значение огибающей в поправку для своего вида анимации.
func (e Envelope) Apply(v float64) Adjustment {
	adj := Adjustment{Opacity: 1}
	switch e.Kind {
	case AnimBlink:
		adj.Opacity = v
	case AnimLeftRight:
		adj.DX = int(-25 + 50*v)
	case AnimUpDown:
		adj.DY = int(-25 + 50*v)
	case AnimSubtleChange:
		move := int(-1 + 2*v)
		adj.DX, adj.DY = move, move
		adj.Opacity = 0.8 + 0.2*v
	}
	return adj
}
