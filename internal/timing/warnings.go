package timing

import (
	"fmt"
	"time"
)

type Platform string

const (
	Tumblr    Platform = "tumblr"
	Imgur     Platform = "imgur"
	Twitter   Platform = "twitter"
	GPlus     Platform = "gplus"
	Instagram Platform = "instagram"
	Facebook  Platform = "facebook"
	Vine      Platform = "vine"
)

// AllPlatforms в порядке вывода предупреждений.
var AllPlatforms = []Platform{Tumblr, Imgur, Twitter, GPlus, Instagram, Facebook, Vine}

// Metrics - параметры готового файла, по которым проверяются правила.
type Metrics struct {
	Width      int
	Height     int
	FrameCount int
	Runtime    time.Duration
	SizeBytes  int64
}

func (m Metrics) aspect() float64 {
	if m.Height == 0 {
		return 0
	}
	return float64(m.Width) / float64(m.Height)
}

const kib = 1024

// Rule - одно ограничение площадки. Правило с Followup срабатывает, только
// если у той же площадки уже сработало обычное правило.
type Rule struct {
	Platform Platform
	Followup bool
	Violated func(Metrics) bool
	Message  func(Metrics) string
}

func static(msg string) func(Metrics) string {
	return func(Metrics) string { return msg }
}

// Rules - таблица ограничений. Пороги взяты из требований площадок на
// момент написания и могли устареть.
var Rules = []Rule{
	{
		Platform: Tumblr,
		Violated: func(m Metrics) bool { return m.Width > 540 || m.Height > 750 },
		Message: func(m Metrics) string {
			return fmt.Sprintf("Tumblr: размер %dx%d больше допустимого 540x750", m.Width, m.Height)
		},
	},
	{
		Platform: Tumblr,
		Violated: func(m Metrics) bool { return m.SizeBytes >= 2000*kib },
		Message: func(m Metrics) string {
			return fmt.Sprintf("Tumblr: файл %d КБ, нужно меньше 2000 КБ", m.SizeBytes/kib)
		},
	},
	{
		Platform: Imgur,
		Violated: func(m Metrics) bool { return m.SizeBytes >= 2*kib*kib },
		Message: func(m Metrics) string {
			return fmt.Sprintf("Imgur: файл %d КБ, без премиум-аккаунта нужно меньше 2 МБ", m.SizeBytes/kib)
		},
	},
	{
		Platform: Twitter,
		Violated: func(m Metrics) bool { return m.SizeBytes >= 5*kib*kib },
		Message: func(m Metrics) string {
			return fmt.Sprintf("Twitter: файл %d КБ, нужно меньше 5 МБ", m.SizeBytes/kib)
		},
	},
	{
		Platform: Twitter,
		Violated: func(m Metrics) bool { return m.FrameCount > 350 },
		Message:  static("Twitter: не больше 350 кадров"),
	},
	{
		Platform: Twitter,
		Followup: true,
		Violated: func(m Metrics) bool {
			return !(m.Width == 506 && (m.Height == 506 || m.Height == 253))
		},
		Message: static("Twitter: рекомендуемые размеры 506x506 или 506x253"),
	},
	{
		Platform: GPlus,
		Violated: func(m Metrics) bool { return m.Width < 496 || m.Height < 496 || m.aspect() != 1.0 },
		Message:  static("Google Plus: рекомендуемый размер 496x496"),
	},
	{
		Platform: Instagram,
		Violated: func(m Metrics) bool { return m.Width != 600 || m.Height != 600 },
		Message:  static("Instagram: рекомендуемый размер 600x600"),
	},
	{
		Platform: Instagram,
		Violated: func(m Metrics) bool { return m.Runtime > 15*time.Second },
		Message:  static("Instagram: длительность не больше 15 секунд"),
	},
	{
		Platform: Facebook,
		Violated: func(m Metrics) bool { return m.Width != 504 || m.Height != 283 },
		Message:  static("Facebook: рекомендуемый размер 504x283"),
	},
	{
		Platform: Vine,
		Violated: func(m Metrics) bool { return m.Width != 480 || m.Height != 480 },
		Message:  static("Vine: обязательный размер 480x480"),
	},
	{
		Platform: Vine,
		Violated: func(m Metrics) bool { return m.Runtime > 6*time.Second },
		Message:  static("Vine: длительность не больше 6 секунд"),
	},
	{
		Platform: Vine,
		Violated: func(m Metrics) bool { return m.SizeBytes >= 1500*kib },
		Message:  static("Vine: файл должен быть меньше 1.5 МБ"),
	},
}

// CompatibilityWarnings прогоняет таблицу Rules по включённым площадкам и
// возвращает сообщения нарушенных правил в порядке таблицы.
func CompatibilityWarnings(m Metrics, enabled []Platform) []string {
	return checkRules(Rules, m, enabled)
}

func checkRules(rules []Rule, m Metrics, enabled []Platform) []string {
	on := make(map[Platform]bool, len(enabled))
	for _, p := range enabled {
		on[p] = true
	}

	fired := make(map[Platform]bool)
	var out []string
	for _, r := range rules {
		if !on[r.Platform] {
			continue
		}
		if r.Followup && !fired[r.Platform] {
			continue
		}
		if r.Violated(m) {
			if !r.Followup {
				fired[r.Platform] = true
			}
			out = append(out, r.Message(m))
		}
	}
	return out
}
