// Package timing переводит настройки скорости в задержки кадров, строит
// огибающие анимации подписей и проверяет результат на ограничения площадок.
// Всё здесь - чистые функции без ввода-вывода.
package timing

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	// MinDelay: задержку 1 сотая часть браузеров трактует как "без паузы".
	MinDelay = 2

	SpeedMin = -10
	SpeedMax = 10
)

// FrameDelay возвращает задержку кадра в сотых долях секунды.
// Замедление (speed < 0) весит вдвое больше ускорения. Вся арифметика
// целочисленная, дробные части отбрасываются.
func FrameDelay(rate, speed int) int {
	if rate < 1 {
		rate = 1
	}
	speed = max(SpeedMin, min(SpeedMax, speed))

	base := 100 / rate
	magnitude := 1 + (abs(speed)*(base-1))/10

	delay := base
	switch {
	case speed < 0:
		delay += magnitude * 2
	case speed > 0:
		delay -= magnitude
	}
	return max(delay, MinDelay)
}

// TotalRuntime - длительность проигрывания count кадров с задержкой delay.
func TotalRuntime(delay, count int) time.Duration {
	return time.Duration(delay) * 10 * time.Millisecond * time.Duration(count)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// FrameTiming - индивидуальная задержка кадра Index (с нуля, как в convert -clone).
type FrameTiming struct {
	Index int
	Delay time.Duration
}

// Centiseconds - задержка в единицах GIF.
func (f FrameTiming) Centiseconds() int {
	return int(f.Delay / (10 * time.Millisecond))
}

// ParseFrameTimings разбирает строку вида "3:500,10:1200" (индекс:мс).
func ParseFrameTimings(s string) ([]FrameTiming, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	var out []FrameTiming
	for _, part := range strings.Split(s, ",") {
		idxStr, msStr, ok := strings.Cut(strings.TrimSpace(part), ":")
		if !ok {
			return nil, fmt.Errorf("неверный формат тайминга %q", part)
		}
		idx, err := strconv.Atoi(strings.TrimSpace(idxStr))
		if err != nil || idx < 0 {
			return nil, fmt.Errorf("неверный индекс кадра %q", idxStr)
		}
		ms, err := strconv.Atoi(strings.TrimSpace(msStr))
		if err != nil || ms < 0 {
			return nil, fmt.Errorf("неверная задержка %q", msStr)
		}
		out = append(out, FrameTiming{Index: idx, Delay: time.Duration(ms) * time.Millisecond})
	}
	return out, nil
}

var durationSplit = regexp.MustCompile(`[^0-9]+`)

// ParseDuration разбирает "HH:MM:SS.mmm". Дробная часть трактуется как
// доля секунды: "00:00:01.5" это 1500 мс.
func ParseDuration(s string) (time.Duration, error) {
	tokens := durationSplit.Split(strings.TrimSpace(s), -1)
	if len(tokens) < 3 || len(tokens) > 4 {
		return 0, fmt.Errorf("неверный формат времени %q", s)
	}

	var parts [3]int
	for i := range 3 {
		v, err := strconv.Atoi(tokens[i])
		if err != nil {
			return 0, fmt.Errorf("неверный формат времени %q", s)
		}
		parts[i] = v
	}

	ms := 0
	if len(tokens) == 4 && tokens[3] != "" {
		frac := tokens[3]
		if len(frac) > 3 {
			frac = frac[:3]
		}
		frac += strings.Repeat("0", 3-len(frac))
		ms, _ = strconv.Atoi(frac)
	}

	d := time.Duration(parts[0])*time.Hour +
		time.Duration(parts[1])*time.Minute +
		time.Duration(parts[2])*time.Second +
		time.Duration(ms)*time.Millisecond
	return d, nil
}

// FormatDuration - обратное к ParseDuration.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	ms := d.Milliseconds()
	h := ms / 3600000
	m := (ms % 3600000) / 60000
	sec := (ms % 60000) / 1000
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, sec, ms%1000)
}
