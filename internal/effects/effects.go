// Package effects собирает аргументы convert для обработки одного кадра:
// обрезку и масштаб, синемаграф, фильтры, подписи и наложенные картинки.
// Сами эффекты рисует convert, здесь только строки параметров.
package effects

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ivlev/gifloop/internal/apperr"
	"github.com/ivlev/gifloop/internal/system"
)

// Frame - то, что эффект знает о текущем кадре.
type Frame struct {
	Index int // с единицы
	Total int
	FPS   int
	// BorderOffset - толщина рамки: подписи у края отодвигаются на неё.
	BorderOffset int
}

// Effect добавляет свои аргументы в команду обработки кадра. Пустой
// срез означает, что на этом кадре эффект ничего не делает.
type Effect interface {
	GenerateArgs(f Frame) []string
}

// Chain - эффекты в порядке применения.
type Chain []Effect

func (c Chain) GenerateArgs(f Frame) []string {
	var args []string
	for _, e := range c {
		args = append(args, e.GenerateArgs(f)...)
	}
	return args
}

// Command собирает полную команду convert для кадра. Метка с процентом
// уходит в -comment, по ней Runner показывает прогресс.
func Command(label, in, out string, f Frame, chain Chain) []string {
	pct := 0
	if f.Total > 0 {
		pct = min(f.Total, f.Index-1) * 100 / f.Total
	}
	args := system.CommentArgs(label, pct)
	args = append(args, "-comment", "gifloop", in)
	args = append(args, chain.GenerateArgs(f)...)
	return append(args, out)
}

// ReScale переводит val из шкалы [oldMin, oldMax] в [newMin, newMax].
// Деление целочисленное.
func ReScale(val, oldMin, oldMax, newMin, newMax int) int {
	if oldMax == oldMin {
		return newMin
	}
	return (val-oldMin)*(newMax-newMin)/(oldMax-oldMin) + newMin
}

var gravities = map[string]string{
	"top left":     "NorthWest",
	"top":          "North",
	"top right":    "NorthEast",
	"middle left":  "West",
	"center":       "Center",
	"middle right": "East",
	"bottom left":  "SouthWest",
	"bottom":       "South",
	"bottom right": "SouthEast",
}

// Gravity переводит положение из настроек ("Bottom Left") в -gravity convert.
func Gravity(position string) (string, error) {
	g, ok := gravities[strings.ToLower(strings.TrimSpace(position))]
	if !ok {
		return "", apperr.New(apperr.KindConfig, "gravity", "неизвестное положение %q", position)
	}
	return g, nil
}

// ParseSize разбирает "360x360".
func ParseSize(s string) (w, h int, err error) {
	ws, hs, ok := strings.Cut(strings.ToLower(strings.TrimSpace(s)), "x")
	if ok {
		w, err = strconv.Atoi(ws)
		if err == nil {
			h, err = strconv.Atoi(hs)
		}
	}
	if !ok || err != nil || w < 1 || h < 1 {
		return 0, 0, apperr.New(apperr.KindConfig, "parse size", "размер %q должен быть вида 360x360", s)
	}
	return w, h, nil
}

func offset(x, y int) string {
	return fmt.Sprintf("%+d%+d", x, y)
}

func dims(w, h int) string {
	return fmt.Sprintf("%dx%d!", w, h)
}
