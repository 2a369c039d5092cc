// Package pipeline отслеживает, какие стадии конвейера устарели
// относительно настроек и ручных правок кадров на диске.
package pipeline

import (
	"fmt"

	"github.com/ivlev/gifloop/internal/config"
)

// Stage - стадия конвейера. Порядок строгий: каждая следующая зависит от
// всех предыдущих.
type Stage int

const (
	Extraction Stage = iota
	Geometry
	Finalize
)

var Stages = []Stage{Extraction, Geometry, Finalize}

func (s Stage) String() string {
	switch s {
	case Extraction:
		return "extraction"
	case Geometry:
		return "geometry"
	case Finalize:
		return "finalize"
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// Title - подпись для пользователя.
func (s Stage) Title() string {
	switch s {
	case Extraction:
		return "Извлечение кадров"
	case Geometry:
		return "Обрезка и масштаб"
	case Finalize:
		return "Эффекты и сборка"
	}
	return s.String()
}

func (s Stage) Valid() bool {
	return s >= Extraction && s <= Finalize
}

// Псевдо-ключи, которые движок дёргает сам: смена источника и
// редактирование маски синемаграфа.
const (
	SectionSource = "source"
	SectionMask   = "mask"
)

// DefaultDeps - какие настройки влияют на какую стадию.
var DefaultDeps = map[Stage][]config.Dep{
	Extraction: {
		{Section: SectionSource},
		{Section: "rate", Key: "frameRate"},
		{Section: "length", Key: "startTime"},
		{Section: "length", Key: "durationSec"},
		{Section: "settings", Key: "fixSlowdownGlitch"},
		{Section: "settings", Key: "autoDeleteDuplicateFrames"},
	},
	Geometry: {
		{Section: SectionMask},
		{Section: "blend"},
		{Section: "size", Key: "cropEnabled"},
		{Section: "size", Key: "cropOffsetX"},
		{Section: "size", Key: "cropOffsetY"},
		{Section: "size", Key: "cropWidth"},
		{Section: "size", Key: "cropHeight"},
		{Section: "size", Key: "resizePostCrop"},
	},
	Finalize: {
		{Section: "effects"},
		{Section: "color"},
		{Section: "caption*"},
		{Section: "imagelayer*"},
		{Section: "audio"},
		{Section: "rate", Key: "speedModifier"},
		{Section: "rate", Key: "numLoops"},
		{Section: "rate", Key: "customFrameTimingMs"},
		{Section: "size", Key: "fileOptimizer"},
		{Section: "paths", Key: "gifOutputPath"},
	},
}
