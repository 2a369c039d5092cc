package effects

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/ivlev/gifloop/internal/apperr"
	"github.com/ivlev/gifloop/internal/config"
	"github.com/ivlev/gifloop/internal/frames"
	"github.com/ivlev/gifloop/internal/timing"
)

// MaxImageLayers - число слотов imagelayerN.
const MaxImageLayers = 1

const (
	LabelGeometry   = "Crop and Resize"
	LabelProcessing = "Applying Filters, Effects and Captions"
)

// GeometryInput - то, что стадия геометрии знает об исходнике.
type GeometryInput struct {
	SourceWidth, SourceHeight int
	KeyFrame                  string
	// Mask - файл маски синемаграфа. Пустая строка или отсутствующий
	// файл выключают смешивание.
	Mask string
}

// GeometryChain строит цепочку стадии геометрии: нормализация, синемаграф,
// обрезка, итоговый размер.
func GeometryChain(s *config.Settings, in GeometryInput) (Chain, error) {
	outW, outH, err := ParseSize(s.Get("size", "resizePostCrop"))
	if err != nil {
		return nil, err
	}
	chain := Chain{Normalize{Width: in.SourceWidth, Height: in.SourceHeight}}

	if s.GetBool("blend", "cinemagraph") && in.Mask != "" {
		if _, err := os.Stat(in.Mask); err == nil {
			chain = append(chain, Cinemagraph{
				KeyFrame:    in.KeyFrame,
				Mask:        in.Mask,
				Width:       in.SourceWidth,
				Height:      in.SourceHeight,
				Invert:      s.GetBool("blend", "cinemagraphInvert"),
				Transparent: s.GetBool("blend", "cinemagraphUseTransparency"),
			})
		}
	}

	if s.GetBool("size", "cropEnabled") {
		crop := Crop{
			X:      s.IntOr("size", "cropOffsetX", 0),
			Y:      s.IntOr("size", "cropOffsetY", 0),
			Width:  s.IntOr("size", "cropWidth", 0),
			Height: s.IntOr("size", "cropHeight", 0),
		}
		if crop.Width > 0 && crop.Height > 0 {
			chain = append(chain, crop)
		}
	}
	return append(chain, Resize{Width: outW, Height: outH}), nil
}

func FiltersFromSettings(s *config.Settings) Filters {
	return Filters{
		Brightness:      s.IntOr("effects", "brightness", 0),
		Contrast:        s.IntOr("effects", "contrast", 0),
		Sharpen:         s.GetBool("effects", "sharpen"),
		SharpenAmount:   s.IntOr("effects", "sharpenAmount", 0),
		OilPaint:        s.GetBool("effects", "oilPaint"),
		Saturation:      s.IntOr("color", "saturation", 0),
		Nashville:       s.GetBool("effects", "nashville"),
		NashvilleAmount: s.IntOr("effects", "nashvilleAmount", 0),
		Sepia:           s.GetBool("effects", "sepiaTone"),
		SepiaAmount:     s.IntOr("effects", "sepiaToneAmount", 0),
		Tint:            s.GetBool("effects", "colorTint"),
		TintAmount:      s.IntOr("effects", "colorTintAmount", 0),
		TintColor:       s.Get("effects", "colorTintColor"),
		FadeEdges:       s.GetBool("effects", "fadeEdges"),
		FadeEdgeAmount:  s.IntOr("effects", "fadeEdgeAmount", 0),
		Blur:            s.IntOr("effects", "blur", 0),
		Border:          s.GetBool("effects", "border"),
		BorderAmount:    s.IntOr("effects", "borderAmount", 0),
		BorderColor:     s.Get("effects", "borderColor"),
	}
}

// ProcessingChain строит цепочку стадии эффектов: подписи и картинки
// "до фильтров", фильтры, подписи и картинки "после", палитра. fonts
// может быть nil, тогда в -font уходит имя семейства.
func ProcessingChain(s *config.Settings, fonts FontCatalog, gif bool) (Chain, Filters, error) {
	filters := FiltersFromSettings(s)

	var pre, post Chain
	for slot := 1; slot <= MaxCaptions; slot++ {
		c, err := LoadCaption(s, slot, fonts)
		if err != nil {
			return nil, filters, err
		}
		if c == nil {
			continue
		}
		if c.BeforeFX {
			pre = append(pre, c)
		} else {
			post = append(post, c)
		}
	}

	var preBlit, postBlit Chain
	for slot := 1; slot <= MaxImageLayers; slot++ {
		b, err := LoadBlit(s, slot)
		if err != nil {
			return nil, filters, err
		}
		if b == nil {
			continue
		}
		if b.BeforeFX {
			preBlit = append(preBlit, b)
		} else {
			postBlit = append(postBlit, b)
		}
	}

	chain := append(Chain{}, pre...)
	chain = append(chain, preBlit...)
	chain = append(chain, filters)
	chain = append(chain, post...)
	chain = append(chain, postBlit...)
	chain = append(chain,
		Palette{
			ColorSpace: s.Get("color", "colorSpace"),
			Colors:     s.IntOr("color", "numColors", 255),
			GIF:        gif,
		},
		Format("png"),
	)
	return chain, filters, nil
}

// captionValue берёт ключ слота, а если его нет, значение из captiondefaults.
func captionValue(s *config.Settings, section, key, fallback string) string {
	if s.Exists(section, key) {
		return s.Get(section, key)
	}
	if fallback == "" {
		return ""
	}
	return s.Get("captiondefaults", fallback)
}

func atoiOr(v string, def int) int {
	n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimSpace(v), "pt"))
	if err != nil {
		return def
	}
	return n
}

// LoadCaption читает слот captionN. Пустой текст - nil без ошибки.
func LoadCaption(s *config.Settings, slot int, fonts FontCatalog) (*CaptionEffect, error) {
	sec := fmt.Sprintf("caption%d", slot)
	text := s.Get(sec, "text")
	if text == "" {
		return nil, nil
	}

	gravity, err := Gravity(captionValue(s, sec, "positioning", "position"))
	if err != nil {
		return nil, err
	}

	family := captionValue(s, sec, "font", "captionFont")
	style := captionValue(s, sec, "style", "fontStyle")
	font := family
	if fonts != nil {
		id, ok := fonts.ID(family, style)
		if !ok {
			return nil, apperr.New(apperr.KindConfig, "caption font", "шрифт не найден: %s (%s)", family, style)
		}
		font = id
	}

	opacity, err := strconv.ParseFloat(strings.TrimSpace(captionValue(s, sec, "opacity", "opacity")), 64)
	if err != nil {
		opacity = 100
	}

	env := timing.ParseEnvelope(s.Get(sec, "animationEnvelope"), s.Get(sec, "animationType"))
	env.Seed = uint64(slot)

	return &CaptionEffect{
		Slot:             slot,
		Text:             text,
		Font:             font,
		Size:             atoiOr(captionValue(s, sec, "size", "fontSize"), 24),
		Color:            captionValue(s, sec, "color", "fontColor"),
		OutlineColor:     captionValue(s, sec, "outlineColor", "outlineColor"),
		Outline:          atoiOr(captionValue(s, sec, "outlineThickness", "outlineSize"), 0),
		Opacity:          opacity,
		Gravity:          gravity,
		Margin:           s.IntOr("captiondefaults", "margin", 0),
		FrameStart:       atoiOr(s.Get(sec, "frameStart"), 1),
		FrameEnd:         atoiOr(s.Get(sec, "frameEnd"), frames.MaxFrames),
		InterlineSpacing: atoiOr(captionValue(s, sec, "interlineSpacing", "interlineSpacing"), 0),
		DropShadow:       config.ParseBool(captionValue(s, sec, "dropShadow", "dropShadow")),
		BeforeFX:         config.ParseBool(captionValue(s, sec, "applyFx", "applyFx")),
		Envelope:         env,
	}, nil
}

// LoadBlit читает слот imagelayerN. Пустой путь - nil без ошибки,
// отсутствующий файл - ошибка конфигурации.
func LoadBlit(s *config.Settings, slot int) (*BlitEffect, error) {
	sec := fmt.Sprintf("imagelayer%d", slot)
	path := s.Get(sec, "path")
	if path == "" {
		return nil, nil
	}
	if _, err := os.Stat(path); err != nil {
		return nil, apperr.WrapPath(apperr.KindConfig, "image layer", path, err)
	}
	gravity, err := Gravity(s.Get(sec, "positioning"))
	if err != nil {
		return nil, err
	}
	return &BlitEffect{
		Path:     path,
		Gravity:  gravity,
		Resize:   s.IntOr(sec, "resize", 100),
		Opacity:  s.IntOr(sec, "opacity", 100),
		XNudge:   s.IntOr(sec, "xNudge", 0),
		YNudge:   s.IntOr(sec, "yNudge", 0),
		BeforeFX: s.GetBool(sec, "applyFx"),
	}, nil
}
