package effects

import (
	"regexp"
	"slices"
	"strings"
)

var fontRe = regexp.MustCompile(`(?m)^\s*Font: (.+?)\n\s*family: (.+?)\n\s*style: (.+?)\n\s*stretch: (.+?)\n\s*weight: (.+?)\n\s*glyphs: (.+?)\n`)

// FontCatalog - шрифты convert, сгруппированные по семейству и начертанию
// (Regular, Bold, Italic, Bold Italic).
type FontCatalog map[string]map[string]string

// ParseFontList разбирает вывод "convert -list font". Растянутые шрифты
// и необычные веса пропускаются.
func ParseFontList(data string) FontCatalog {
	cat := FontCatalog{}
	for _, m := range fontRe.FindAllStringSubmatch(data, -1) {
		id := strings.TrimSpace(m[1])
		family := strings.TrimSpace(m[2])
		style := strings.TrimSpace(m[3])
		stretch := strings.TrimSpace(m[4])
		weight := strings.TrimSpace(m[5])

		if family == "unknown" || stretch != "Normal" {
			continue
		}
		var overall string
		switch {
		case style == "Normal" && weight == "400":
			overall = "Regular"
		case style == "Normal" && weight == "700":
			overall = "Bold"
		case style == "Italic" && weight == "400":
			overall = "Italic"
		case style == "Italic" && weight == "700":
			overall = "Bold Italic"
		default:
			continue
		}
		if cat[family] == nil {
			cat[family] = map[string]string{}
		}
		cat[family][overall] = id
	}
	return cat
}

func (c FontCatalog) Families() []string {
	out := make([]string, 0, len(c))
	for f := range c {
		out = append(out, f)
	}
	slices.Sort(out)
	return out
}

// ID возвращает имя шрифта для -font.
func (c FontCatalog) ID(family, style string) (string, bool) {
	id, ok := c[family][style]
	return id, ok
}

// BestFamily - выбор пользователя, если такой шрифт есть, иначе первый
// из привычных, иначе первый по алфавиту.
func (c FontCatalog) BestFamily(choice string) string {
	for _, f := range []string{choice, "Impact", "Arial Rounded MT Bold", "Arial"} {
		if _, ok := c[f]; ok && f != "" {
			return f
		}
	}
	if fams := c.Families(); len(fams) > 0 {
		return fams[0]
	}
	return ""
}
