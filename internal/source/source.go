// Package source определяет, что за исходник передал пользователь
// (видео, ссылка, набор картинок, PDF), и извлекает кадры из источников,
// которые не нужно гнать через транскодер.
package source

import (
	"image"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/h2non/filetype"

	"github.com/ivlev/gifloop/internal/apperr"
	"github.com/ivlev/gifloop/internal/download"
	"github.com/ivlev/gifloop/internal/system"
)

// DefaultDPI - разрешение, с которым рендерятся страницы PDF.
const DefaultDPI = 150

type Kind int

const (
	KindVideo Kind = iota
	KindURL
	KindImages
	KindPDF
)

func (k Kind) String() string {
	switch k {
	case KindURL:
		return "url"
	case KindImages:
		return "images"
	case KindPDF:
		return "pdf"
	}
	return "video"
}

// Locator - разобранный исходник. Для набора картинок Paths содержит
// файлы в порядке кадров, для остальных - один путь.
type Locator struct {
	Kind  Kind
	Raw   string
	Paths []string
}

func (l Locator) Path() string {
	if len(l.Paths) == 0 {
		return l.Raw
	}
	return l.Paths[0]
}

// FromVideo - кадры даст транскодер. Для картинок и PDF кадры
// извлекаются без него.
func (l Locator) FromVideo() bool {
	return l.Kind == KindVideo || l.Kind == KindURL
}

// Classify определяет вид исходника. Поддерживаются ссылка, список
// файлов через "|", папка с картинками, PDF, картинка и видео.
func Classify(raw string) (Locator, error) {
	raw = strings.Trim(strings.TrimSpace(raw), `"`)
	if raw == "" {
		return Locator{}, apperr.New(apperr.KindConfig, "classify source", "не указан исходник")
	}
	if download.IsURL(raw) {
		return Locator{Kind: KindURL, Raw: raw}, nil
	}

	if strings.Contains(raw, "|") {
		var paths []string
		for _, p := range strings.Split(raw, "|") {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			if _, err := os.Stat(p); err != nil {
				return Locator{}, apperr.WrapPath(apperr.KindIO, "classify source", p, err)
			}
			paths = append(paths, p)
		}
		return Locator{Kind: KindImages, Raw: raw, Paths: paths}, nil
	}

	fi, err := os.Stat(raw)
	if err != nil {
		return Locator{}, apperr.WrapPath(apperr.KindIO, "classify source", raw, err)
	}
	if fi.IsDir() {
		paths, err := system.ListImages(raw)
		if err != nil {
			return Locator{}, apperr.WrapPath(apperr.KindIO, "classify source", raw, err)
		}
		if len(paths) == 0 {
			return Locator{}, apperr.New(apperr.KindDegenerate, "classify source", "в папке %s нет изображений", raw)
		}
		return Locator{Kind: KindImages, Raw: raw, Paths: paths}, nil
	}

	return Locator{Kind: sniff(raw), Raw: raw, Paths: []string{raw}}, nil
}

// sniff смотрит на заголовок файла, а если он ничего не говорит - на
// расширение. Всё непонятное отдаётся транскодеру.
func sniff(path string) Kind {
	head := make([]byte, 262)
	if f, err := os.Open(path); err == nil {
		n, _ := io.ReadFull(f, head)
		head = head[:n]
		f.Close()
	} else {
		head = nil
	}

	kind, _ := filetype.Match(head)
	switch {
	case kind.Extension == "pdf":
		return KindPDF
	case kind.Extension == "gif":
		// анимированный gif режет ffmpeg
		return KindVideo
	case filetype.IsImage(head):
		return KindImages
	case filetype.IsVideo(head):
		return KindVideo
	}

	switch {
	case strings.EqualFold(filepath.Ext(path), ".pdf"):
		return KindPDF
	case system.HasExt(path, system.ImageExts):
		return KindImages
	}
	return KindVideo
}

// Source - набор страниц или картинок, которые можно отрендерить по номеру.
type Source interface {
	Count() int
	Render(index int) (image.Image, error)
	Close() error
}

// Open открывает источник для Extract. Для видео и ссылок источника нет.
func (l Locator) Open() (Source, error) {
	switch l.Kind {
	case KindPDF:
		return NewPDF(l.Path(), DefaultDPI)
	case KindImages:
		return NewImageList(l.Paths), nil
	}
	return nil, apperr.New(apperr.KindPrecondition, "open source", "кадры %s извлекает транскодер", l.Kind)
}

// PDF - страницы документа как кадры.
type PDF struct {
	doc  *fitz.Document
	path string
	dpi  float64
}

func NewPDF(path string, dpi int) (*PDF, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, apperr.WrapPath(apperr.KindExtraction, "open pdf", path, err)
	}
	return &PDF{doc: doc, path: path, dpi: float64(dpi)}, nil
}

func (p *PDF) Count() int {
	return p.doc.NumPage()
}

// Render открывает документ заново: fitz.Document нельзя делить между
// горутинами.
func (p *PDF) Render(index int) (image.Image, error) {
	doc, err := fitz.New(p.path)
	if err != nil {
		return nil, err
	}
	defer doc.Close()
	return doc.ImageDPI(index, p.dpi)
}

func (p *PDF) Close() error {
	return p.doc.Close()
}
