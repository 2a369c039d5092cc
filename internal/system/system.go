// Package system - всё, что касается хоста: запуск внешних программ,
// ресурсы машины, поиск файлов и пул буферов изображений.
package system

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

var (
	VideoExts = []string{".mp4", ".mov", ".avi", ".mkv", ".webm", ".flv", ".wmv", ".m4v", ".3gp", ".mpg", ".mpeg", ".gif"}
	ImageExts = []string{".jpg", ".jpeg", ".png", ".bmp", ".tif", ".tiff", ".webp"}
	AudioExts = []string{".mp3", ".wav", ".m4a", ".ogg", ".aac", ".flac"}
)

// HasExt сообщает, что расширение пути (без учёта регистра) есть в exts.
func HasExt(path string, exts []string) bool {
	return slices.Contains(exts, strings.ToLower(filepath.Ext(path)))
}

// FindLatest возвращает самый свежий файл папки с одним из расширений exts.
func FindLatest(dir string, exts []string) (string, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}

	var latestFile string
	var latestTime time.Time

	for _, f := range files {
		if f.IsDir() || !HasExt(f.Name(), exts) {
			continue
		}
		info, err := f.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(latestTime) {
			latestTime = info.ModTime()
			latestFile = filepath.Join(dir, f.Name())
		}
	}

	if latestFile == "" {
		return "", fmt.Errorf("в папке %s не найдено подходящих файлов (%s)", dir, strings.Join(exts, " "))
	}
	return latestFile, nil
}

// FindLatestVideo - самое свежее видео в папке.
func FindLatestVideo(dir string) (string, error) {
	return FindLatest(dir, VideoExts)
}

// ListImages возвращает картинки папки по алфавиту. Так папка с
// кадрами превращается в список для импорта или извлечения.
func ListImages(dir string) ([]string, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, f := range files {
		if !f.IsDir() && HasExt(f.Name(), ImageExts) {
			out = append(out, filepath.Join(dir, f.Name()))
		}
	}
	slices.Sort(out)
	return out, nil
}

// NextOutputPath возвращает path, если такого файла ещё нет или
// разрешена перезапись. Иначе первый свободный вариант name001.ext,
// name002.ext и так далее.
func NextOutputPath(path string, overwrite bool) string {
	if overwrite {
		return path
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return path
	}
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	for idx := 1; ; idx++ {
		candidate := fmt.Sprintf("%s%03d%s", base, idx, ext)
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}
