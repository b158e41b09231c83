package utils

import (
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

func GetRandomUserAgent() string {
	return userAgents[time.Now().UnixNano()%int64(len(userAgents))]
}

// RenewName returns name, or name-(N).ext with the lowest N for which taken reports false.
func RenewName(name string, taken func(string) bool) string {
	if !taken(name) {
		return name
	}
	ext := filepath.Ext(name)
	base := name[:len(name)-len(ext)]
	index := 1
	for {
		candidate := fmt.Sprintf("%s-(%d)%s", base, index, ext)
		if !taken(candidate) {
			return candidate
		}
		index++
	}
}

func RenewOutputPath(outputPath string) string {
	dir := filepath.Dir(outputPath)
	name := RenewName(filepath.Base(outputPath), func(candidate string) bool {
		_, err := os.Stat(filepath.Join(dir, candidate))
		return !os.IsNotExist(err)
	})
	return filepath.Join(dir, name)
}

func ParseHeaderArgs(headers []string) map[string]string {
	result := make(map[string]string)
	for _, header := range headers {
		parts := strings.SplitN(header, ":", 2)
		if len(parts) == 2 {
			key := strings.TrimSpace(parts[0])
			value := strings.TrimSpace(parts[1])
			result[key] = value
		}
	}
	return result
}

var (
	unsafeNameChars = regexp.MustCompile(`[\\/:*?"<>|]+`)
	spaceRuns       = regexp.MustCompile(`\s+`)
)

// SanitizeName makes a title safe to use as a file name.
func SanitizeName(title string) string {
	name := unsafeNameChars.ReplaceAllString(title, "_")
	name = strings.TrimSpace(spaceRuns.ReplaceAllString(name, " "))
	if name == "" {
		name = "download"
	}
	if r := []rune(name); len(r) > MaxNameLength {
		name = strings.TrimSpace(string(r[:MaxNameLength]))
	}
	return name
}

// ExtensionFromURL returns the lower-cased extension of the URL path, or fallback.
func ExtensionFromURL(rawURL, fallback string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fallback
	}
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(u.Path)), ".")
	if ext == "" || len(ext) > 5 {
		return fallback
	}
	return ext
}

func DeriveFileName(title, episode, mediaURL, fallbackExt string) string {
	base := title
	if base == "" {
		base = "video"
	}
	if episode != "" {
		base = base + " " + episode
	}
	return SanitizeName(base) + "." + ExtensionFromURL(mediaURL, fallbackExt)
}

func FormatBytes(bytes uint64) string {
	return humanize.IBytes(bytes)
}

func FormatSpeed(bytes int64, elapsed float64) string {
	if elapsed <= 0 || bytes <= 0 {
		return "0 B/s"
	}
	return humanize.IBytes(uint64(float64(bytes)/elapsed)) + "/s"
}

// CleanTemp removes leftover partial files under root's temp directory.
func CleanTemp(root string) (int, error) {
	tempDir := filepath.Join(root, TempDirName)
	files, err := os.ReadDir(tempDir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, file := range files {
		if !strings.HasSuffix(file.Name(), PartSuffix) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(tempDir, file.Name())); err != nil {
			return removed, err
		}
		removed++
	}
	remaining, err := os.ReadDir(tempDir)
	if err != nil {
		return removed, err
	}
	if len(remaining) == 0 {
		if err := os.Remove(tempDir); err != nil {
			return removed, err
		}
	}
	return removed, nil
}
