package main

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"go_analyzer/shutdown"
)

// resultName derives "<base>_result<ext>" from the uploaded file name,
// taking the extension from the result's content type when known.
func resultName(fileName, contentType string) string {
	base := strings.TrimSuffix(filepath.Base(fileName), filepath.Ext(fileName))
	if base == "" || base == "." || base == string(filepath.Separator) {
		base = "analysis"
	}
	return base + "_result" + extensionFor(contentType, filepath.Ext(fileName))
}

func extensionFor(contentType, fallback string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err == nil {
		switch mediaType {
		case "image/png":
			return ".png"
		case "image/jpeg":
			return ".jpg"
		case "image/gif":
			return ".gif"
		case "image/webp":
			return ".webp"
		}
		if exts, err := mime.ExtensionsByType(mediaType); err == nil && len(exts) > 0 {
			return exts[0]
		}
	}
	if fallback != "" {
		return fallback
	}
	return ".bin"
}

// writeAtomic writes data to dir/name through a ".part" file that is
// renamed into place once complete. Leftover partials are removed at
// shutdown.
func writeAtomic(dir, name string, data []byte) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}
	final := filepath.Join(dir, name)
	partial := final + shutdown.PartialSuffix

	if err := os.WriteFile(partial, data, 0o644); err != nil {
		os.Remove(partial)
		return "", fmt.Errorf("write %s: %w", filepath.Base(partial), err)
	}
	if err := os.Rename(partial, final); err != nil {
		os.Remove(partial)
		return "", fmt.Errorf("rename %s: %w", filepath.Base(partial), err)
	}
	return final, nil
}

// thumbnailName turns "x_result.jpg" into "x_result_thumb.png".
func thumbnailName(resultName string) string {
	return strings.TrimSuffix(resultName, filepath.Ext(resultName)) + "_thumb.png"
}
