package vision

import (
	"image"
	"os"
	"path/filepath"
	"strings"

	"github.com/fogleman/gg"
)

// JPEGQuality is used for .jpg outputs such as night composites
const JPEGQuality = 95

// SaveImage writes img as JPEG or PNG depending on the path extension,
// creating parent directories as needed.
func SaveImage(path string, img image.Image) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return gg.SaveJPG(path, img, JPEGQuality)
	default:
		return gg.SavePNG(path, img)
	}
}

// LoadImage decodes a PNG or JPEG file.
func LoadImage(path string) (image.Image, error) {
	return gg.LoadImage(path)
}
