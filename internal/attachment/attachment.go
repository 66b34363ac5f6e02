// Package attachment prepares registration photos for upload.
package attachment

import (
	"bytes"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"

	"github.com/basculapp/fieldsync/internal/errors"
	"github.com/basculapp/fieldsync/internal/logging"
)

// Upload dimensions. The OCR pipeline reads printed scale labels, which stay
// legible well below full sensor resolution.
const (
	maxUploadWidth = 1600

	qualityGood = 85
	qualityPoor = 60

	// Score below which the poor-connectivity quality applies.
	goodScoreThreshold = 70
)

// Prepared is a photo ready for upload.
type Prepared struct {
	Filename string
	Data     []byte
	Width    int
	Height   int
}

// Prepare loads the photo at path, downscales it to the upload width and
// re-encodes it as JPEG. A low connectivity score selects a smaller encoding
// so uploads survive weak links.
func Prepare(path string, connectivityScore int) (*Prepared, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrNotFound, "photo file missing: "+path, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInvalid, "failed to decode photo", err)
	}

	bounds := img.Bounds()
	if bounds.Dx() > maxUploadWidth {
		// Height 0 preserves the aspect ratio.
		img = imaging.Resize(img, maxUploadWidth, 0, imaging.Lanczos)
		bounds = img.Bounds()
	}

	quality := qualityGood
	if connectivityScore < goodScoreThreshold {
		quality = qualityPoor
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, errors.Wrap(errors.ErrInternal, "failed to encode photo", err)
	}

	prepared := &Prepared{
		Filename: jpegName(path),
		Data:     buf.Bytes(),
		Width:    bounds.Dx(),
		Height:   bounds.Dy(),
	}

	logging.Debug("Photo prepared for upload", map[string]interface{}{
		"path":    path,
		"width":   prepared.Width,
		"height":  prepared.Height,
		"quality": quality,
		"bytes":   len(prepared.Data),
	})
	return prepared, nil
}

func jpegName(path string) string {
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	if ext != "" {
		base = base[:len(base)-len(ext)]
	}
	return base + ".jpg"
}
