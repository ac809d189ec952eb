package classifier

import (
	"bytes"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// EncodeJPEG downsizes img to fit within maxSide (0 disables resizing) and
// encodes it as JPEG for upload.
func EncodeJPEG(img image.Image, maxSide, quality int) ([]byte, error) {
	if img == nil {
		return nil, fmt.Errorf("%w: nil frame", ErrClassifier)
	}
	b := img.Bounds()
	if maxSide > 0 && (b.Dx() > maxSide || b.Dy() > maxSide) {
		img = imaging.Fit(img, maxSide, maxSide, imaging.Lanczos)
	}
	if quality <= 0 || quality > 100 {
		quality = 85
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return buf.Bytes(), nil
}
