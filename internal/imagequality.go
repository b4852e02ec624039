package internal

import (
	"bytes"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
)

// minImageDimension rejects photos too small for the vision model to read
// reliably; below this the shelf's spine text is assumed illegible.
const minImageDimension = 200

// BasicImageQualityChecker rejects bookshelf photos that are truncated,
// unparseable, or too small, before spending a vision-API call on them
// during the scan pipeline's "quality check" stage. It is a local, cheap pre-filter — unlike
// VisionClient/CSVExtractor, nothing about image quality assessment is an
// out-of-scope external collaborator.
type BasicImageQualityChecker struct{}

func (BasicImageQualityChecker) Check(data []byte) error {
	if len(data) == 0 {
		return NewError(KindValidation, "EMPTY_IMAGE", "image is empty")
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Wrap(KindValidation, "UNREADABLE_IMAGE", "could not decode image", err)
	}
	if cfg.Width < minImageDimension || cfg.Height < minImageDimension {
		return NewError(KindValidation, "IMAGE_TOO_SMALL", "image resolution is too low to scan")
	}
	return nil
}

var _ ImageQualityChecker = (*BasicImageQualityChecker)(nil)
