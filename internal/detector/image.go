package detector

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/kozaktomas/face-scan/internal/landmark"
)

// ImageShape reads the dimensions and channel count from the image header
// without decoding the pixels.
func ImageShape(data []byte) (landmark.ImageShape, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return landmark.ImageShape{}, fmt.Errorf("failed to decode image config: %w", err)
	}
	return landmark.ImageShape{
		Height:   cfg.Height,
		Width:    cfg.Width,
		Channels: channels(cfg.ColorModel),
	}, nil
}

func channels(m color.Model) int {
	switch m {
	case color.GrayModel, color.Gray16Model:
		return 1
	case color.RGBAModel, color.RGBA64Model, color.NRGBAModel, color.NRGBA64Model:
		return 4
	case color.CMYKModel:
		return 4
	default:
		return 3
	}
}
