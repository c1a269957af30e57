package service

import (
	"context"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"os"

	"bitwise74/attachment-api/pkg/validators"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

const (
	thumbnailQuality = 82
	// Refuse to decode images that would need more memory than this
	maxDecodePixels = 40_000_000
)

var imageContentTypes = []string{
	"image/jpeg",
	"image/png",
	"image/gif",
	"image/webp",
	"image/bmp",
	"image/tiff",
}

// ImageThumbnailGenerator scales raster images down to a JPEG preview
type ImageThumbnailGenerator struct{}

func NewImageThumbnailGenerator() *ImageThumbnailGenerator {
	return &ImageThumbnailGenerator{}
}

func (g *ImageThumbnailGenerator) CanGenerate(contentType string) bool {
	base := validators.BaseType(contentType)
	for _, t := range imageContentTypes {
		if t == base {
			return true
		}
	}

	return false
}

func (g *ImageThumbnailGenerator) Format() (string, string) {
	return "jpg", "image/jpeg"
}

func (g *ImageThumbnailGenerator) Generate(ctx context.Context, source, target string, maxSide int) error {
	if maxSide <= 0 {
		return fmt.Errorf("invalid max side %d", maxSide)
	}

	in, err := os.Open(source)
	if err != nil {
		return fmt.Errorf("failed to open source image, %w", err)
	}
	defer in.Close()

	cfg, _, err := image.DecodeConfig(in)
	if err != nil {
		return fmt.Errorf("failed to read image header, %w", err)
	}

	if cfg.Width*cfg.Height > maxDecodePixels {
		return fmt.Errorf("image too large to thumbnail, %dx%d", cfg.Width, cfg.Height)
	}

	if _, err := in.Seek(0, 0); err != nil {
		return err
	}

	src, _, err := image.Decode(in)
	if err != nil {
		return fmt.Errorf("failed to decode image, %w", err)
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	w, h := fit(src.Bounds().Dx(), src.Bounds().Dy(), maxSide)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))

	// JPEG has no alpha, flatten onto white
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)

	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o640)
	if err != nil {
		return fmt.Errorf("failed to create thumbnail file, %w", err)
	}

	err = jpeg.Encode(out, dst, &jpeg.Options{Quality: thumbnailQuality})
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("failed to encode thumbnail, %w", err)
	}

	return nil
}

// fit scales w x h so the longest side is at most maxSide. Small images
// keep their size.
func fit(w, h, maxSide int) (int, int) {
	if w <= maxSide && h <= maxSide {
		return max(w, 1), max(h, 1)
	}

	if w >= h {
		return maxSide, max(h*maxSide/w, 1)
	}

	return max(w*maxSide/h, 1), maxSide
}
