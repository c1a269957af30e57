package service

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"bitwise74/attachment-api/pkg/validators"

	"go.uber.org/zap"
)

// VideoThumbnailGenerator grabs the first frame of a video with ffmpeg
type VideoThumbnailGenerator struct {
	ffmpeg string
}

// NewVideoThumbnailGenerator returns nil when no ffmpeg binary can be found,
// in which case videos simply get no thumbnail
func NewVideoThumbnailGenerator(ffmpegPath string) *VideoThumbnailGenerator {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}

	p, err := exec.LookPath(ffmpegPath)
	if err != nil {
		zap.L().Info("ffmpeg not found, video thumbnails disabled", zap.String("path", ffmpegPath))
		return nil
	}

	return &VideoThumbnailGenerator{ffmpeg: p}
}

func (g *VideoThumbnailGenerator) CanGenerate(contentType string) bool {
	return strings.HasPrefix(validators.BaseType(contentType), "video/")
}

func (g *VideoThumbnailGenerator) Format() (string, string) {
	return "jpg", "image/jpeg"
}

func (g *VideoThumbnailGenerator) Generate(ctx context.Context, source, target string, maxSide int) error {
	side := strconv.Itoa(maxSide)
	scale := "scale='if(gt(iw,ih),min(iw," + side + "),-2)':'if(gt(iw,ih),-2,min(ih," + side + "))'"

	args := []string{
		"-loglevel", "error",
		"-y",
		"-ss", "0",
		"-i", source,
		"-frames:v", "1",
		"-q:v", "3",
		"-vf", scale,
		"-f", "image2",
		target,
	}

	cmd := exec.CommandContext(ctx, g.ffmpeg, args...)

	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr

	zap.L().Debug("Running FFmpeg command", zap.String("cmd", cmd.String()))

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg failed: %w, %s", err, strings.TrimSpace(stderr.String()))
	}

	return nil
}
