package service

import (
	"context"
	"os"
	"path/filepath"

	"bitwise74/attachment-api/internal/metrics"
	"bitwise74/attachment-api/internal/model"
	"bitwise74/attachment-api/internal/storage"

	"go.uber.org/zap"
)

// ThumbnailGenerator produces a preview for the content types it claims
type ThumbnailGenerator interface {
	CanGenerate(contentType string) bool
	Generate(ctx context.Context, source, target string, maxSide int) error
	// Format returns the extension and content type of the produced file
	Format() (ext string, contentType string)
}

type ThumbnailResult struct {
	Status      model.ThumbnailStatus
	Filename    string
	ContentType string
	Size        int64
}

// ThumbnailPipeline picks the first generator that claims a content type
type ThumbnailPipeline struct {
	generators []ThumbnailGenerator
	files      *storage.FileStore
}

func NewThumbnailPipeline(files *storage.FileStore, generators ...ThumbnailGenerator) *ThumbnailPipeline {
	return &ThumbnailPipeline{
		generators: generators,
		files:      files,
	}
}

func (p *ThumbnailPipeline) generatorFor(contentType string) ThumbnailGenerator {
	for _, g := range p.generators {
		if g.CanGenerate(contentType) {
			return g
		}
	}

	return nil
}

// Claims reports whether any generator accepts the content type
func (p *ThumbnailPipeline) Claims(contentType string) bool {
	return p.generatorFor(contentType) != nil
}

// GenerateFor creates the thumbnail of source inside dir. Failures never
// leave the pipeline, they come back as a FAILED result.
func (p *ThumbnailPipeline) GenerateFor(ctx context.Context, contentType, source, dir, storedFilename string, maxSide int) (res ThumbnailResult) {
	g := p.generatorFor(contentType)
	if g == nil {
		return ThumbnailResult{Status: model.ThumbnailNone}
	}

	ext, thumbType := g.Format()
	name := storage.ThumbnailName(storedFilename, ext)
	target := filepath.Join(dir, name)

	if err := os.MkdirAll(dir, 0o750); err != nil {
		zap.L().Warn("Failed to create thumbnail directory", zap.String("dir", dir), zap.Error(err))
		metrics.Thumbnails.WithLabelValues(string(model.ThumbnailFailed)).Inc()
		return ThumbnailResult{Status: model.ThumbnailFailed}
	}

	defer func() {
		if r := recover(); r != nil {
			zap.L().Error("Thumbnail generator panicked",
				zap.String("source", source),
				zap.Any("panic", r))
			p.discard(target)
			res = ThumbnailResult{Status: model.ThumbnailFailed}
		}

		metrics.Thumbnails.WithLabelValues(string(res.Status)).Inc()
	}()

	if err := g.Generate(ctx, source, target, maxSide); err != nil {
		zap.L().Warn("Failed to generate thumbnail",
			zap.String("source", source),
			zap.String("content_type", contentType),
			zap.Error(err))
		p.discard(target)
		return ThumbnailResult{Status: model.ThumbnailFailed}
	}

	stat, err := os.Stat(target)
	if err != nil {
		zap.L().Warn("Thumbnail generator produced no file", zap.String("target", target), zap.Error(err))
		return ThumbnailResult{Status: model.ThumbnailFailed}
	}

	return ThumbnailResult{
		Status:      model.ThumbnailReady,
		Filename:    name,
		ContentType: thumbType,
		Size:        stat.Size(),
	}
}

func (p *ThumbnailPipeline) discard(path string) {
	if err := p.files.Delete(path); err != nil {
		zap.L().Error("Failed to remove partial thumbnail", zap.String("path", path), zap.Error(err))
	}
}

// CanPreviewOriginal reports whether the original file can be served
// in place of a missing thumbnail
func (p *ThumbnailPipeline) CanPreviewOriginal(contentType string) bool {
	for _, g := range p.generators {
		if _, ok := g.(*ImageThumbnailGenerator); ok && g.CanGenerate(contentType) {
			return true
		}
	}

	return false
}
