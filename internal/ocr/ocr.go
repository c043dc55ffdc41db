package ocr

import (
	"context"
	"strings"

	"mailmaestro/internal/logger"
	"mailmaestro/internal/mail"
	"mailmaestro/pkg/metrics"
)

// Engine turns one image into text.
type Engine interface {
	Text(image []byte) (string, error)
}

// Reader runs OCR over a message's image parts and joins the results.
// Failures on individual images are logged and skipped; a flyer that cannot
// be read never fails the message.
type Reader struct {
	engine Engine
	logger logger.Logger
}

func NewReader(engine Engine, log logger.Logger) *Reader {
	return &Reader{engine: engine, logger: log}
}

func (r *Reader) Text(ctx context.Context, images []mail.Attachment) string {
	var texts []string
	for _, img := range images {
		if ctx.Err() != nil {
			break
		}
		text, err := r.engine.Text(img.Content)
		if err != nil {
			r.logger.WarnwCtx(ctx, "OCR failed for image",
				"filename", img.Filename,
				"content_type", img.ContentType,
				"error", err,
			)
			metrics.OCRImagesTotal.WithLabelValues("error").Inc()
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			metrics.OCRImagesTotal.WithLabelValues("empty").Inc()
			continue
		}
		metrics.OCRImagesTotal.WithLabelValues("ok").Inc()
		texts = append(texts, text)
	}
	return strings.Join(texts, "\n\n")
}
