package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/spec-kit/interview-prep-service/internal/config"
	"github.com/spec-kit/interview-prep-service/internal/storage"
	apperrors "github.com/spec-kit/interview-prep-service/pkg/util/errorutil"
)

const defaultMaxUploadBytes int64 = 5 << 20

// sniffLen is how much of the body http.DetectContentType inspects.
const sniffLen = 512

var errUnsupportedImage = apperrors.NewValidationError("Only .jpeg, .jpg and .png formats are allowed", nil)

// UploadInput describes an image received from a client.
type UploadInput struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// MediaService validates and stores profile images.
type MediaService struct {
	store    storage.ObjectStore
	maxBytes int64
	allowed  map[string]struct{}
	logger   *zap.Logger
	now      func() time.Time
}

// NewMediaService creates the service.
func NewMediaService(store storage.ObjectStore, cfg config.StorageConfig, logger *zap.Logger) *MediaService {
	if logger == nil {
		logger = zap.NewNop()
	}
	maxBytes := cfg.MaxUploadBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxUploadBytes
	}
	allowed := make(map[string]struct{}, len(cfg.AllowedMimeTypes))
	for _, mt := range cfg.AllowedMimeTypes {
		if mt = strings.ToLower(strings.TrimSpace(mt)); mt != "" {
			allowed[mt] = struct{}{}
		}
	}
	return &MediaService{
		store:    store,
		maxBytes: maxBytes,
		allowed:  allowed,
		logger:   logger,
		now:      time.Now,
	}
}

// MaxBytes reports the upload size limit.
func (s *MediaService) MaxBytes() int64 {
	return s.maxBytes
}

// UploadProfileImage stores the image and returns its public URL.
func (s *MediaService) UploadProfileImage(ctx context.Context, in UploadInput) (url string, err error) {
	ctx, span := tracer.Start(ctx, "MediaService.UploadProfileImage")
	defer func() { endSpan(span, err) }()

	if in.Body == nil || in.Size == 0 {
		return "", apperrors.NewValidationError("No file uploaded", nil)
	}
	if in.Size > s.maxBytes {
		return "", apperrors.NewValidationError("File too large", map[string]any{"maxBytes": s.maxBytes})
	}
	if _, ok := s.allowed[s.mediaType(in.ContentType)]; !ok {
		return "", errUnsupportedImage
	}

	// the declared type is client input; the stored type comes from the bytes
	head := make([]byte, sniffLen)
	n, err := io.ReadFull(in.Body, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return "", apperrors.NewInternalError(fmt.Errorf("read upload: %w", err))
	}
	if n == 0 {
		return "", apperrors.NewValidationError("No file uploaded", nil)
	}
	head = head[:n]
	contentType := s.mediaType(http.DetectContentType(head))
	if _, ok := s.allowed[contentType]; !ok {
		s.logger.Warn("upload content does not match an allowed image type",
			zap.String("filename", in.Filename),
			zap.String("declared", in.ContentType),
			zap.String("detected", contentType))
		return "", errUnsupportedImage
	}

	obj := storage.Object{
		Key:         storage.NewObjectKey(contentType, s.now()),
		ContentType: contentType,
		Size:        in.Size,
		Body:        io.LimitReader(io.MultiReader(bytes.NewReader(head), in.Body), s.maxBytes),
	}
	span.SetAttributes(attribute.String("object.key", obj.Key), attribute.Int64("object.size", obj.Size))

	url, err = s.store.Put(ctx, obj)
	if err != nil {
		return "", apperrors.NewInternalError(fmt.Errorf("store image: %w", err))
	}
	s.logger.Info("profile image stored", zap.String("key", obj.Key), zap.Int64("size", obj.Size))
	return url, nil
}

func (s *MediaService) mediaType(raw string) string {
	mt, _, err := mime.ParseMediaType(raw)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(raw))
	}
	return strings.ToLower(mt)
}
