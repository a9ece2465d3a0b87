package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/fitversal/messaging-api/internal/dto"
	"github.com/fitversal/messaging-api/internal/models"
	"github.com/fitversal/messaging-api/internal/observability"
	"github.com/fitversal/messaging-api/internal/repository"
)

var (
	// ErrAttachmentTooLarge indicates the payload exceeded the configured limit.
	ErrAttachmentTooLarge = errors.New("attachment exceeds maximum allowed size")
	// ErrAttachmentTypeNotAllowed indicates the MIME type is not permitted.
	ErrAttachmentTypeNotAllowed = errors.New("attachment type not allowed")
)

// FileStorage abstracts upload destinations.
type FileStorage interface {
	Upload(ctx context.Context, name string, reader io.Reader) (string, error)
}

// AttachmentService validates and stores files referenced by messages.
type AttachmentService interface {
	Upload(ctx context.Context, file *multipart.FileHeader, uploader models.Principal) (dto.AttachmentResponse, error)
	ListMine(ctx context.Context, uploader models.Principal, limit int) ([]dto.AttachmentResponse, error)
}

type attachmentService struct {
	storage FileStorage
	repo    repository.AttachmentRepository
	logger  zerolog.Logger
	maxSize int64
	tracer  trace.Tracer
}

// NewAttachmentService constructs an attachment service.
func NewAttachmentService(storage FileStorage, repo repository.AttachmentRepository, maxSizeMB int, logger zerolog.Logger) AttachmentService {
	if maxSizeMB <= 0 {
		maxSizeMB = 10
	}
	return &attachmentService{
		storage: storage,
		repo:    repo,
		logger:  logger.With().Str("component", "attachment_service").Logger(),
		maxSize: int64(maxSizeMB) * 1024 * 1024,
		tracer:  otel.Tracer("github.com/fitversal/messaging-api/internal/service/attachment"),
	}
}

func (s *attachmentService) Upload(ctx context.Context, file *multipart.FileHeader, uploader models.Principal) (dto.AttachmentResponse, error) {
	ctx, span := s.tracer.Start(ctx, "attachment.store")
	defer span.End()

	span.SetAttributes(attribute.Int64("attachment.max_bytes", s.maxSize))
	if file != nil {
		span.SetAttributes(
			attribute.String("attachment.original_name", strings.TrimSpace(file.Filename)),
			attribute.Int64("attachment.request_size", file.Size),
		)
	}

	start := time.Now()
	defer func() {
		observability.AttachmentLatency().Observe(time.Since(start).Seconds())
	}()

	if file == nil {
		err := errors.New("file is required")
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation failed")
		return dto.AttachmentResponse{}, fmt.Errorf("%w: %s", ErrInvalidPayload, err)
	}
	if !uploader.Valid() {
		span.SetStatus(codes.Error, "unknown uploader")
		return dto.AttachmentResponse{}, ErrForbidden
	}

	if file.Size > s.maxSize {
		observability.AttachmentRejected().WithLabelValues("size").Inc()
		span.RecordError(ErrAttachmentTooLarge)
		span.SetStatus(codes.Error, "payload too large")
		return dto.AttachmentResponse{}, ErrAttachmentTooLarge
	}

	handle, err := file.Open()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "open failed")
		return dto.AttachmentResponse{}, err
	}
	defer handle.Close()

	buf := bytes.NewBuffer(nil)
	if _, err := io.Copy(buf, io.LimitReader(handle, s.maxSize+1)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "read failed")
		return dto.AttachmentResponse{}, err
	}
	if int64(buf.Len()) > s.maxSize {
		observability.AttachmentRejected().WithLabelValues("size").Inc()
		span.RecordError(ErrAttachmentTooLarge)
		span.SetStatus(codes.Error, "payload too large")
		return dto.AttachmentResponse{}, ErrAttachmentTooLarge
	}

	mime := mimetype.Detect(buf.Bytes())
	fileType := normalizeAttachmentMime(mime.String())
	span.SetAttributes(attribute.String("attachment.detected_mime", fileType))
	if !isAllowedAttachmentType(fileType) {
		observability.AttachmentRejected().WithLabelValues("type").Inc()
		span.RecordError(ErrAttachmentTypeNotAllowed)
		span.SetStatus(codes.Error, "type not allowed")
		return dto.AttachmentResponse{}, ErrAttachmentTypeNotAllowed
	}

	checksum := sha256.Sum256(buf.Bytes())
	sanitizedName := sanitizeAttachmentName(file.Filename)
	span.SetAttributes(
		attribute.String("attachment.sanitized_name", sanitizedName),
		attribute.Int64("attachment.size_bytes", int64(buf.Len())),
	)

	url, err := s.storage.Upload(ctx, sanitizedName, bytes.NewReader(buf.Bytes()))
	if err != nil {
		observability.AttachmentRejected().WithLabelValues("storage").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "storage failed")
		return dto.AttachmentResponse{}, fmt.Errorf("%w: %v", ErrGateway, err)
	}

	record := models.Attachment{
		FileName:     sanitizedName,
		URL:          url,
		MimeType:     fileType,
		SizeBytes:    int64(buf.Len()),
		Checksum:     hex.EncodeToString(checksum[:]),
		UploadedByID: uploader.ID,
		UploadedKind: uploader.Kind,
	}

	if err := s.repo.Create(ctx, &record); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persistence failed")
		return dto.AttachmentResponse{}, err
	}

	observability.AttachmentUploads().WithLabelValues(fileType).Inc()
	span.SetStatus(codes.Ok, "stored")

	return dto.NewAttachmentResponse(record), nil
}

func (s *attachmentService) ListMine(ctx context.Context, uploader models.Principal, limit int) ([]dto.AttachmentResponse, error) {
	if !uploader.Valid() {
		return nil, ErrForbidden
	}
	records, err := s.repo.ListForUploader(ctx, uploader, limit)
	if err != nil {
		return nil, err
	}
	out := make([]dto.AttachmentResponse, 0, len(records))
	for _, r := range records {
		out = append(out, dto.NewAttachmentResponse(r))
	}
	return out, nil
}

func sanitizeAttachmentName(name string) string {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	base = strings.ToLower(base)
	base = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			return r
		}
		if r == '-' || r == '_' {
			return r
		}
		return '-'
	}, base)
	base = strings.Trim(base, "-")
	if base == "" {
		base = fmt.Sprintf("attachment-%d", time.Now().Unix())
	}
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		ext = ".bin"
	}
	return base + ext
}

func normalizeAttachmentMime(m string) string {
	lower := strings.ToLower(strings.TrimSpace(m))
	switch {
	case strings.HasPrefix(lower, "image/"):
		return "image"
	case strings.HasPrefix(lower, "audio/"):
		return "audio"
	case strings.HasPrefix(lower, "video/"):
		return "video"
	case lower == "application/pdf":
		return "application/pdf"
	default:
		return lower
	}
}

func isAllowedAttachmentType(m string) bool {
	switch m {
	case "image", "audio", "video", "application/pdf":
		return true
	default:
		return false
	}
}
