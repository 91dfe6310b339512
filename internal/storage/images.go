package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrInvalidImage is returned for empty or non-image payloads
	ErrInvalidImage = errors.New("invalid image")

	// ErrObjectTooLarge is returned when a payload exceeds the size cap
	ErrObjectTooLarge = errors.New("object too large")

	// ErrStorageUnavailable is returned when the backing store fails
	ErrStorageUnavailable = errors.New("storage unavailable")
)

var imageExtensions = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/webp": "webp",
	"image/gif":  "gif",
	"image/heic": "heic",
	"image/heif": "heif",
}

// Image is an uploaded photograph
type Image struct {
	Data        []byte
	ContentType string
	Filename    string
}

// Ref is a durable reference to a stored object
type Ref struct {
	Key string `json:"key"`
	URL string `json:"url"`
}

// ImageStore stores meter photographs. Every Put writes its own object, so
// a failed submission can delete its photo without touching anyone else's.
type ImageStore struct {
	store    ObjectStore
	maxBytes int64
	now      func() time.Time
	newID    func() string
	logger   *zap.Logger
}

// NewImageStore creates an ImageStore
func NewImageStore(store ObjectStore, maxBytes int64, logger *zap.Logger) *ImageStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ImageStore{
		store:    store,
		maxBytes: maxBytes,
		now:      time.Now,
		newID:    uuid.NewString,
		logger:   logger,
	}
}

// Validate checks size and type of an image without storing it
func (s *ImageStore) Validate(img Image) (string, error) {
	if len(img.Data) == 0 {
		return "", fmt.Errorf("%w: empty payload", ErrInvalidImage)
	}
	if s.maxBytes > 0 && int64(len(img.Data)) > s.maxBytes {
		return "", fmt.Errorf("%w: %d bytes exceeds %d", ErrObjectTooLarge, len(img.Data), s.maxBytes)
	}

	declared := normalizeContentType(img.ContentType)
	sniffed := normalizeContentType(http.DetectContentType(img.Data))

	contentType := declared
	if _, ok := imageExtensions[contentType]; !ok || contentType == "" {
		contentType = sniffed
	}
	if _, ok := imageExtensions[contentType]; !ok {
		return "", fmt.Errorf("%w: unsupported content type %q", ErrInvalidImage, img.ContentType)
	}
	// the sniffer knows jpeg/png/gif/webp; a mismatch there means the bytes lie about their type
	if _, known := imageExtensions[sniffed]; known && sniffed != contentType {
		return "", fmt.Errorf("%w: declared %s but content is %s", ErrInvalidImage, contentType, sniffed)
	}
	if !strings.HasPrefix(sniffed, "image/") && sniffed != "application/octet-stream" {
		return "", fmt.Errorf("%w: content is %s", ErrInvalidImage, sniffed)
	}

	return contentType, nil
}

// ImageKey is readings/<yyyy>/<mm>/<sha256>-<captureID>.<ext>. The hash
// identifies the content, the capture id keeps identical photos apart.
func ImageKey(at time.Time, data []byte, captureID, ext string) string {
	sum := sha256.Sum256(data)
	return fmt.Sprintf("readings/%04d/%02d/%s-%s.%s", at.Year(), int(at.Month()), hex.EncodeToString(sum[:]), captureID, ext)
}

// Put validates and uploads the image under a key owned by this call
func (s *ImageStore) Put(ctx context.Context, img Image) (Ref, error) {
	contentType, err := s.Validate(img)
	if err != nil {
		return Ref{}, err
	}

	key := ImageKey(s.now().UTC(), img.Data, s.newID(), imageExtensions[contentType])
	if err := s.store.Upload(ctx, key, img.Data, contentType); err != nil {
		return Ref{}, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	s.logger.Info("image stored", zap.String("key", key), zap.Int("bytes", len(img.Data)))
	return Ref{Key: key, URL: s.store.URL(key)}, nil
}

// Discard removes an image stored by Put whose submission did not go through
func (s *ImageStore) Discard(ctx context.Context, ref Ref) {
	if ref.Key == "" {
		return
	}
	if err := s.store.DeleteObject(ctx, ref.Key); err != nil {
		s.logger.Error("failed to discard image", zap.String("key", ref.Key), zap.Error(err))
	}
}

func normalizeContentType(ct string) string {
	ct = strings.ToLower(strings.TrimSpace(ct))
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	if ct == "image/jpg" {
		return "image/jpeg"
	}
	return ct
}
