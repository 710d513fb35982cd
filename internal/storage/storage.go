package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
)

const (
	defaultTimeout   = 10 * time.Second
	defaultURLPrefix = "/assets"
	keyPrefix        = "products"
	maxSlugLength    = 40
)

var (
	// ErrUploadFailed is returned when the backend rejects or times out an upload.
	ErrUploadFailed = errors.New("upload failed")
	// ErrDeleteFailed is returned when the backend rejects or times out a delete.
	ErrDeleteFailed = errors.New("delete failed")
	// ErrInvalidExtension is returned for filenames outside the allowed image types.
	ErrInvalidExtension = errors.New("file type not allowed")
	// ErrNotAnImage is returned when the uploaded bytes are not an image.
	ErrNotAnImage = errors.New("file is not an image")
	// ErrObjectNotFound is returned by Get when no object has the reference.
	ErrObjectNotFound = errors.New("object not found")
)

var allowedExtensions = map[string]struct{}{
	"png":  {},
	"jpg":  {},
	"jpeg": {},
	"gif":  {},
}

// ObjectStorage defines common object operations across backends.
type ObjectStorage interface {
	EnsureBucket(ctx context.Context) error
	// Put stores the object and returns the reference used to read or delete
	// it later. Bucket-style stores return key unchanged.
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error)
	Get(ctx context.Context, ref string) (io.ReadCloser, error)
	Delete(ctx context.Context, ref string) error
	Bucket() string
}

// URLBuilder is implemented by backends that serve objects from their own
// public URLs.
type URLBuilder interface {
	URL(ref string, width, height int) string
}

// Storage wraps an ObjectStorage backend with the asset API used by the
// product service.
type Storage struct {
	backend       ObjectStorage
	timeout       time.Duration
	publicBaseURL string
	newID         func() string
}

// Option configures a Storage.
type Option func(*Storage)

// WithTimeout bounds every backend call.
func WithTimeout(d time.Duration) Option {
	return func(s *Storage) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithPublicBaseURL makes URLFor point at base instead of the server's
// own /assets route.
func WithPublicBaseURL(base string) Option {
	return func(s *Storage) {
		s.publicBaseURL = strings.TrimRight(strings.TrimSpace(base), "/")
	}
}

// NewStorage constructs a Storage wrapper for the provided backend.
func NewStorage(backend ObjectStorage, opts ...Option) *Storage {
	s := &Storage{
		backend: backend,
		timeout: defaultTimeout,
		newID:   func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EnsureBucket ensures the configured bucket exists.
func (s *Storage) EnsureBucket(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.backend.EnsureBucket(ctx)
}

// Store uploads an image and returns its asset reference. filename is only
// used to derive a readable key; it must already have passed
// ValidateImageFilename.
func (s *Storage) Store(ctx context.Context, filename string, data []byte, contentType string) (string, error) {
	ext, err := ValidateImageFilename(filename)
	if err != nil {
		return "", err
	}

	sniffed := http.DetectContentType(data)
	if !strings.HasPrefix(sniffed, "image/") {
		return "", ErrNotAnImage
	}
	if strings.TrimSpace(contentType) == "" || contentType == "application/octet-stream" {
		contentType = sniffed
	}

	key := s.objectKey(filename, ext)

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	ref, err := s.backend.Put(ctx, key, bytes.NewReader(data), int64(len(data)), contentType)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	return ref, nil
}

// Open streams a stored asset. The caller closes the reader.
func (s *Storage) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	if strings.TrimSpace(ref) == "" {
		return nil, errors.New("empty asset reference")
	}
	return s.backend.Get(ctx, ref)
}

// Delete removes an asset.
func (s *Storage) Delete(ctx context.Context, ref string) error {
	if strings.TrimSpace(ref) == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.backend.Delete(ctx, ref); err != nil {
		return fmt.Errorf("%w: %v", ErrDeleteFailed, err)
	}
	return nil
}

// URLFor returns the display URL of an asset at the requested size. Zero
// or negative dimensions are left out. The result depends only on its
// arguments and the storage configuration.
func (s *Storage) URLFor(ref string, width, height int) string {
	if strings.TrimSpace(ref) == "" {
		return ""
	}
	if builder, ok := s.backend.(URLBuilder); ok {
		return builder.URL(ref, width, height)
	}

	base := s.publicBaseURL
	if base == "" {
		base = defaultURLPrefix
	}

	segments := strings.Split(ref, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}

	q := url.Values{}
	if width > 0 {
		q.Set("w", strconv.Itoa(width))
	}
	if height > 0 {
		q.Set("h", strconv.Itoa(height))
	}

	u := base + "/" + strings.Join(segments, "/")
	if encoded := q.Encode(); encoded != "" {
		u += "?" + encoded
	}
	return u
}

// Bucket returns the configured bucket name.
func (s *Storage) Bucket() string {
	return s.backend.Bucket()
}

func (s *Storage) objectKey(filename, ext string) string {
	base := strings.TrimSuffix(path.Base(strings.ReplaceAll(filename, `\`, "/")), path.Ext(filename))
	name := slug.Make(base)
	if len(name) > maxSlugLength {
		name = strings.Trim(name[:maxSlugLength], "-")
	}
	if name == "" {
		name = "image"
	}
	return fmt.Sprintf("%s/%s-%s.%s", keyPrefix, name, s.newID(), ext)
}

// ValidateImageFilename checks the extension against the allowed raster
// formats and returns it lower-cased without the dot.
func ValidateImageFilename(filename string) (string, error) {
	filename = strings.TrimSpace(filename)
	idx := strings.LastIndex(filename, ".")
	if idx < 0 || idx == len(filename)-1 {
		return "", ErrInvalidExtension
	}
	ext := strings.ToLower(filename[idx+1:])
	if _, ok := allowedExtensions[ext]; !ok {
		return "", ErrInvalidExtension
	}
	return ext, nil
}
