package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/storage"
)

const (
	defaultUploadExpiry = 15 * time.Minute
	maxUploadExpiry     = time.Hour
	defaultMaxImageSize = 5 << 20
)

var (
	errNoSigner           = errors.New("storage: signer is required")
	errInvalidBucket      = errors.New("storage: bucket name is required")
	errInvalidObject      = errors.New("storage: object name is required")
	errContentTypeMissing = errors.New("storage: content type is required for uploads")
	errExpiryTooLong      = errors.New("storage: expiry exceeds permitted maximum")
)

// ErrContentTypeDenied is returned when an upload content type is not permitted.
var ErrContentTypeDenied = errors.New("storage: content type not allowed")

// DefaultImageContentTypes lists the content types accepted for product images.
var DefaultImageContentTypes = []string{"image/png", "image/jpeg", "image/webp"}

// Client issues V4 signed upload URLs for a single bucket.
type Client struct {
	bucket       string
	signer       Signer
	now          func() time.Time
	expiry       time.Duration
	maxSize      int64
	contentTypes []string
}

// ClientOption customises client behaviour.
type ClientOption func(*Client)

// WithClock injects a custom clock.
func WithClock(clock func() time.Time) ClientOption {
	return func(c *Client) {
		if clock != nil {
			c.now = clock
		}
	}
}

// WithUploadExpiry overrides how long signed upload URLs stay valid.
func WithUploadExpiry(expiry time.Duration) ClientOption {
	return func(c *Client) {
		if expiry > 0 {
			c.expiry = expiry
		}
	}
}

// WithMaxSize caps the accepted upload size through x-goog-content-length-range.
func WithMaxSize(size int64) ClientOption {
	return func(c *Client) {
		if size > 0 {
			c.maxSize = size
		}
	}
}

// WithContentTypes overrides the accepted upload content types.
func WithContentTypes(types ...string) ClientOption {
	return func(c *Client) {
		if len(types) > 0 {
			c.contentTypes = append([]string(nil), types...)
		}
	}
}

// NewClient constructs a signed URL client for bucket.
func NewClient(bucket string, signer Signer, opts ...ClientOption) (*Client, error) {
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errInvalidBucket
	}
	if signer == nil || strings.TrimSpace(signer.Email()) == "" {
		return nil, errNoSigner
	}

	client := &Client{
		bucket:       bucket,
		signer:       signer,
		now:          time.Now,
		expiry:       defaultUploadExpiry,
		maxSize:      defaultMaxImageSize,
		contentTypes: DefaultImageContentTypes,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	if client.expiry > maxUploadExpiry {
		return nil, errExpiryTooLong
	}
	return client, nil
}

// Bucket returns the bucket the client signs for.
func (c *Client) Bucket() string {
	return c.bucket
}

// UploadURL describes a signed upload target.
type UploadURL struct {
	URL       string
	Method    string
	Object    string
	ExpiresAt time.Time
	Headers   map[string]string
}

// SignedUploadURL returns a PUT URL that accepts a single object of contentType.
func (c *Client) SignedUploadURL(ctx context.Context, object, contentType string) (UploadURL, error) {
	if c == nil {
		return UploadURL{}, errNoSigner
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return UploadURL{}, errInvalidObject
	}
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	if contentType == "" {
		return UploadURL{}, errContentTypeMissing
	}
	if !contentTypeAllowed(contentType, c.contentTypes) {
		return UploadURL{}, ErrContentTypeDenied
	}

	sizeRange := fmt.Sprintf("0,%d", c.maxSize)
	expiresAt := c.now().Add(c.expiry)
	opts := &storage.SignedURLOptions{
		GoogleAccessID: c.signer.Email(),
		Scheme:         storage.SigningSchemeV4,
		Method:         "PUT",
		ContentType:    contentType,
		Expires:        expiresAt,
		Headers:        []string{"x-goog-content-length-range:" + sizeRange},
		SignBytes: func(payload []byte) ([]byte, error) {
			return c.signer.SignBytes(ctx, payload)
		},
	}
	signed, err := storage.SignedURL(c.bucket, object, opts)
	if err != nil {
		return UploadURL{}, fmt.Errorf("storage: sign upload url: %w", err)
	}
	return UploadURL{
		URL:       signed,
		Method:    "PUT",
		Object:    object,
		ExpiresAt: expiresAt,
		Headers: map[string]string{
			"Content-Type":                contentType,
			"x-goog-content-length-range": sizeRange,
		},
	}, nil
}

// PublicURL returns the canonical https URL of an object in the client's bucket.
func (c *Client) PublicURL(object string) string {
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", c.bucket, strings.TrimLeft(object, "/"))
}

func contentTypeAllowed(contentType string, allowed []string) bool {
	for _, candidate := range allowed {
		candidate = strings.ToLower(strings.TrimSpace(candidate))
		switch {
		case candidate == "":
			continue
		case candidate == "*" || candidate == contentType:
			return true
		case strings.HasSuffix(candidate, "/*") && strings.HasPrefix(contentType, strings.TrimSuffix(candidate, "*")):
			return true
		}
	}
	return false
}
