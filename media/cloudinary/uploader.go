// Package cloudinary uploads media assets to Cloudinary and returns their
// public references. It is a stateless pass-through: no local persistence,
// no retries, no deduplication. A retried upload after a network failure
// produces a new asset.
package cloudinary

import (
	"context"
	"fmt"
	"io"

	cld "github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
)

// UploadError wraps a failed upload.
type UploadError struct {
	Message string
	Err     error
}

func (e *UploadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("cloudinary: upload failed: %s: %v", e.Message, e.Err)
	}
	return fmt.Sprintf("cloudinary: upload failed: %s", e.Message)
}

func (e *UploadError) Unwrap() error {
	return e.Err
}

// Asset is the provider's canonical reference to an uploaded file.
type Asset struct {
	URL       string
	SecureURL string
	PublicID  string
	Format    string
	Bytes     int
	Width     int
	Height    int
}

// Options tune a single upload.
type Options struct {
	// Folder is the destination folder hint, e.g. "portfolio".
	Folder string

	// PublicID overrides the generated public id. Usually left empty.
	PublicID string
}

// Uploader streams files to Cloudinary.
type Uploader struct {
	client *cld.Cloudinary
}

// New creates an uploader from explicit credentials.
func New(cloudName, apiKey, apiSecret string) (*Uploader, error) {
	client, err := cld.NewFromParams(cloudName, apiKey, apiSecret)
	if err != nil {
		return nil, &UploadError{Message: "configure client", Err: err}
	}
	return &Uploader{client: client}, nil
}

// NewFromURL creates an uploader from a cloudinary:// URL.
func NewFromURL(url string) (*Uploader, error) {
	client, err := cld.NewFromURL(url)
	if err != nil {
		return nil, &UploadError{Message: "configure client", Err: err}
	}
	return &Uploader{client: client}, nil
}

// Upload streams the file to Cloudinary and returns its public reference.
func (u *Uploader) Upload(ctx context.Context, file io.Reader, opts Options) (*Asset, error) {
	params := uploader.UploadParams{
		Folder:   opts.Folder,
		PublicID: opts.PublicID,
	}

	res, err := u.client.Upload.Upload(ctx, file, params)
	if err != nil {
		return nil, &UploadError{Message: "upload", Err: err}
	}
	if res.Error.Message != "" {
		return nil, &UploadError{Message: res.Error.Message}
	}

	return &Asset{
		URL:       res.URL,
		SecureURL: res.SecureURL,
		PublicID:  res.PublicID,
		Format:    res.Format,
		Bytes:     res.Bytes,
		Width:     res.Width,
		Height:    res.Height,
	}, nil
}
