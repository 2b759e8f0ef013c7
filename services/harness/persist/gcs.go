// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package persist

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// ErrInvalidGCSURL indicates a destination that is not gs://bucket/object.
var ErrInvalidGCSURL = errors.New("invalid gs:// destination")

// objectWriter is the subset of *storage.Writer used for uploads.
type objectWriter interface {
	io.Writer
	Close() error
}

// objectOpener creates a writer for one object. The upload is abandoned if
// ctx is cancelled before Close.
type objectOpener func(ctx context.Context, bucket, object string) objectWriter

// GCSConfig configures a GCSWriter.
type GCSConfig struct {
	// CredentialsFile is an optional service account key path. When empty,
	// application default credentials are used.
	CredentialsFile string

	// ContentType of uploaded reports. Default: application/json.
	ContentType string
}

// GCSWriter uploads reports to Google Cloud Storage.
//
// Destinations have the form gs://bucket/path/to/report.json. An upload
// either completes with Close or is abandoned by cancelling its context,
// so a failed write never creates the object.
type GCSWriter struct {
	client      *storage.Client
	open        objectOpener
	contentType string
}

// NewGCSWriter creates a storage client and wraps it.
func NewGCSWriter(ctx context.Context, cfg GCSConfig) (*GCSWriter, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		if _, err := os.Stat(cfg.CredentialsFile); err != nil {
			return nil, fmt.Errorf("service account key not found at path %s: %w", cfg.CredentialsFile, err)
		}
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create GCS storage client: %w", err)
	}

	w := &GCSWriter{
		client:      client,
		contentType: cfg.ContentType,
	}
	w.open = func(ctx context.Context, bucket, object string) objectWriter {
		ow := client.Bucket(bucket).Object(object).NewWriter(ctx)
		ow.ContentType = w.contentTypeOrDefault()
		ow.CacheControl = "no-cache, no-store, must-revalidate"
		return ow
	}
	return w, nil
}

func (w *GCSWriter) contentTypeOrDefault() string {
	if w.contentType == "" {
		return "application/json"
	}
	return w.contentType
}

// Write uploads data to a gs:// destination.
func (w *GCSWriter) Write(ctx context.Context, dest string, data []byte) error {
	bucket, object, err := ParseGCSURL(dest)
	if err != nil {
		return err
	}

	uploadCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	ow := w.open(uploadCtx, bucket, object)
	if _, err := ow.Write(data); err != nil {
		cancel()
		_ = ow.Close()
		return fmt.Errorf("upload gs://%s/%s: %w", bucket, object, err)
	}
	if err := ow.Close(); err != nil {
		return fmt.Errorf("finalize gs://%s/%s: %w", bucket, object, err)
	}
	return nil
}

// Close releases the storage client.
func (w *GCSWriter) Close() error {
	if w.client == nil {
		return nil
	}
	return w.client.Close()
}

// ParseGCSURL splits gs://bucket/object into its parts.
func ParseGCSURL(dest string) (bucket, object string, err error) {
	rest, ok := strings.CutPrefix(dest, "gs://")
	if !ok {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidGCSURL, dest)
	}
	bucket, object, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || object == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidGCSURL, dest)
	}
	return bucket, object, nil
}
