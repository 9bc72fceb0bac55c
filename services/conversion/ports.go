package conversion

import (
	"context"
	"time"

	"mediaconv/pkg/ffmpeg"
)

// Fetcher copies the uploaded source into a local file.
type Fetcher interface {
	Fetch(ctx context.Context, sourceRef, dstPath string) (int64, error)
}

type Transcoder interface {
	Transcode(ctx context.Context, inputPath, outputPath string, p ffmpeg.Profile) error
}

// ObjectStore hosts staged artifacts for the retention window.
type ObjectStore interface {
	Put(ctx context.Context, key, localPath, contentType string) (string, error)
	Delete(ctx context.Context, ref string) error
	URL(ctx context.Context, ref string, expiry time.Duration) (string, error)
}

// FormatGate switches individual output formats off without a deploy.
type FormatGate interface {
	FormatEnabled(ctx context.Context, accountID int64, format string) bool
}
