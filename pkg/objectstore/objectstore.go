package objectstore

import (
	"context"
	"fmt"
	"time"

	"mediaconv/pkg/cloudinary"
	"mediaconv/pkg/config"
	"mediaconv/pkg/minio"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Store hosts staged artifacts. Put and Delete fail independently of any
// metadata kept about the object.
type Store interface {
	Put(ctx context.Context, key, localPath, contentType string) (string, error)
	Delete(ctx context.Context, ref string) error
	URL(ctx context.Context, ref string, expiry time.Duration) (string, error)
	Ping(ctx context.Context) error
}

var Module = fx.Module("objectstore", fx.Provide(New))

// New builds the backend selected by STORAGE.DRIVER.
func New(cfg *config.Config) (Store, error) {
	switch cfg.Storage.Driver {
	case "cloudinary":
		zap.L().Info("object store: cloudinary", zap.String("folder", cfg.Cloudinary.Folder))
		return cloudinary.NewStore(cfg.Cloudinary.URL, cfg.Cloudinary.Folder)
	case "", "minio":
		client, err := minio.NewClient(cfg)
		if err != nil {
			return nil, err
		}
		return minio.NewStore(client, cfg.Minio.BucketName), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}
