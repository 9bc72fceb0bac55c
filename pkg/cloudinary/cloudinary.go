package cloudinary

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
	"go.uber.org/zap"
)

// Audio and video both live under the "video" resource type.
const resourceType = "video"

// Store stages artifacts on Cloudinary. The staged ref is the asset public ID.
type Store struct {
	cld    *cloudinary.Cloudinary
	folder string
}

func NewStore(cloudinaryURL, folder string) (*Store, error) {
	cld, err := cloudinary.NewFromURL(cloudinaryURL)
	if err != nil {
		return nil, fmt.Errorf("init cloudinary: %w", err)
	}
	cld.Config.URL.Secure = true

	return &Store{cld: cld, folder: folder}, nil
}

func (s *Store) Put(ctx context.Context, key, localPath, contentType string) (string, error) {
	publicID := strings.TrimSuffix(key, path.Ext(key))

	res, err := s.cld.Upload.Upload(ctx, localPath, uploader.UploadParams{
		PublicID:     publicID,
		Folder:       s.folder,
		ResourceType: resourceType,
	})
	if err != nil {
		return "", fmt.Errorf("cloudinary upload %s: %w", key, err)
	}
	if res.Error.Message != "" {
		return "", fmt.Errorf("cloudinary upload %s: %s", key, res.Error.Message)
	}

	zap.L().Debug("cloudinary asset stored", zap.String("public_id", res.PublicID), zap.Int("bytes", res.Bytes))
	return res.PublicID, nil
}

// Delete treats "not found" as success so a retried sweep converges.
func (s *Store) Delete(ctx context.Context, ref string) error {
	res, err := s.cld.Upload.Destroy(ctx, uploader.DestroyParams{
		PublicID:     ref,
		ResourceType: resourceType,
	})
	if err != nil {
		return fmt.Errorf("cloudinary destroy %s: %w", ref, err)
	}
	if res.Error.Message != "" {
		return fmt.Errorf("cloudinary destroy %s: %s", ref, res.Error.Message)
	}

	switch res.Result {
	case "ok", "not found":
		return nil
	default:
		return fmt.Errorf("cloudinary destroy %s: unexpected result %q", ref, res.Result)
	}
}

// URL returns the public delivery URL; Cloudinary links do not expire.
func (s *Store) URL(ctx context.Context, ref string, _ time.Duration) (string, error) {
	asset, err := s.cld.Video(ref)
	if err != nil {
		return "", fmt.Errorf("cloudinary url %s: %w", ref, err)
	}
	return asset.String()
}

func (s *Store) Ping(ctx context.Context) error {
	res, err := s.cld.Admin.Ping(ctx)
	if err != nil {
		return err
	}
	if res.Error.Message != "" {
		return errors.New(res.Error.Message)
	}
	return nil
}
