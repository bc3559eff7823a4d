package storage

import (
	"bytes"
	"context"

	"recipe-extractor/internal/infrastructure/config"
	"recipe-extractor/internal/pkg/common"

	"github.com/rotisserie/eris"
	storage_go "github.com/supabase-community/storage-go"
	"github.com/supabase-community/supabase-go"
	"go.uber.org/zap"
)

// ObjectStore 永久保存縮圖用的物件儲存
type ObjectStore interface {
	Upload(ctx context.Context, path string, data []byte, contentType string) (string, error)
	Delete(ctx context.Context, path string) error
}

// SupabaseStore 以 Supabase Storage 實作 ObjectStore
type SupabaseStore struct {
	client *storage_go.Client
	bucket string
}

// NewSupabaseStore 透過 supabase-go 建立儲存客戶端
func NewSupabaseStore(cfg config.StorageConfig) (*SupabaseStore, error) {
	client, err := supabase.NewClient(cfg.URL, cfg.Key, nil)
	if err != nil {
		return nil, eris.Wrap(err, "storage: create supabase client")
	}
	common.LogInfo("物件儲存已初始化", zap.String("bucket", cfg.Bucket))
	return &SupabaseStore{client: client.Storage, bucket: cfg.Bucket}, nil
}

// NewStore 直接以 storage API 位址建立（例如 https://x.supabase.co/storage/v1）
func NewStore(storageURL, key, bucket string) *SupabaseStore {
	return &SupabaseStore{
		client: storage_go.NewClient(storageURL, key, nil),
		bucket: bucket,
	}
}

// Upload 上傳並回傳公開網址；同路徑已存在時覆寫
func (s *SupabaseStore) Upload(ctx context.Context, path string, data []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	upsert := true
	cacheControl := "31536000"
	_, err := s.client.UploadFile(s.bucket, path, bytes.NewReader(data), storage_go.FileOptions{
		ContentType:  &contentType,
		CacheControl: &cacheControl,
		Upsert:       &upsert,
	})
	if err != nil {
		return "", eris.Wrapf(err, "storage: upload %s", path)
	}
	return s.client.GetPublicUrl(s.bucket, path).SignedURL, nil
}

// Delete 刪除物件
func (s *SupabaseStore) Delete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := s.client.RemoveFile(s.bucket, []string{path}); err != nil {
		return eris.Wrapf(err, "storage: delete %s", path)
	}
	return nil
}
