package asset

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

// ArtifactStore は生成された画像バイト列を保存し、参照可能な URL を返します。
type ArtifactStore interface {
	Put(ctx context.Context, key string, data []byte, mimeType string) (string, error)
}

// ArtifactKey は生成物の保存キーを組み立てます。例: "frames/frame_3_<uuid>.png"
func ArtifactKey(kind, name, mimeType string) string {
	ext := ".png"
	if exts, err := mime.ExtensionsByType(mimeType); err == nil && len(exts) > 0 {
		ext = exts[0]
		if mimeType == "image/jpeg" {
			ext = ".jpg"
		}
	}
	return path.Join(kind, fmt.Sprintf("%s_%s%s", name, uuid.NewString(), ext))
}

// LocalStore はローカルディレクトリへ保存し、file:// URL を返します。
type LocalStore struct {
	dir string
}

// NewLocalStore は LocalStore を生成します。
func NewLocalStore(dir string) *LocalStore {
	return &LocalStore{dir: dir}
}

func (s *LocalStore) Put(ctx context.Context, key string, data []byte, mimeType string) (string, error) {
	full := filepath.Join(s.dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("出力ディレクトリの作成に失敗しました: %w", err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return "", fmt.Errorf("生成物の書き込みに失敗しました (%s): %w", full, err)
	}
	abs, err := filepath.Abs(full)
	if err != nil {
		return "", err
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String(), nil
}

// S3PutAPI は S3Store が使う S3 クライアントの部分集合です。
type S3PutAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Store は S3 バケットへ保存します。baseURL が空の場合は仮想ホスト形式の URL を返します。
type S3Store struct {
	client  S3PutAPI
	bucket  string
	baseURL string
}

// NewS3Store は S3Store を生成します。
func NewS3Store(client S3PutAPI, bucket, baseURL string) *S3Store {
	return &S3Store{client: client, bucket: bucket, baseURL: strings.TrimSuffix(baseURL, "/")}
}

func (s *S3Store) Put(ctx context.Context, key string, data []byte, mimeType string) (string, error) {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(mimeType),
	})
	if err != nil {
		return "", fmt.Errorf("S3 への書き込みに失敗しました (s3://%s/%s): %w", s.bucket, key, err)
	}
	if s.baseURL != "" {
		return s.baseURL + "/" + key, nil
	}
	return fmt.Sprintf("https://%s.s3.amazonaws.com/%s", s.bucket, key), nil
}
