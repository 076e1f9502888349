package publisher

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/shouni/go-storyboard-kit/pkg/asset"
)

// OutputWriter は成果物を書き出す先です。
type OutputWriter interface {
	Write(ctx context.Context, path string, r io.Reader, contentType string) error
}

// LocalWriter はローカルファイルシステムに書き出します。
type LocalWriter struct{}

func (LocalWriter) Write(ctx context.Context, path string, r io.Reader, contentType string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("ディレクトリの作成に失敗しました: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := io.Copy(f, r); err != nil {
		return err
	}
	return f.Close()
}

// S3Writer は s3://bucket/key 形式のパスへ書き出します。
type S3Writer struct {
	client asset.S3PutAPI
}

// NewS3Writer は S3Writer を生成します。
func NewS3Writer(client asset.S3PutAPI) *S3Writer {
	return &S3Writer{client: client}
}

func (w *S3Writer) Write(ctx context.Context, path string, r io.Reader, contentType string) error {
	bucket, key, err := splitS3Path(path)
	if err != nil {
		return err
	}
	_, err = w.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        r,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("S3 への書き込みに失敗しました %s: %w", path, err)
	}
	return nil
}

// RoutingWriter はパスのスキームに応じて S3 とローカルを使い分けます。
type RoutingWriter struct {
	Local OutputWriter
	S3    OutputWriter
}

func (w RoutingWriter) Write(ctx context.Context, path string, r io.Reader, contentType string) error {
	if IsS3Path(path) {
		if w.S3 == nil {
			return fmt.Errorf("S3 の書き込み先が設定されていません: %s", path)
		}
		return w.S3.Write(ctx, path, r, contentType)
	}
	local := w.Local
	if local == nil {
		local = LocalWriter{}
	}
	return local.Write(ctx, path, r, contentType)
}
