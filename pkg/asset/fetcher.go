// Package asset は参照画像の取得と生成物の保存を扱います。
package asset

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/shouni/go-http-kit/httpkit"
	"golang.org/x/sync/singleflight"

	"github.com/shouni/go-storyboard-kit/pkg/domain"
)

const (
	defaultCacheExpiration = 5 * time.Minute
	cacheCleanupInterval   = 15 * time.Minute
	defaultFetchTimeout    = 30 * time.Second
	maxImageBytes          = 20 << 20
)

// ErrUnsafeSource は取得を許可していない参照先を指定したときのエラーです。
var ErrUnsafeSource = errors.New("参照先へのアクセスは許可されていません")

// HTTPClient は Fetcher が使う HTTP 取得の契約です。httpkit.Client が満たします。
type HTTPClient interface {
	FetchBytes(ctx context.Context, url string) ([]byte, error)
	IsSafeURL(urlStr string) (bool, error)
}

// FetcherOptions は参照先の取得ポリシーです。
type FetcherOptions struct {
	// Timeout は1回の取得に掛けられる時間です。
	Timeout time.Duration
	// AllowLocalFiles は任意の file:// とローカルパスを許可します。CLI からの実行でだけ有効にします。
	AllowLocalFiles bool
	// LocalRoots 配下の file:// は AllowLocalFiles が無くても読めます。生成物の保存先を指定します。
	LocalRoots []string
	// AllowPrivateNetwork はプライベートやリンクローカルのホストへの取得を許可します。
	AllowPrivateNetwork bool
}

// Blob は取得した画像バイト列です。
type Blob struct {
	Data     []byte
	MIMEType string
}

// Fetcher は参照画像を取得し、同一 URL への同時アクセスを1回にまとめてキャッシュします。
// 画像として判定できないデータは返しません。
type Fetcher struct {
	client HTTPClient
	opts   FetcherOptions
	cache  *cache.Cache
	group  singleflight.Group
}

// NewFetcher は Fetcher を生成します。client が nil の場合は SSRF 検証付きの httpkit クライアントを使います。
func NewFetcher(client HTTPClient, opts FetcherOptions) *Fetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultFetchTimeout
	}
	if client == nil {
		client = httpkit.New(opts.Timeout)
	}
	return &Fetcher{
		client: client,
		opts:   opts,
		cache:  cache.New(defaultCacheExpiration, cacheCleanupInterval),
	}
}

// Fetch は http(s)、data スキームと許可されたローカルファイルから画像を取得します。
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Blob, error) {
	if b, ok := f.cached(rawURL); ok {
		return b, nil
	}

	// 取得は最初の呼び出し元のキャンセルに引きずられないよう切り離して実行します
	ch := f.group.DoChan(rawURL, func() (interface{}, error) {
		if b, ok := f.cached(rawURL); ok {
			return b, nil
		}
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.opts.Timeout)
		defer cancel()

		b, err := f.load(loadCtx, rawURL)
		if err != nil {
			return nil, err
		}
		f.cache.Set(rawURL, b, cache.DefaultExpiration)
		return b, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		b, ok := res.Val.(*Blob)
		if !ok {
			return nil, fmt.Errorf("unexpected return type from singleflight: %T", res.Val)
		}
		return b, nil
	}
}

// Open は画像生成キットの ContentReader として参照画像を返します。
func (f *Fetcher) Open(ctx context.Context, uri string) (io.ReadCloser, error) {
	return f.GetStream(ctx, uri)
}

// GetStream は画像生成キットの Downloader として参照画像を返します。
func (f *Fetcher) GetStream(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	b, err := f.Fetch(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(b.Data)), nil
}

// FetchStream は取得した画像を fn に渡します。
func (f *Fetcher) FetchStream(ctx context.Context, rawURL string, fn func(io.Reader) error) error {
	b, err := f.Fetch(ctx, rawURL)
	if err != nil {
		return err
	}
	return fn(bytes.NewReader(b.Data))
}

func (f *Fetcher) cached(rawURL string) (*Blob, bool) {
	v, ok := f.cache.Get(rawURL)
	if !ok {
		return nil, false
	}
	b, ok := v.(*Blob)
	return b, ok
}

func (f *Fetcher) load(ctx context.Context, rawURL string) (*Blob, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("無効な URL です (%s): %w", rawURL, err)
	}

	var data []byte
	switch u.Scheme {
	case "http", "https":
		data, err = f.loadHTTP(ctx, rawURL)
	case "data":
		data, err = decodeDataURL(rawURL)
	case "file":
		data, err = f.loadFile(u.Path, false)
	case "":
		data, err = f.loadFile(rawURL, true)
	default:
		return nil, fmt.Errorf("%w: 未対応のスキームです: %s", ErrUnsafeSource, u.Scheme)
	}
	if err != nil {
		return nil, err
	}
	return toImageBlob(rawURL, data)
}

func (f *Fetcher) loadHTTP(ctx context.Context, rawURL string) ([]byte, error) {
	if !f.opts.AllowPrivateNetwork {
		if ok, err := f.client.IsSafeURL(rawURL); !ok {
			if err == nil {
				err = errors.New("ブロック対象のホストです")
			}
			return nil, fmt.Errorf("%w (%s): %v", ErrUnsafeSource, rawURL, err)
		}
	}

	data, err := f.client.FetchBytes(ctx, rawURL)
	if err != nil {
		return nil, classifyFetchError(err)
	}
	if len(data) > maxImageBytes {
		return nil, fmt.Errorf("画像サイズが上限 %d バイトを超えています", maxImageBytes)
	}
	return data, nil
}

func classifyFetchError(err error) error {
	var httpErr *httpkit.NonRetryableHTTPError
	if errors.As(err, &httpErr) {
		return &domain.ProviderError{
			Provider:   "http",
			Op:         "fetch",
			StatusCode: httpErr.StatusCode,
			Transient:  domain.IsTransientStatus(httpErr.StatusCode),
			Err:        err,
		}
	}
	transient := !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
	return &domain.ProviderError{Provider: "http", Op: "fetch", Transient: transient, Err: err}
}

// loadFile は許可されたローカルファイルだけを読みます。
func (f *Fetcher) loadFile(path string, bare bool) ([]byte, error) {
	clean := filepath.Clean(path)
	if !f.opts.AllowLocalFiles && (bare || !f.underLocalRoot(clean)) {
		return nil, fmt.Errorf("%w: ローカルファイル %s", ErrUnsafeSource, path)
	}
	data, err := os.ReadFile(clean)
	if err != nil {
		return nil, fmt.Errorf("ファイルの読み込みに失敗しました (%s): %w", path, err)
	}
	return data, nil
}

func (f *Fetcher) underLocalRoot(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	for _, root := range f.opts.LocalRoots {
		rootAbs, err := filepath.Abs(root)
		if err != nil {
			continue
		}
		rel, err := filepath.Rel(rootAbs, abs)
		if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// toImageBlob は内容から MIME を判定し、画像以外を拒否します。
func toImageBlob(rawURL string, data []byte) (*Blob, error) {
	mimeType := http.DetectContentType(data)
	if !strings.HasPrefix(mimeType, "image/") {
		return nil, &domain.ValidationError{
			Field:  "reference_url",
			Reason: fmt.Sprintf("画像ではないデータです (%s: %s)", shortURL(rawURL), mimeType),
		}
	}
	return &Blob{Data: data, MIMEType: mimeType}, nil
}

func shortURL(rawURL string) string {
	if strings.HasPrefix(rawURL, "data:") {
		return "data URL"
	}
	return rawURL
}

func decodeDataURL(raw string) ([]byte, error) {
	meta, payload, ok := strings.Cut(strings.TrimPrefix(raw, "data:"), ",")
	if !ok {
		return nil, fmt.Errorf("不正な data URL です")
	}
	if !strings.HasSuffix(meta, ";base64") {
		return []byte(payload), nil
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("data URL のデコードに失敗しました: %w", err)
	}
	return data, nil
}

// DataURL はバイト列を data URL に変換します。URL しか受け付けないプロバイダへ渡す際に使います。
func DataURL(b *Blob) string {
	return "data:" + b.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(b.Data)
}
