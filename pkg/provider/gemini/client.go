// Package gemini は go-gemini-client と gemini-image-kit を使ったプロバイダ実装です。
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/patrickmn/go-cache"
	imagekit "github.com/shouni/gemini-image-kit/generator"
	"github.com/shouni/gemini-image-kit/ports"
	"github.com/shouni/go-gemini-client/gemini"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/shouni/go-storyboard-kit/pkg/asset"
	"github.com/shouni/go-storyboard-kit/pkg/domain"
	"github.com/shouni/go-storyboard-kit/pkg/metrics"
	"github.com/shouni/go-storyboard-kit/pkg/provider"
)

const (
	providerName              = "gemini"
	defaultGeminiTemperature  = float32(0.2)
	defaultNumberOfVideos     = int32(1)
	defaultVideoDurationInSec = int32(5)
	defaultCacheExpiration    = 30 * time.Minute
	cacheCleanupInterval      = 1 * time.Hour
	defaultTTL                = 1 * time.Hour
)

// 参照画像は Fetcher の取得ポリシーを通して画像生成キットへ渡します。
var (
	_ ports.ContentReader = (*asset.Fetcher)(nil)
	_ ports.Downloader    = (*asset.Fetcher)(nil)
)

// Config は Gemini クライアントの設定です。
type Config struct {
	APIKey      string
	TextModel   string
	ImageModel  string
	VideoModel  string
	AspectRatio string
	// MaxRetries / InitialDelay / MaxDelay は go-gemini-client 内部のリトライ設定です。
	MaxRetries   uint64
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// VideoAPI は動画生成に使う genai の操作です。go-gemini-client は動画を扱わないため genai を直接使います。
type VideoAPI interface {
	GenerateVideos(ctx context.Context, model string, prompt string, image *genai.Image, config *genai.GenerateVideosConfig) (*genai.GenerateVideosOperation, error)
	GetVideosOperation(ctx context.Context, operation *genai.GenerateVideosOperation, config *genai.GetOperationConfig) (*genai.GenerateVideosOperation, error)
}

// Client は Text / Image / Video の各プロバイダ契約を満たします。
type Client struct {
	ai      gemini.GenerativeModel
	images  ports.ImageGenerator
	videos  VideoAPI
	cfg     Config
	fetcher *asset.Fetcher
	store   asset.ArtifactStore
	limiter *rate.Limiter
	metrics *metrics.Metrics
}

// New は Gemini クライアントを初期化します。
// 生成画像はバイト列で返るため、store に保存して URL に変換します。
func New(ctx context.Context, cfg Config, fetcher *asset.Fetcher, store asset.ArtifactStore, limiter *rate.Limiter, m *metrics.Metrics) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("Gemini API キーは必須です")
	}

	aiClient, err := gemini.NewClient(ctx, gemini.Config{
		APIKey:       cfg.APIKey,
		Temperature:  genai.Ptr(defaultGeminiTemperature),
		MaxRetries:   cfg.MaxRetries,
		InitialDelay: cfg.InitialDelay,
		MaxDelay:     cfg.MaxDelay,
	})
	if err != nil {
		return nil, fmt.Errorf("AIクライアントの初期化に失敗しました: %w", err)
	}

	gc, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("動画クライアントの初期化に失敗しました: %w", err)
	}

	return NewWithClients(cfg, aiClient, videoClient{gc}, fetcher, store, limiter, m)
}

// NewWithClients は生成済みのクライアントから組み立てます。
func NewWithClients(cfg Config, aiClient gemini.GenerativeModel, videos VideoAPI, fetcher *asset.Fetcher, store asset.ArtifactStore, limiter *rate.Limiter, m *metrics.Metrics) (*Client, error) {
	if aiClient == nil {
		return nil, fmt.Errorf("AIクライアントは必須です")
	}
	if fetcher == nil {
		return nil, fmt.Errorf("fetcher は必須です")
	}
	if store == nil {
		return nil, fmt.Errorf("ArtifactStore は必須です")
	}

	core, err := imagekit.NewGeminiImageCore(
		aiClient,
		fetcher,
		fetcher,
		cache.New(defaultCacheExpiration, cacheCleanupInterval),
		defaultTTL,
		false,
	)
	if err != nil {
		return nil, fmt.Errorf("GeminiImageCore の初期化に失敗しました: %w", err)
	}
	images, err := imagekit.NewGeminiGenerator(core)
	if err != nil {
		return nil, fmt.Errorf("画像生成エンジンの初期化に失敗しました: %w", err)
	}

	return &Client{
		ai:      aiClient,
		images:  images,
		videos:  videos,
		cfg:     cfg,
		fetcher: fetcher,
		store:   store,
		limiter: limiter,
		metrics: m,
	}, nil
}

// Suite はこのクライアントをプロバイダ一式として返します。
func (c *Client) Suite() provider.Suite {
	s := provider.Suite{Name: providerName, Text: c, Image: c}
	if c.videos != nil {
		s.Video = c
	}
	return s
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

// videoClient は genai.Client を VideoAPI に合わせます。
type videoClient struct {
	client *genai.Client
}

func (v videoClient) GenerateVideos(ctx context.Context, model string, prompt string, image *genai.Image, config *genai.GenerateVideosConfig) (*genai.GenerateVideosOperation, error) {
	return v.client.Models.GenerateVideos(ctx, model, prompt, image, config)
}

func (v videoClient) GetVideosOperation(ctx context.Context, operation *genai.GenerateVideosOperation, config *genai.GetOperationConfig) (*genai.GenerateVideosOperation, error) {
	return v.client.Operations.GetVideosOperation(ctx, operation, config)
}

// classifyError は Gemini のエラーを ProviderError に変換します。
func classifyError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &domain.ProviderError{Provider: providerName, Op: op, Err: err}
	}

	var apiErr *genai.APIError
	if errors.As(err, &apiErr) {
		return &domain.ProviderError{
			Provider:   providerName,
			Op:         op,
			StatusCode: apiErr.Code,
			Transient:  domain.IsTransientStatus(apiErr.Code),
			Err:        err,
		}
	}

	var netErr net.Error
	return &domain.ProviderError{
		Provider:  providerName,
		Op:        op,
		Transient: errors.As(err, &netErr),
		Err:       err,
	}
}

func inlinePart(data []byte, mimeType string) *genai.Part {
	return &genai.Part{InlineData: &genai.Blob{MIMEType: mimeType, Data: data}}
}
