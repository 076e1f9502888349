package config

import (
	"fmt"
	"time"
)

// デフォルト値の定義
const (
	DefaultProvider           = ProviderGemini
	DefaultGeminiModel        = "gemini-3-flash-preview"
	DefaultImageModel         = "gemini-3-pro-image-preview"
	DefaultVideoModel         = "veo-3.0-fast-generate-001"
	DefaultArkBaseURL         = "https://ark.cn-beijing.volces.com"
	DefaultArkTextModel       = "doubao-seed-1-6-vision-250815"
	DefaultArkImageModel      = "doubao-seedream-4-0-250828"
	DefaultArkVideoModel      = "doubao-seedance-1-0-pro-250528"
	DefaultAspectRatio        = "16:9"
	DefaultFrameConcurrency   = 2
	DefaultRateInterval       = 2 * time.Second
	DefaultPollInterval       = 2 * time.Second
	DefaultPollMaxAttempts    = 30
	DefaultPollTimeout        = 60 * time.Second
	DefaultRetryMaxAttempts   = 3
	DefaultRetryBaseDelay     = 1 * time.Second
	DefaultRetryMaxDelay      = 10 * time.Second
	DefaultRetryJitter        = 0.2
	DefaultMaxFrames          = 24
	DefaultMaxBackgrounds     = 6
	DefaultRequestTimeout     = 5 * time.Minute
	DefaultBackgroundPolicy   = BackgroundDegrade
	DefaultStyleSuffix        = "cinematic commercial photography, consistent color grading, high detail"
	DefaultNegativePrompt     = "text, watermark, logo distortion, extra limbs, blurry"
	DefaultAssetDir           = "output/assets"
	DefaultDispatchWorkers    = 2
	DefaultDispatchQueueDepth = 32
)

// Provider は生成に使うプロバイダ系統です。
type Provider string

const (
	ProviderGemini Provider = "gemini"
	ProviderArk    Provider = "ark"
)

// BackgroundPolicy は背景生成に失敗したときのフレームの扱いです。
type BackgroundPolicy string

const (
	// BackgroundDegrade は背景なしでフレーム生成を続行します。
	BackgroundDegrade BackgroundPolicy = "degrade"
	// BackgroundBlock は背景が無いフレームを失敗として記録し、再実行まで保留します。
	BackgroundBlock BackgroundPolicy = "block"
)

// Config は Storyboard Kit の各ステージを動作させるための基本設定です。
// 起動時に一度だけ組み立て、各ステージへ明示的に渡します。
type Config struct {
	// --- Provider Settings ---
	Provider     Provider
	GeminiAPIKey string
	TextModel    string
	ImageModel   string
	VideoModel   string
	ArkAPIKey    string
	ArkBaseURL   string

	// --- Generation Settings ---
	StyleSuffix      string
	NegativePrompt   string
	AspectRatio      string
	UseAnchor        bool
	BackgroundPolicy BackgroundPolicy

	// --- Concurrency ---
	FrameConcurrency int
	RateInterval     time.Duration

	// --- Polling ---
	PollInterval    time.Duration
	PollMaxAttempts int
	PollTimeout     time.Duration

	// --- Timeout & Retries ---
	RequestTimeout   time.Duration
	RetryMaxAttempts int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration
	RetryJitter      float64

	// --- Plan Limits ---
	MaxFrames      int
	MaxBackgrounds int

	// --- Storage & Dispatch ---
	AssetDir           string
	S3Bucket           string
	AssetBaseURL       string
	DynamoTable        string
	AWSRegion          string
	NATSURL            string
	DispatchWorkers    int
	DispatchQueueDepth int
}

// DefaultConfig は推奨されるデフォルト設定を返すヘルパー関数です。
func DefaultConfig() Config {
	return Config{
		Provider:           DefaultProvider,
		TextModel:          DefaultGeminiModel,
		ImageModel:         DefaultImageModel,
		VideoModel:         DefaultVideoModel,
		ArkBaseURL:         DefaultArkBaseURL,
		StyleSuffix:        DefaultStyleSuffix,
		NegativePrompt:     DefaultNegativePrompt,
		AspectRatio:        DefaultAspectRatio,
		UseAnchor:          true,
		BackgroundPolicy:   DefaultBackgroundPolicy,
		FrameConcurrency:   DefaultFrameConcurrency,
		RateInterval:       DefaultRateInterval,
		PollInterval:       DefaultPollInterval,
		PollMaxAttempts:    DefaultPollMaxAttempts,
		PollTimeout:        DefaultPollTimeout,
		RequestTimeout:     DefaultRequestTimeout,
		RetryMaxAttempts:   DefaultRetryMaxAttempts,
		RetryBaseDelay:     DefaultRetryBaseDelay,
		RetryMaxDelay:      DefaultRetryMaxDelay,
		RetryJitter:        DefaultRetryJitter,
		MaxFrames:          DefaultMaxFrames,
		MaxBackgrounds:     DefaultMaxBackgrounds,
		AssetDir:           DefaultAssetDir,
		DispatchWorkers:    DefaultDispatchWorkers,
		DispatchQueueDepth: DefaultDispatchQueueDepth,
	}
}

// Validate は設定値の整合性を検証します。
func (c Config) Validate() error {
	switch c.Provider {
	case ProviderGemini:
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("GeminiAPIKey は必須です")
		}
	case ProviderArk:
		if c.ArkAPIKey == "" {
			return fmt.Errorf("ArkAPIKey は必須です")
		}
	default:
		return fmt.Errorf("未対応のプロバイダです: %q", c.Provider)
	}
	switch c.BackgroundPolicy {
	case BackgroundDegrade, BackgroundBlock:
	default:
		return fmt.Errorf("未対応の背景ポリシーです: %q", c.BackgroundPolicy)
	}
	if c.FrameConcurrency < 1 {
		return fmt.Errorf("FrameConcurrency は 1 以上が必要です: %d", c.FrameConcurrency)
	}
	if c.PollInterval <= 0 || c.PollMaxAttempts < 1 {
		return fmt.Errorf("ポーリング設定が不正です: interval=%s attempts=%d", c.PollInterval, c.PollMaxAttempts)
	}
	if c.RetryMaxAttempts < 1 {
		return fmt.Errorf("RetryMaxAttempts は 1 以上が必要です: %d", c.RetryMaxAttempts)
	}
	if c.MaxFrames < 1 || c.MaxBackgrounds < 1 {
		return fmt.Errorf("計画サイズの上限が不正です: frames=%d backgrounds=%d", c.MaxFrames, c.MaxBackgrounds)
	}
	return nil
}
