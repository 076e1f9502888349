package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shouni/go-utils/envutil"

	kit "github.com/shouni/go-storyboard-kit/pkg/config"
)

// デフォルト値の定義なのだ
const (
	DefaultOutputDir   = "output"
	DefaultServerAddr  = ":8080"
	DefaultNATSSubject = "storyboard.jobs"
	DefaultJobTTL      = 24 * time.Hour
	DefaultHTTPTimeout = 60 * time.Second
)

// LoadDotEnv は .env ファイルがあれば環境変数に読み込むのだ。既に設定済みの値は上書きしないのだ。
// ファイルが無いのはエラーにしないのだ。
func LoadDotEnv(paths ...string) error {
	if err := godotenv.Load(paths...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf(".env の読み込みに失敗しました: %w", err)
	}
	return nil
}

// LoadConfig は環境変数から設定を読み込み、キットの Config を返すのだ！
// 数値や期間の書式が不正な環境変数はまとめてエラーにするのだ。
func LoadConfig() (kit.Config, error) {
	cfg := kit.DefaultConfig()
	p := &envParser{}

	cfg.Provider = kit.Provider(strings.ToLower(envutil.GetEnv("STORYBOARD_PROVIDER", string(cfg.Provider))))
	cfg.GeminiAPIKey = envutil.GetEnv("GEMINI_API_KEY", "")
	cfg.ArkAPIKey = envutil.GetEnv("ARK_API_KEY", "")
	cfg.ArkBaseURL = envutil.GetEnv("ARK_BASE_URL", cfg.ArkBaseURL)
	cfg.TextModel = envutil.GetEnv("TEXT_MODEL", "")
	cfg.ImageModel = envutil.GetEnv("IMAGE_MODEL", "")
	cfg.VideoModel = envutil.GetEnv("VIDEO_MODEL", "")
	cfg.StyleSuffix = envutil.GetEnv("IMAGE_PROMPT_SUFFIX", cfg.StyleSuffix)
	cfg.NegativePrompt = envutil.GetEnv("NEGATIVE_PROMPT", cfg.NegativePrompt)
	cfg.AspectRatio = envutil.GetEnv("ASPECT_RATIO", cfg.AspectRatio)
	cfg.BackgroundPolicy = kit.BackgroundPolicy(strings.ToLower(envutil.GetEnv("BACKGROUND_POLICY", string(cfg.BackgroundPolicy))))
	cfg.UseAnchor = p.bool("USE_ANCHOR", cfg.UseAnchor)

	cfg.FrameConcurrency = p.int("FRAME_CONCURRENCY", cfg.FrameConcurrency)
	cfg.RateInterval = p.duration("RATE_INTERVAL", cfg.RateInterval)
	cfg.PollInterval = p.duration("POLL_INTERVAL", cfg.PollInterval)
	cfg.PollMaxAttempts = p.int("POLL_MAX_ATTEMPTS", cfg.PollMaxAttempts)
	cfg.PollTimeout = p.duration("POLL_TIMEOUT", cfg.PollTimeout)
	cfg.RequestTimeout = p.duration("REQUEST_TIMEOUT", cfg.RequestTimeout)
	cfg.RetryMaxAttempts = p.int("RETRY_MAX_ATTEMPTS", cfg.RetryMaxAttempts)
	cfg.RetryBaseDelay = p.duration("RETRY_BASE_DELAY", cfg.RetryBaseDelay)
	cfg.RetryMaxDelay = p.duration("RETRY_MAX_DELAY", cfg.RetryMaxDelay)
	cfg.MaxFrames = p.int("MAX_FRAMES", cfg.MaxFrames)
	cfg.MaxBackgrounds = p.int("MAX_BACKGROUNDS", cfg.MaxBackgrounds)

	cfg.AssetDir = envutil.GetEnv("ASSET_DIR", cfg.AssetDir)
	cfg.S3Bucket = envutil.GetEnv("S3_BUCKET", "")
	cfg.AssetBaseURL = envutil.GetEnv("ASSET_BASE_URL", "")
	cfg.DynamoTable = envutil.GetEnv("DYNAMODB_TABLE", "")
	cfg.AWSRegion = envutil.GetEnv("AWS_REGION", "")
	cfg.NATSURL = envutil.GetEnv("NATS_URL", "")
	cfg.DispatchWorkers = p.int("DISPATCH_WORKERS", cfg.DispatchWorkers)
	cfg.DispatchQueueDepth = p.int("DISPATCH_QUEUE_DEPTH", cfg.DispatchQueueDepth)

	if err := p.err(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// envParser は型付きの環境変数を読み、書式エラーを溜めておくのだ。
type envParser struct {
	errs []error
}

func (p *envParser) int(key string, def int) int {
	raw := envutil.GetEnv(key, "")
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s は整数で指定してください: %q", key, raw))
		return def
	}
	return v
}

func (p *envParser) bool(key string, def bool) bool {
	raw := envutil.GetEnv(key, "")
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s は true/false で指定してください: %q", key, raw))
		return def
	}
	return v
}

func (p *envParser) duration(key string, def time.Duration) time.Duration {
	raw := envutil.GetEnv(key, "")
	if raw == "" {
		return def
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s は期間 (例: 2s) で指定してください: %q", key, raw))
		return def
	}
	return v
}

func (p *envParser) err() error {
	return errors.Join(p.errs...)
}

// GenerateOptions は CLI フラグから渡される実行時のパラメータなのだ。
type GenerateOptions struct {
	// 入力
	BriefFile string // --brief
	PlanFile  string // --plan: 再開する storyboard.json
	Frames    []int  // --frames: 動画にするフレーム番号

	// 出力
	OutputDir string // --output-dir (ローカル or s3://...)

	// 実行制御
	Verbose     bool          // --verbose
	HTTPTimeout time.Duration // --http-timeout
	ServerAddr  string        // --addr

	// AllowLocalFiles は任意のローカルパスを参照画像として読むのだ。CLI でだけ true にするのだ。
	AllowLocalFiles bool
}
