package builder

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/shouni/go-http-kit/httpkit"
	"golang.org/x/time/rate"

	"github.com/shouni/go-storyboard-kit/internal/config"
	"github.com/shouni/go-storyboard-kit/pkg/asset"
	kit "github.com/shouni/go-storyboard-kit/pkg/config"
	"github.com/shouni/go-storyboard-kit/pkg/dispatch"
	"github.com/shouni/go-storyboard-kit/pkg/metrics"
	"github.com/shouni/go-storyboard-kit/pkg/provider"
	"github.com/shouni/go-storyboard-kit/pkg/provider/ark"
	"github.com/shouni/go-storyboard-kit/pkg/provider/gemini"
	"github.com/shouni/go-storyboard-kit/pkg/publisher"
	"github.com/shouni/go-storyboard-kit/pkg/store"
	"github.com/shouni/go-storyboard-kit/pkg/workflow"
)

// Build は設定とオプションから AppContext を組み立てるのだ。
// S3 / DynamoDB / NATS は設定されている場合だけ使い、それ以外はローカル実装に落とすのだ。
func Build(ctx context.Context, cfg kit.Config, opts config.GenerateOptions) (*AppContext, error) {
	cfg = ResolveModels(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定が不正です: %w", err)
	}

	app := &AppContext{Config: cfg, Options: opts}
	app.Registry = prometheus.NewRegistry()
	app.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	app.Metrics = metrics.New(app.Registry)

	timeout := opts.HTTPTimeout
	if timeout <= 0 {
		timeout = config.DefaultHTTPTimeout
	}
	httpClient := &http.Client{Timeout: timeout}
	fetcher := BuildFetcher(cfg, opts, timeout)

	var s3Client *s3.Client
	var dynamoClient *dynamodb.Client
	if cfg.S3Bucket != "" || cfg.DynamoTable != "" {
		awsCfg, err := loadAWSConfig(ctx, cfg.AWSRegion)
		if err != nil {
			return nil, err
		}
		if cfg.S3Bucket != "" {
			s3Client = s3.NewFromConfig(awsCfg)
		}
		if cfg.DynamoTable != "" {
			dynamoClient = dynamodb.NewFromConfig(awsCfg)
		}
	}

	artifacts := BuildArtifactStore(cfg, s3Client)
	providers, err := BuildProviders(ctx, cfg, httpClient, fetcher, artifacts, app.Metrics)
	if err != nil {
		return nil, err
	}
	app.Store = BuildStateStore(cfg, dynamoClient)

	app.Jobs = dispatch.NewJobRegistry(config.DefaultJobTTL)
	d, err := BuildDispatcher(cfg, app.Jobs)
	if err != nil {
		return nil, err
	}
	app.Dispatcher = d
	app.onClose(d.Close)

	writer := publisher.RoutingWriter{Local: publisher.LocalWriter{}}
	if s3Client != nil {
		writer.S3 = publisher.NewS3Writer(s3Client)
	}

	mgr, err := workflow.New(ctx, workflow.ManagerArgs{
		Config:    cfg,
		Providers: providers,
		Fetcher:   fetcher,
		Store:     app.Store,
		Metrics:   app.Metrics,
		Publisher: publisher.NewStoryboardPublisher(writer),
		OutputDir: app.OutputDir(),
	})
	if err != nil {
		_ = app.Close()
		return nil, fmt.Errorf("ワークフローの初期化に失敗しました: %w", err)
	}
	app.Manager = mgr

	slog.Info("アプリケーションを初期化しました",
		"provider", providers.Name,
		"store", fmt.Sprintf("%T", app.Store),
		"dispatcher", fmt.Sprintf("%T", app.Dispatcher),
		"output_dir", app.OutputDir(),
	)
	return app, nil
}

// ResolveModels は未指定のモデル名をプロバイダごとの既定値で埋めるのだ。
func ResolveModels(cfg kit.Config) kit.Config {
	text, image, video := kit.DefaultGeminiModel, kit.DefaultImageModel, kit.DefaultVideoModel
	if cfg.Provider == kit.ProviderArk {
		text, image, video = kit.DefaultArkTextModel, kit.DefaultArkImageModel, kit.DefaultArkVideoModel
		if cfg.ArkBaseURL == "" {
			cfg.ArkBaseURL = kit.DefaultArkBaseURL
		}
	}
	if cfg.TextModel == "" {
		cfg.TextModel = text
	}
	if cfg.ImageModel == "" {
		cfg.ImageModel = image
	}
	if cfg.VideoModel == "" {
		cfg.VideoModel = video
	}
	return cfg
}

// BuildFetcher は参照画像の取得器を組み立てるのだ。
// 任意のローカルファイルは CLI から明示されたときだけ読み、それ以外は生成物の保存先だけを許すのだ。
func BuildFetcher(cfg kit.Config, opts config.GenerateOptions, timeout time.Duration) *asset.Fetcher {
	// 一時エラーの再試行はワークフロー側で行うので1回に留めるのだ
	client := httpkit.New(timeout, httpkit.WithMaxRetries(1))
	return asset.NewFetcher(client, asset.FetcherOptions{
		Timeout:         timeout,
		AllowLocalFiles: opts.AllowLocalFiles,
		LocalRoots:      []string{cfg.AssetDir},
	})
}

// BuildLimiter はプロバイダ呼び出しの間隔を制限するリミッターを作るのだ。RateInterval が 0 以下なら制限しないのだ。
func BuildLimiter(cfg kit.Config) *rate.Limiter {
	if cfg.RateInterval <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Every(cfg.RateInterval), 2)
}

// BuildProviders は設定されたプロバイダ系統のクライアントを初期化するのだ。
func BuildProviders(ctx context.Context, cfg kit.Config, httpClient *http.Client, fetcher *asset.Fetcher, artifacts asset.ArtifactStore, m *metrics.Metrics) (provider.Suite, error) {
	limiter := BuildLimiter(cfg)
	switch cfg.Provider {
	case kit.ProviderGemini:
		c, err := gemini.New(ctx, gemini.Config{
			APIKey:       cfg.GeminiAPIKey,
			TextModel:    cfg.TextModel,
			ImageModel:   cfg.ImageModel,
			VideoModel:   cfg.VideoModel,
			AspectRatio:  cfg.AspectRatio,
			MaxRetries:   1,
			InitialDelay: cfg.RetryBaseDelay,
			MaxDelay:     cfg.RetryMaxDelay,
		}, fetcher, artifacts, limiter, m)
		if err != nil {
			return provider.Suite{}, fmt.Errorf("Gemini クライアントの初期化に失敗したのだ: %w", err)
		}
		return c.Suite(), nil
	case kit.ProviderArk:
		c, err := ark.New(ark.Config{
			APIKey:      cfg.ArkAPIKey,
			BaseURL:     cfg.ArkBaseURL,
			TextModel:   cfg.TextModel,
			ImageModel:  cfg.ImageModel,
			VideoModel:  cfg.VideoModel,
			AspectRatio: cfg.AspectRatio,
		}, httpClient, limiter, m)
		if err != nil {
			return provider.Suite{}, fmt.Errorf("Ark クライアントの初期化に失敗したのだ: %w", err)
		}
		return c.Suite(), nil
	default:
		return provider.Suite{}, fmt.Errorf("未対応のプロバイダです: %q", cfg.Provider)
	}
}

// BuildArtifactStore は生成画像の保存先を選ぶのだ。
func BuildArtifactStore(cfg kit.Config, client asset.S3PutAPI) asset.ArtifactStore {
	if cfg.S3Bucket != "" && client != nil {
		return asset.NewS3Store(client, cfg.S3Bucket, cfg.AssetBaseURL)
	}
	return asset.NewLocalStore(cfg.AssetDir)
}

// BuildStateStore はプロジェクト状態の保存先を選ぶのだ。
func BuildStateStore(cfg kit.Config, client store.DynamoAPI) store.ProjectStateStore {
	if cfg.DynamoTable != "" && client != nil {
		return store.NewDynamoStore(client, cfg.DynamoTable)
	}
	return store.NewMemoryStore(config.DefaultJobTTL)
}

// BuildDispatcher は NATS_URL があれば NATS を、無ければプロセス内のワーカーを使うのだ。
func BuildDispatcher(cfg kit.Config, registry *dispatch.JobRegistry) (dispatch.Dispatcher, error) {
	if cfg.NATSURL == "" {
		return dispatch.NewLocalDispatcher(cfg.DispatchWorkers, cfg.DispatchQueueDepth, cfg.RetryMaxAttempts, registry), nil
	}
	nc, err := dispatch.ConnectNATS(cfg.NATSURL)
	if err != nil {
		return nil, err
	}
	return dispatch.NewNATSDispatcher(nc, config.DefaultNATSSubject, cfg.RetryMaxAttempts, registry), nil
}

func loadAWSConfig(ctx context.Context, region string) (aws.Config, error) {
	var optFns []func(*awsconfig.LoadOptions) error
	if region != "" {
		optFns = append(optFns, awsconfig.WithRegion(region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("AWS 設定の読み込みに失敗しました: %w", err)
	}
	slog.Debug("AWS 設定を読み込みました", "region", awsCfg.Region)
	return awsCfg, nil
}
