// Package ark はタスク型 REST API (Volcengine Ark) のプロバイダ実装です。
package ark

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shouni/go-utils/text"
	"golang.org/x/time/rate"

	"github.com/shouni/go-storyboard-kit/pkg/domain"
	"github.com/shouni/go-storyboard-kit/pkg/metrics"
	"github.com/shouni/go-storyboard-kit/pkg/provider"
)

const (
	providerName     = "ark"
	defaultTimeout   = 60 * time.Second
	maxErrorBodySize = 2048
)

// Config は Ark クライアントの設定です。
type Config struct {
	APIKey      string
	BaseURL     string
	TextModel   string
	ImageModel  string
	VideoModel  string
	AspectRatio string
}

// Client は Ark の画像生成・動画タスク・チャット API を扱います。
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
	metrics    *metrics.Metrics
}

// New は Client を生成します。httpClient が nil の場合は既定のタイムアウトで生成します。
func New(cfg Config, httpClient *http.Client, limiter *rate.Limiter, m *metrics.Metrics) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("Ark API キーは必須です")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("Ark BaseURL は必須です")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	return &Client{cfg: cfg, httpClient: httpClient, limiter: limiter, metrics: m}, nil
}

// Suite はこのクライアントをプロバイダ一式として返します。
func (c *Client) Suite() provider.Suite {
	return provider.Suite{Name: providerName, Text: c, Image: c, Video: c}
}

func (c *Client) do(ctx context.Context, op, method, path string, body any, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	err := c.roundTrip(ctx, op, method, path, body, out)
	c.metrics.ProviderCall(providerName, op, err)
	return err
}

func (c *Client) roundTrip(ctx context.Context, op, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("リクエストのエンコードに失敗しました: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		transient := !errors.Is(err, context.Canceled)
		return &domain.ProviderError{Provider: providerName, Op: op, Transient: transient, Err: err}
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return &domain.ProviderError{Provider: providerName, Op: op, Transient: true, Err: err}
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		msg := text.Truncate(strings.TrimSpace(string(data)), maxErrorBodySize, "...")
		return &domain.ProviderError{
			Provider:   providerName,
			Op:         op,
			StatusCode: res.StatusCode,
			Transient:  domain.IsTransientStatus(res.StatusCode),
			Err:        errors.New(msg),
		}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &domain.ProviderError{Provider: providerName, Op: op, Err: fmt.Errorf("レスポンスのデコードに失敗しました: %w", err)}
	}
	return nil
}
