package ark

import (
	"context"
	"errors"
	"fmt"

	"github.com/shouni/go-storyboard-kit/pkg/domain"
	"github.com/shouni/go-storyboard-kit/pkg/provider"
)

// aspectSizes はアスペクト比を Ark の size パラメータに対応付けます。
var aspectSizes = map[string]string{
	"16:9": "1664x936",
	"9:16": "936x1664",
	"1:1":  "1024x1024",
	"4:3":  "1472x1104",
	"3:4":  "1104x1472",
}

type imageResponse struct {
	Data []struct {
		URL string `json:"url"`
	} `json:"data"`
}

// SubmitImage は画像を同期的に生成します。参照画像は image パラメータで渡します。
func (c *Client) SubmitImage(ctx context.Context, req provider.ImageRequest) (provider.Submission, error) {
	aspect := req.AspectRatio
	if aspect == "" {
		aspect = c.cfg.AspectRatio
	}
	size, ok := aspectSizes[aspect]
	if !ok {
		size = aspectSizes["1:1"]
	}

	prompt := req.Prompt
	if req.SystemPrompt != "" {
		prompt = req.SystemPrompt + "\n\n" + prompt
	}
	if req.NegativePrompt != "" {
		prompt += "\n\nAvoid: " + req.NegativePrompt
	}

	body := map[string]any{
		"model":           c.cfg.ImageModel,
		"prompt":          prompt,
		"size":            size,
		"response_format": "url",
		"watermark":       false,
	}
	if refs := req.AllReferenceURLs(); len(refs) > 0 {
		body["image"] = refs
	}
	if req.Seed != nil {
		body["seed"] = *req.Seed
	}

	var resp imageResponse
	if err := c.do(ctx, "image", "POST", "/api/v3/images/generations", body, &resp); err != nil {
		return provider.Submission{}, err
	}
	for _, d := range resp.Data {
		if d.URL != "" {
			return provider.Submission{URL: d.URL}, nil
		}
	}
	return provider.Submission{}, &domain.ProviderError{Provider: providerName, Op: "image", Err: errors.New("no images returned")}
}

// PollImage は同期型のため呼ばれることはありません。
func (c *Client) PollImage(ctx context.Context, taskID string) (provider.PollResult, error) {
	return provider.PollResult{}, fmt.Errorf("ark の画像生成は同期型のためポーリングできません: %s", taskID)
}
