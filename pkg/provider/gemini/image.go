package gemini

import (
	"context"
	"fmt"

	"github.com/shouni/gemini-image-kit/ports"

	"github.com/shouni/go-storyboard-kit/pkg/asset"
	"github.com/shouni/go-storyboard-kit/pkg/domain"
	"github.com/shouni/go-storyboard-kit/pkg/provider"
)

// SubmitImage は画像を同期的に生成し、保存先の URL を返します。
func (c *Client) SubmitImage(ctx context.Context, req provider.ImageRequest) (provider.Submission, error) {
	if err := c.wait(ctx); err != nil {
		return provider.Submission{}, err
	}
	resp, err := c.images.GenerateMangaPage(ctx, toPageRequest(req, c.cfg.ImageModel, c.cfg.AspectRatio))
	c.metrics.ProviderCall(providerName, "image", err)
	if err != nil {
		return provider.Submission{}, classifyError("image", err)
	}
	if resp == nil || len(resp.Data) == 0 {
		return provider.Submission{}, &domain.ProviderError{Provider: providerName, Op: "image", Err: fmt.Errorf("no image in response")}
	}

	mimeType := resp.MimeType
	if mimeType == "" {
		mimeType = "image/png"
	}
	url, err := c.store.Put(ctx, asset.ArtifactKey("images", "gemini", mimeType), resp.Data, mimeType)
	if err != nil {
		return provider.Submission{}, fmt.Errorf("生成画像の保存に失敗しました: %w", err)
	}
	return provider.Submission{URL: url}, nil
}

// PollImage は同期型のため呼ばれることはありません。
func (c *Client) PollImage(ctx context.Context, taskID string) (provider.PollResult, error) {
	return provider.PollResult{}, fmt.Errorf("gemini の画像生成は同期型のためポーリングできません: %s", taskID)
}

// toPageRequest はアンカー・背景・参照の順に画像を並べたページ生成要求を作ります。
func toPageRequest(req provider.ImageRequest, model, defaultAspect string) ports.ImagePageRequest {
	aspect := req.AspectRatio
	if aspect == "" {
		aspect = defaultAspect
	}
	urls := req.AllReferenceURLs()
	images := make([]ports.ImageURI, 0, len(urls))
	for _, u := range urls {
		images = append(images, ports.ImageURI{ReferenceURL: u})
	}
	return ports.ImagePageRequest{
		GenerationOptions: ports.GenerationOptions{
			Model:          model,
			Prompt:         req.Prompt,
			SystemPrompt:   req.SystemPrompt,
			NegativePrompt: req.NegativePrompt,
			AspectRatio:    aspect,
			Seed:           req.Seed,
		},
		Images: images,
	}
}
