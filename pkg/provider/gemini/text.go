package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shouni/go-gemini-client/gemini"
	"google.golang.org/genai"

	"github.com/shouni/go-storyboard-kit/pkg/domain"
	"github.com/shouni/go-storyboard-kit/pkg/provider"
)

const jsonOutputInstruction = "Respond with a single JSON object only."

// GenerateText はプロンプトと画像からテキストを生成します。
func (c *Client) GenerateText(ctx context.Context, req provider.TextRequest) (string, error) {
	parts, err := c.imageParts(ctx, req.Images)
	if err != nil {
		return "", err
	}
	parts = append(parts, &genai.Part{Text: req.Prompt})

	system := req.SystemPrompt
	if req.JSONOutput {
		system = strings.TrimSpace(system + "\n" + jsonOutputInstruction)
	}

	if err := c.wait(ctx); err != nil {
		return "", err
	}
	resp, err := c.ai.GenerateWithParts(ctx, c.cfg.TextModel, parts, gemini.GenerateOptions{SystemPrompt: system})
	c.metrics.ProviderCall(providerName, "text", err)
	if err != nil {
		return "", classifyError("text", err)
	}

	if resp == nil || resp.Text == "" {
		return "", &domain.ProviderError{Provider: providerName, Op: "text", Err: errors.New("empty response")}
	}
	return resp.Text, nil
}

// imageParts は画像入力を inline パートに変換します。バイト列が無い場合は URL から取得します。
func (c *Client) imageParts(ctx context.Context, images []provider.ImageInput) ([]*genai.Part, error) {
	parts := make([]*genai.Part, 0, len(images)+1)
	for _, img := range images {
		data, mimeType := img.Data, img.MIMEType
		if len(data) == 0 {
			blob, err := c.fetcher.Fetch(ctx, img.URL)
			if err != nil {
				return nil, fmt.Errorf("参照画像の取得に失敗しました (%s): %w", img.URL, err)
			}
			data, mimeType = blob.Data, blob.MIMEType
		}
		parts = append(parts, inlinePart(data, mimeType))
	}
	return parts, nil
}
