package ark

import (
	"context"
	"encoding/base64"
	"errors"

	"github.com/shouni/go-storyboard-kit/pkg/domain"
	"github.com/shouni/go-storyboard-kit/pkg/provider"
)

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// GenerateText はチャット API でテキストを生成します。画像は image_url パートとして渡します。
func (c *Client) GenerateText(ctx context.Context, req provider.TextRequest) (string, error) {
	content := make([]map[string]any, 0, len(req.Images)+1)
	for _, img := range req.Images {
		u := img.URL
		if len(img.Data) > 0 {
			u = "data:" + img.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
		}
		content = append(content, map[string]any{
			"type":      "image_url",
			"image_url": map[string]any{"url": u},
		})
	}
	content = append(content, map[string]any{"type": "text", "text": req.Prompt})

	messages := make([]map[string]any, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, map[string]any{"role": "system", "content": req.SystemPrompt})
	}
	messages = append(messages, map[string]any{"role": "user", "content": content})

	body := map[string]any{
		"model":    c.cfg.TextModel,
		"messages": messages,
	}
	if req.JSONOutput {
		body["response_format"] = map[string]any{"type": "json_object"}
	}

	var resp chatResponse
	if err := c.do(ctx, "text", "POST", "/api/v3/chat/completions", body, &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", &domain.ProviderError{Provider: providerName, Op: "text", Err: errors.New("empty chat content")}
	}
	return resp.Choices[0].Message.Content, nil
}
