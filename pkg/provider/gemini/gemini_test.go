package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/shouni/go-gemini-client/gemini"
	"google.golang.org/genai"

	"github.com/shouni/go-storyboard-kit/pkg/asset"
	"github.com/shouni/go-storyboard-kit/pkg/domain"
	"github.com/shouni/go-storyboard-kit/pkg/provider"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00")

func pngDataURL(suffix byte) string {
	b := append(append([]byte{}, pngHeader...), suffix)
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(b)
}

type fakeModel struct {
	parts []*genai.Part
	model string
	opts  gemini.GenerateOptions
	resp  *gemini.Response
	err   error
}

func (f *fakeModel) GenerateContent(ctx context.Context, model, prompt string) (*gemini.Response, error) {
	return f.GenerateWithParts(ctx, model, []*genai.Part{{Text: prompt}}, gemini.GenerateOptions{})
}

func (f *fakeModel) GenerateWithParts(_ context.Context, model string, parts []*genai.Part, opts gemini.GenerateOptions) (*gemini.Response, error) {
	f.model, f.parts, f.opts = model, parts, opts
	return f.resp, f.err
}

func (f *fakeModel) IsVertexAI() bool { return false }

func (f *fakeModel) UploadFile(context.Context, io.Reader, string, string) (string, string, error) {
	return "", "", errors.New("not supported")
}

func (f *fakeModel) DeleteFile(context.Context, string) error { return nil }

type fakeVideos struct {
	image  *genai.Image
	config *genai.GenerateVideosConfig
	op     *genai.GenerateVideosOperation
}

func (f *fakeVideos) GenerateVideos(_ context.Context, _ string, _ string, image *genai.Image, config *genai.GenerateVideosConfig) (*genai.GenerateVideosOperation, error) {
	f.image, f.config = image, config
	return f.op, nil
}

func (f *fakeVideos) GetVideosOperation(context.Context, *genai.GenerateVideosOperation, *genai.GetOperationConfig) (*genai.GenerateVideosOperation, error) {
	return f.op, nil
}

func imageResponse(data []byte) *gemini.Response {
	return &gemini.Response{RawResponse: &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
		FinishReason: genai.FinishReasonStop,
		Content: &genai.Content{Parts: []*genai.Part{
			{Text: "here you go"},
			{InlineData: &genai.Blob{MIMEType: "image/png", Data: data}},
		}},
	}}}}
}

func newTestClient(t *testing.T, model *fakeModel, videos VideoAPI) *Client {
	t.Helper()
	fetcher := asset.NewFetcher(nil, asset.FetcherOptions{Timeout: time.Second})
	cfg := Config{TextModel: "text-model", ImageModel: "image-model", VideoModel: "video-model", AspectRatio: "16:9"}
	c, err := NewWithClients(cfg, model, videos, fetcher, asset.NewLocalStore(t.TempDir()), nil, nil)
	if err != nil {
		t.Fatalf("クライアントの生成に失敗しました: %v", err)
	}
	return c
}

func TestSubmitImage(t *testing.T) {
	t.Run("参照画像を添えて生成し、結果を保存します", func(t *testing.T) {
		out := append(append([]byte{}, pngHeader...), 'Z')
		model := &fakeModel{resp: imageResponse(out)}
		c := newTestClient(t, model, nil)

		seed := int64(42)
		sub, err := c.SubmitImage(context.Background(), provider.ImageRequest{
			Prompt:         "a cat",
			NegativePrompt: "blurry",
			AnchorURL:      pngDataURL('A'),
			ReferenceURLs:  []string{pngDataURL('R')},
			Seed:           &seed,
		})
		if err != nil {
			t.Fatalf("予期しないエラー: %v", err)
		}
		if sub.URL == "" || sub.TaskID != "" {
			t.Errorf("同期結果の URL が必要です: %+v", sub)
		}
		if model.model != "image-model" {
			t.Errorf("モデル 期待値: image-model, 実際の値: %s", model.model)
		}
		if model.opts.Seed == nil || *model.opts.Seed != 42 {
			t.Errorf("シードが引き継がれていません: %v", model.opts.Seed)
		}
		if model.opts.AspectRatio != "16:9" {
			t.Errorf("AspectRatio 期待値: 16:9, 実際の値: %s", model.opts.AspectRatio)
		}

		if len(model.parts) != 3 {
			t.Fatalf("パート数 期待値: 3, 実際の値: %d", len(model.parts))
		}
		if d := model.parts[0].InlineData; d == nil || d.Data[len(d.Data)-1] != 'A' {
			t.Errorf("先頭はアンカー画像であるべきです: %+v", model.parts[0])
		}
		if d := model.parts[1].InlineData; d == nil || d.Data[len(d.Data)-1] != 'R' {
			t.Errorf("2番目は参照画像であるべきです: %+v", model.parts[1])
		}
		if !strings.Contains(model.parts[2].Text, "blurry") {
			t.Errorf("否定プロンプトが含まれていません: %q", model.parts[2].Text)
		}

		blob, err := asset.NewFetcher(nil, asset.FetcherOptions{AllowLocalFiles: true}).Fetch(context.Background(), sub.URL)
		if err != nil {
			t.Fatalf("保存画像が読めません: %v", err)
		}
		if !bytes.Equal(blob.Data, out) {
			t.Error("保存された画像が生成結果と一致しません")
		}
	})

	t.Run("画像を含まない応答はエラーです", func(t *testing.T) {
		model := &fakeModel{resp: &gemini.Response{RawResponse: &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
			FinishReason: genai.FinishReasonStop,
			Content:      &genai.Content{Parts: []*genai.Part{{Text: "I can't draw that"}}},
		}}}}}
		c := newTestClient(t, model, nil)
		if _, err := c.SubmitImage(context.Background(), provider.ImageRequest{Prompt: "p"}); err == nil {
			t.Error("エラーが返されませんでした")
		}
	})

	t.Run("API エラーは分類されます", func(t *testing.T) {
		model := &fakeModel{err: &genai.APIError{Code: 503, Message: "overloaded"}}
		c := newTestClient(t, model, nil)
		_, err := c.SubmitImage(context.Background(), provider.ImageRequest{Prompt: "p"})
		if !domain.IsTransient(err) {
			t.Errorf("503 は一時エラーであるべきです: %v", err)
		}
	})
}

func TestGenerateText(t *testing.T) {
	model := &fakeModel{resp: &gemini.Response{Text: `{"ok":true}`}}
	c := newTestClient(t, model, nil)

	got, err := c.GenerateText(context.Background(), provider.TextRequest{
		SystemPrompt: "analyze",
		Prompt:       "describe",
		Images:       []provider.ImageInput{{URL: pngDataURL('X')}},
		JSONOutput:   true,
	})
	if err != nil {
		t.Fatalf("予期しないエラー: %v", err)
	}
	if got != `{"ok":true}` {
		t.Errorf("期待値: %s, 実際の値: %s", `{"ok":true}`, got)
	}
	if model.model != "text-model" {
		t.Errorf("モデル 期待値: text-model, 実際の値: %s", model.model)
	}
	if !strings.Contains(model.opts.SystemPrompt, "JSON") {
		t.Errorf("JSON 出力指示が含まれていません: %q", model.opts.SystemPrompt)
	}
	if len(model.parts) != 2 || model.parts[0].InlineData == nil || model.parts[1].Text != "describe" {
		t.Errorf("パート構成が不正です: %+v", model.parts)
	}

	t.Run("空の応答はエラーです", func(t *testing.T) {
		c := newTestClient(t, &fakeModel{resp: &gemini.Response{}}, nil)
		if _, err := c.GenerateText(context.Background(), provider.TextRequest{Prompt: "p"}); err == nil {
			t.Error("エラーが返されませんでした")
		}
	})
}

func TestSubmitVideo(t *testing.T) {
	t.Run("終端フレームを設定に含めます", func(t *testing.T) {
		videos := &fakeVideos{op: &genai.GenerateVideosOperation{Name: "operations/1"}}
		c := newTestClient(t, &fakeModel{}, videos)

		sub, err := c.SubmitVideo(context.Background(), provider.VideoRequest{
			ImageURL:     pngDataURL('F'),
			LastFrameURL: pngDataURL('L'),
			Prompt:       "pan",
			Duration:     8,
		})
		if err != nil {
			t.Fatalf("予期しないエラー: %v", err)
		}
		if sub.TaskID != "operations/1" {
			t.Errorf("TaskID 期待値: operations/1, 実際の値: %s", sub.TaskID)
		}
		if videos.image == nil || videos.image.ImageBytes[len(videos.image.ImageBytes)-1] != 'F' {
			t.Errorf("先頭フレームが不正です: %+v", videos.image)
		}
		last := videos.config.LastFrame
		if last == nil || last.ImageBytes[len(last.ImageBytes)-1] != 'L' || last.MIMEType != "image/png" {
			t.Errorf("終端フレームが設定されていません: %+v", last)
		}
		if videos.config.DurationSeconds == nil || *videos.config.DurationSeconds != 8 {
			t.Errorf("DurationSeconds 期待値: 8, 実際の値: %v", videos.config.DurationSeconds)
		}
	})

	t.Run("終端フレームが無ければ設定しません", func(t *testing.T) {
		videos := &fakeVideos{op: &genai.GenerateVideosOperation{Name: "operations/2"}}
		c := newTestClient(t, &fakeModel{}, videos)
		if _, err := c.SubmitVideo(context.Background(), provider.VideoRequest{ImageURL: pngDataURL('F')}); err != nil {
			t.Fatalf("予期しないエラー: %v", err)
		}
		if videos.config.LastFrame != nil {
			t.Errorf("LastFrame は nil であるべきです: %+v", videos.config.LastFrame)
		}
		if *videos.config.DurationSeconds != defaultVideoDurationInSec {
			t.Errorf("DurationSeconds 期待値: %d, 実際の値: %d", defaultVideoDurationInSec, *videos.config.DurationSeconds)
		}
	})

	t.Run("動画クライアントが無ければ Suite に含めません", func(t *testing.T) {
		c := newTestClient(t, &fakeModel{}, nil)
		if c.Suite().Video != nil {
			t.Error("Video は nil であるべきです")
		}
	})
}

func TestPollResultFromOperation(t *testing.T) {
	tests := []struct {
		name  string
		op    *genai.GenerateVideosOperation
		state provider.PollState
		url   string
	}{
		{"未完了", &genai.GenerateVideosOperation{Name: "op"}, provider.PollWaiting, ""},
		{"エラー", &genai.GenerateVideosOperation{Done: true, Error: map[string]any{"message": "quota"}}, provider.PollFailed, ""},
		{"動画なし", &genai.GenerateVideosOperation{Done: true, Response: &genai.GenerateVideosResponse{}}, provider.PollFailed, ""},
		{"成功", &genai.GenerateVideosOperation{Done: true, Response: &genai.GenerateVideosResponse{
			GeneratedVideos: []*genai.GeneratedVideo{{Video: &genai.Video{URI: "https://files/v.mp4"}}},
		}}, provider.PollSucceeded, "https://files/v.mp4"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := pollResultFromOperation(tt.op)
			if got.State != tt.state || got.URL != tt.url {
				t.Errorf("期待値: %s %q, 実際の値: %s %q", tt.state, tt.url, got.State, got.URL)
			}
		})
	}
}

func TestClassifyError(t *testing.T) {
	err := classifyError("image", &genai.APIError{Code: 503, Message: "overloaded"})
	if !domain.IsTransient(err) {
		t.Errorf("503 は一時エラーであるべきです: %v", err)
	}
	err = classifyError("image", &genai.APIError{Code: 400, Message: "bad"})
	if domain.IsTransient(err) {
		t.Errorf("400 は恒久エラーであるべきです: %v", err)
	}
	err = classifyError("text", context.Canceled)
	var pe *domain.ProviderError
	if !errors.As(err, &pe) || pe.Transient {
		t.Errorf("キャンセルは恒久エラーであるべきです: %v", err)
	}
}

func TestToPageRequest(t *testing.T) {
	req := provider.ImageRequest{
		Prompt:        "p",
		AnchorURL:     "anchor",
		BackgroundURL: "bg",
		ReferenceURLs: []string{"ref", "bg"},
	}
	got := toPageRequest(req, "image-model", "16:9")
	if got.AspectRatio != "16:9" || got.Model != "image-model" {
		t.Errorf("オプションが不正です: %+v", got.GenerationOptions)
	}
	want := []string{"anchor", "bg", "ref"}
	if len(got.Images) != len(want) {
		t.Fatalf("画像数 期待値: %d, 実際の値: %d", len(want), len(got.Images))
	}
	for i, w := range want {
		if got.Images[i].ReferenceURL != w {
			t.Errorf("Images[%d] 期待値: %s, 実際の値: %s", i, w, got.Images[i].ReferenceURL)
		}
	}
}
