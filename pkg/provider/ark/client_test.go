package ark

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"

	"github.com/shouni/go-storyboard-kit/pkg/domain"
	"github.com/shouni/go-storyboard-kit/pkg/provider"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(Config{APIKey: "k", BaseURL: srv.URL, TextModel: "t", ImageModel: "i", VideoModel: "v", AspectRatio: "16:9"}, srv.Client(), nil, nil)
	if err != nil {
		t.Fatalf("クライアントの生成に失敗しました: %v", err)
	}
	return c
}

func TestClient_SubmitImage(t *testing.T) {
	var got map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/images/generations" || r.Header.Get("Authorization") != "Bearer k" {
			t.Errorf("不正なリクエストです: %s %s", r.URL.Path, r.Header.Get("Authorization"))
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"data":[{"url":"https://cdn/x.png"}]}`))
	})

	sub, err := c.SubmitImage(context.Background(), provider.ImageRequest{
		Prompt:        "a kitchen",
		BackgroundURL: "https://bg",
		ReferenceURLs: []string{"https://ref"},
	})
	if err != nil {
		t.Fatalf("予期しないエラー: %v", err)
	}
	if !sub.Completed() || sub.URL != "https://cdn/x.png" {
		t.Errorf("投入結果が不正です: %+v", sub)
	}
	if got["size"] != "1664x936" {
		t.Errorf("size 期待値: 1664x936, 実際の値: %v", got["size"])
	}
	if imgs, ok := got["image"].([]any); !ok || len(imgs) != 2 {
		t.Errorf("参照画像が渡されていません: %v", got["image"])
	}
}

func TestClient_VideoTask(t *testing.T) {
	polls := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/v3/contents/generations/tasks":
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			if content, _ := body["content"].([]any); len(content) != 3 {
				t.Errorf("先頭・末尾フレームが含まれていません: %v", body["content"])
			}
			_, _ = w.Write([]byte(`{"id":"cgt-1"}`))
		case r.Method == http.MethodGet && r.URL.Path == "/api/v3/contents/generations/tasks/cgt-1":
			polls++
			if polls < 2 {
				_, _ = w.Write([]byte(`{"id":"cgt-1","status":"running"}`))
				return
			}
			_, _ = w.Write([]byte(`{"id":"cgt-1","status":"succeeded","content":{"video_url":"https://cdn/v.mp4"}}`))
		default:
			http.NotFound(w, r)
		}
	})

	sub, err := c.SubmitVideo(context.Background(), provider.VideoRequest{ImageURL: "https://f1", LastFrameURL: "https://f2", Prompt: "pan"})
	if err != nil || sub.TaskID != "cgt-1" || sub.Completed() {
		t.Fatalf("投入結果が不正です: %+v %v", sub, err)
	}
	res, _ := c.PollVideo(context.Background(), sub.TaskID)
	if res.State != provider.PollWaiting {
		t.Errorf("1回目 期待値: waiting, 実際の値: %s", res.State)
	}
	res, _ = c.PollVideo(context.Background(), sub.TaskID)
	if res.State != provider.PollSucceeded || res.URL != "https://cdn/v.mp4" {
		t.Errorf("2回目 期待値: succeeded, 実際の値: %+v", res)
	}
}

func TestClient_ErrorClassification(t *testing.T) {
	status := http.StatusTooManyRequests
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"error":{"message":"slow down"}}`))
	})

	_, err := c.GenerateText(context.Background(), provider.TextRequest{Prompt: "hi"})
	var pe *domain.ProviderError
	if !errors.As(err, &pe) || !pe.Transient || pe.StatusCode != 429 {
		t.Errorf("一時的な ProviderError(429) が期待されましたが: %v", err)
	}
	if !strings.Contains(err.Error(), "slow down") {
		t.Errorf("エラー本文が含まれていません: %v", err)
	}

	status = http.StatusBadRequest
	_, err = c.GenerateText(context.Background(), provider.TextRequest{Prompt: "hi"})
	if domain.IsTransient(err) {
		t.Errorf("400 は恒久エラーであるべきです: %v", err)
	}
}

func TestClient_RateLimit(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	t.Cleanup(srv.Close)

	limiter := rate.NewLimiter(rate.Every(time.Hour), 1)
	c, err := New(Config{APIKey: "k", BaseURL: srv.URL, TextModel: "t"}, srv.Client(), limiter, nil)
	if err != nil {
		t.Fatalf("クライアントの生成に失敗しました: %v", err)
	}

	if _, err := c.GenerateText(context.Background(), provider.TextRequest{Prompt: "hi"}); err != nil {
		t.Fatalf("予期しないエラー: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := c.GenerateText(ctx, provider.TextRequest{Prompt: "hi"}); err == nil {
		t.Error("リミッターで待機してエラーになるべきです")
	}
	if got := hits.Load(); got != 1 {
		t.Errorf("リクエスト数 期待値: 1, 実際の値: %d", got)
	}
}

func TestClient_ErrorBodyTruncation(t *testing.T) {
	body := strings.Repeat("あ", maxErrorBodySize+10)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(body))
	})

	_, err := c.GenerateText(context.Background(), provider.TextRequest{Prompt: "hi"})
	var pe *domain.ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("ProviderError を期待しましたが %v でした", err)
	}
	msg := pe.Err.Error()
	if !utf8.ValidString(msg) {
		t.Error("切り詰めたエラー本文が不正な UTF-8 になっています")
	}
	if want := strings.Repeat("あ", maxErrorBodySize) + "..."; msg != want {
		t.Errorf("文字数 期待値: %d, 実際の値: %d", utf8.RuneCountInString(want), utf8.RuneCountInString(msg))
	}
}

func TestClient_GenerateText(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Messages []struct {
				Role    string `json:"role"`
				Content any    `json:"content"`
			} `json:"messages"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if len(body.Messages) != 2 || body.Messages[0].Role != "system" {
			t.Errorf("メッセージ構成が不正です: %+v", body.Messages)
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"{\"role\":\"style\"}"}}]}`))
	})

	out, err := c.GenerateText(context.Background(), provider.TextRequest{
		SystemPrompt: "sys",
		Prompt:       "classify",
		Images:       []provider.ImageInput{{Data: []byte{1}, MIMEType: "image/png"}},
		JSONOutput:   true,
	})
	if err != nil || out != `{"role":"style"}` {
		t.Errorf("応答が不正です: %q %v", out, err)
	}
}

func TestTaskResponse_PollResult(t *testing.T) {
	failed := taskResponse{Status: "failed"}
	failed.Error = &struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}{Message: "policy"}
	if res := failed.pollResult(); res.State != provider.PollFailed || res.Reason != "policy" {
		t.Errorf("失敗理由が不正です: %+v", res)
	}
	if res := (taskResponse{Status: "queued"}).pollResult(); res.State != provider.PollWaiting {
		t.Errorf("queued は waiting であるべきです: %+v", res)
	}
}
