package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/shouni/go-storyboard-kit/pkg/dispatch"
	"github.com/shouni/go-storyboard-kit/pkg/domain"
	"github.com/shouni/go-storyboard-kit/pkg/generator"
	"github.com/shouni/go-storyboard-kit/pkg/store"
	"github.com/shouni/go-storyboard-kit/pkg/workflow"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeOrchestrator は各アクションの応答を差し替えられる Orchestrator です。
type fakeOrchestrator struct {
	planErr   error
	lastBrief domain.Brief
	videoSub  workflow.VideoSubmission
	statusErr error
}

func (f *fakeOrchestrator) Plan(ctx context.Context, req workflow.PlanRequest) (*domain.Storyboard, error) {
	f.lastBrief = req.Brief
	if f.planErr != nil {
		return nil, f.planErr
	}
	return &domain.Storyboard{
		ProjectID:  "p1",
		References: domain.References{{ID: "ref1", SourceURL: "https://ref.example.com/1.png", Usable: true}},
		Plan: &domain.StoryboardPlan{
			Backgrounds: []domain.Background{{ID: "bg1", Description: "studio"}},
			Frames:      []domain.FramePlan{{FrameNumber: 1, BackgroundID: "bg1", Description: "hero shot"}},
		},
	}, nil
}

func (f *fakeOrchestrator) Generate(ctx context.Context, sb *domain.Storyboard) (*workflow.RunResult, error) {
	return &workflow.RunResult{Storyboard: sb, Status: domain.ProjectCompleted}, nil
}

func (f *fakeOrchestrator) Run(ctx context.Context, req workflow.PlanRequest) (*workflow.RunResult, error) {
	return &workflow.RunResult{Status: domain.ProjectCompleted}, nil
}

func (f *fakeOrchestrator) Animate(ctx context.Context, sb *domain.Storyboard, frames []int) (*workflow.RunResult, error) {
	return &workflow.RunResult{Storyboard: sb, Status: domain.ProjectCompleted}, nil
}

func (f *fakeOrchestrator) GenerateBackground(ctx context.Context, bg domain.Background, style string) (string, error) {
	if bg.Description == "" {
		return "", &domain.ValidationError{Field: "background_plan.description", Reason: "空です"}
	}
	return "https://img.example.com/bg.png", nil
}

func (f *fakeOrchestrator) GenerateFrame(ctx context.Context, action workflow.FrameAction) (string, error) {
	if action.BackgroundURL == "" {
		return "", &domain.ProviderError{Provider: "fake", Op: "image", StatusCode: 400}
	}
	return "https://img.example.com/frame.png", nil
}

func (f *fakeOrchestrator) CreateAnchor(ctx context.Context, action workflow.AnchorAction) (string, error) {
	return "https://img.example.com/anchor.png", nil
}

func (f *fakeOrchestrator) SubmitVideo(ctx context.Context, action workflow.VideoAction) (workflow.VideoSubmission, error) {
	return f.videoSub, nil
}

func (f *fakeOrchestrator) CheckStatus(ctx context.Context, taskID string) (generator.TaskStatus, error) {
	if f.statusErr != nil {
		return generator.TaskStatus{}, f.statusErr
	}
	return generator.TaskStatus{TaskID: taskID, Status: domain.TaskDone, VideoURL: "https://vid.example.com/1.mp4"}, nil
}

type testEnv struct {
	orch  *fakeOrchestrator
	jobs  *dispatch.JobRegistry
	store *store.MemoryStore
	srv   *Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		orch:  &fakeOrchestrator{},
		jobs:  dispatch.NewJobRegistry(0),
		store: store.NewMemoryStore(0),
	}
	srv, err := New(Deps{
		Orchestrator: env.orch,
		Dispatcher:   dispatch.NewLocalDispatcher(1, 4, 1, env.jobs),
		Jobs:         env.jobs,
		Store:        env.store,
		Gatherer:     prometheus.NewRegistry(),
	})
	if err != nil {
		t.Fatalf("サーバーの初期化に失敗しました: %v", err)
	}
	env.srv = srv
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("本文のエンコードに失敗しました: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("応答の解析に失敗しました: %v (%s)", err, rec.Body.String())
	}
	return v
}

func TestActions(t *testing.T) {
	t.Run("plan は計画と参照を返します", func(t *testing.T) {
		env := newTestEnv(t)
		rec := env.do(t, http.MethodPost, "/v1/actions/plan", map[string]any{
			"brief":          "sneaker launch",
			"style":          "neon",
			"frame_count":    1,
			"reference_urls": []string{"https://ref.example.com/1.png"},
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("期待値: 200, 実際の値: %d (%s)", rec.Code, rec.Body.String())
		}
		got := decode[planResponse](t, rec)
		if got.Plan == nil || len(got.Plan.Frames) != 1 || len(got.References) != 1 {
			t.Errorf("応答が一致しません: %+v", got)
		}
		if env.orch.lastBrief.Direction != "sneaker launch" || env.orch.lastBrief.FrameCount != 1 {
			t.Errorf("ブリーフが正しく渡されていません: %+v", env.orch.lastBrief)
		}
	})

	t.Run("エラー種別ごとにステータスが変わります", func(t *testing.T) {
		cases := []struct {
			name string
			err  error
			want int
		}{
			{"入力不備", &domain.ValidationError{Field: "brief", Reason: "空です"}, http.StatusBadRequest},
			{"計画失敗", &domain.PlanningError{Err: errors.New("bad json")}, http.StatusUnprocessableEntity},
			{"プロバイダ失敗", &domain.ProviderError{Provider: "fake", Op: "text", StatusCode: 500}, http.StatusBadGateway},
			{"タイムアウト", &domain.TimeoutError{TaskID: "t1", Attempts: 30}, http.StatusGatewayTimeout},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				env := newTestEnv(t)
				env.orch.planErr = tc.err
				rec := env.do(t, http.MethodPost, "/v1/actions/plan", map[string]any{"brief": "x", "frame_count": 1})
				if rec.Code != tc.want {
					t.Errorf("期待値: %d, 実際の値: %d", tc.want, rec.Code)
				}
			})
		}
	})

	t.Run("generate_background は URL を返します", func(t *testing.T) {
		env := newTestEnv(t)
		rec := env.do(t, http.MethodPost, "/v1/actions/generate_background", map[string]any{
			"background_plan": map[string]any{"id": "bg1", "description": "studio"},
			"style":           "neon",
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("期待値: 200, 実際の値: %d", rec.Code)
		}
		if got := decode[urlResponse](t, rec); got.URL != "https://img.example.com/bg.png" {
			t.Errorf("期待値: bg.png, 実際の値: %s", got.URL)
		}
	})

	t.Run("generate_frame のプロバイダ失敗は 502 になります", func(t *testing.T) {
		env := newTestEnv(t)
		rec := env.do(t, http.MethodPost, "/v1/actions/generate_frame", map[string]any{
			"frame_plan": map[string]any{"frame_number": 1, "description": "hero"},
			"style":      "neon",
		})
		if rec.Code != http.StatusBadGateway {
			t.Errorf("期待値: 502, 実際の値: %d", rec.Code)
		}
	})

	t.Run("generate_video は同期 URL とタスク ID を出し分けます", func(t *testing.T) {
		env := newTestEnv(t)
		env.orch.videoSub = workflow.VideoSubmission{TaskID: "vid-1", Status: domain.TaskProcessing}
		rec := env.do(t, http.MethodPost, "/v1/actions/generate_video", map[string]any{"image_url": "https://img.example.com/1.png", "prompt": "pan"})
		got := decode[map[string]any](t, rec)
		if got["task_id"] != "vid-1" || got["status"] != string(domain.TaskProcessing) {
			t.Errorf("タスク応答が一致しません: %v", got)
		}

		env.orch.videoSub = workflow.VideoSubmission{Status: domain.TaskDone, URL: "https://vid.example.com/1.mp4"}
		rec = env.do(t, http.MethodPost, "/v1/actions/generate_video", map[string]any{"image_url": "https://img.example.com/1.png", "prompt": "pan"})
		got = decode[map[string]any](t, rec)
		if got["url"] != "https://vid.example.com/1.mp4" {
			t.Errorf("同期応答が一致しません: %v", got)
		}
		if _, ok := got["task_id"]; ok {
			t.Errorf("同期応答に task_id は不要です: %v", got)
		}
	})

	t.Run("check_status は状態を返します", func(t *testing.T) {
		env := newTestEnv(t)
		rec := env.do(t, http.MethodPost, "/v1/actions/check_status", map[string]any{"task_id": "vid-1"})
		got := decode[generator.TaskStatus](t, rec)
		if got.Status != domain.TaskDone || got.VideoURL == "" {
			t.Errorf("状態が一致しません: %+v", got)
		}
	})

	t.Run("動画プロバイダ未対応は 501 になります", func(t *testing.T) {
		env := newTestEnv(t)
		env.orch.statusErr = generator.ErrNoVideoProvider
		rec := env.do(t, http.MethodPost, "/v1/actions/check_status", map[string]any{"task_id": "vid-1"})
		if rec.Code != http.StatusNotImplemented {
			t.Errorf("期待値: 501, 実際の値: %d", rec.Code)
		}
	})

	t.Run("不正な JSON は 400 になります", func(t *testing.T) {
		env := newTestEnv(t)
		req := httptest.NewRequest(http.MethodPost, "/v1/actions/plan", bytes.NewBufferString("{"))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		env.srv.Handler().ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("期待値: 400, 実際の値: %d", rec.Code)
		}
	})
}

func TestSequences(t *testing.T) {
	t.Run("生成ジョブを投入して状態を問い合わせられます", func(t *testing.T) {
		env := newTestEnv(t)
		rec := env.do(t, http.MethodPost, "/v1/sequences", map[string]any{"brief": "sneaker launch", "frame_count": 2})
		if rec.Code != http.StatusAccepted {
			t.Fatalf("期待値: 202, 実際の値: %d (%s)", rec.Code, rec.Body.String())
		}
		job := decode[jobResponse](t, rec)
		if job.JobID == "" || job.ProjectID == "" || job.State != dispatch.JobQueued {
			t.Fatalf("ジョブ応答が一致しません: %+v", job)
		}

		rec = env.do(t, http.MethodGet, "/v1/jobs/"+job.JobID, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("期待値: 200, 実際の値: %d", rec.Code)
		}
		got := decode[dispatch.JobRecord](t, rec)
		if got.State != dispatch.JobQueued || got.Job.Kind != dispatch.JobGenerate {
			t.Errorf("ジョブ記録が一致しません: %+v", got)
		}
	})

	t.Run("不正なブリーフは投入前に 400 になります", func(t *testing.T) {
		env := newTestEnv(t)
		rec := env.do(t, http.MethodPost, "/v1/sequences", map[string]any{"brief": "", "frame_count": 2})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("期待値: 400, 実際の値: %d", rec.Code)
		}
	})

	t.Run("storyboard が無いアニメーションは 400 になります", func(t *testing.T) {
		env := newTestEnv(t)
		rec := env.do(t, http.MethodPost, "/v1/animations", map[string]any{"frames": []int{1}})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("期待値: 400, 実際の値: %d", rec.Code)
		}
	})

	t.Run("未知のジョブは 404 になります", func(t *testing.T) {
		env := newTestEnv(t)
		if rec := env.do(t, http.MethodGet, "/v1/jobs/unknown", nil); rec.Code != http.StatusNotFound {
			t.Errorf("期待値: 404, 実際の値: %d", rec.Code)
		}
	})
}

func TestProjects(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	if err := env.store.UpdateProjectStatus(ctx, "p1", domain.ProjectPartial, workflow.StageFrames); err != nil {
		t.Fatal(err)
	}
	if err := env.store.UpsertScene(ctx, domain.Scene{ProjectID: "p1", FrameNumber: 1, Status: domain.StatusReady}); err != nil {
		t.Fatal(err)
	}

	rec := env.do(t, http.MethodGet, "/v1/projects/p1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("期待値: 200, 実際の値: %d", rec.Code)
	}
	got := decode[projectResponse](t, rec)
	if got.Project == nil || got.Project.Status != domain.ProjectPartial || len(got.Scenes) != 1 {
		t.Errorf("応答が一致しません: %+v", got)
	}

	if rec := env.do(t, http.MethodGet, "/v1/projects/missing", nil); rec.Code != http.StatusNotFound {
		t.Errorf("期待値: 404, 実際の値: %d", rec.Code)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t)
	if rec := env.do(t, http.MethodGet, "/healthz", nil); rec.Code != http.StatusOK {
		t.Errorf("期待値: 200, 実際の値: %d", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/metrics", nil); rec.Code != http.StatusOK {
		t.Errorf("期待値: 200, 実際の値: %d", rec.Code)
	}
}
