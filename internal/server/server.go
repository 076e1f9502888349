// Package server は絵コンテ生成の操作を HTTP で公開するのだ。
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shouni/go-storyboard-kit/pkg/dispatch"
	"github.com/shouni/go-storyboard-kit/pkg/store"
	"github.com/shouni/go-storyboard-kit/pkg/workflow"
)

const shutdownTimeout = 10 * time.Second

// Deps はハンドラが使う依存関係なのだ。Gatherer が nil なら /metrics は登録しないのだ。
type Deps struct {
	Orchestrator workflow.Orchestrator
	Dispatcher   dispatch.Dispatcher
	Jobs         *dispatch.JobRegistry
	Store        store.ProjectStateStore
	Gatherer     prometheus.Gatherer
}

// Server は gin のルーターと http.Server を持つのだ。
type Server struct {
	deps   Deps
	router *gin.Engine
}

// New はルーティングを登録した Server を返すのだ。
func New(deps Deps) (*Server, error) {
	if deps.Orchestrator == nil {
		return nil, fmt.Errorf("Orchestrator は必須です")
	}
	if deps.Dispatcher == nil || deps.Jobs == nil {
		return nil, fmt.Errorf("Dispatcher と JobRegistry は必須です")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("ProjectStateStore は必須です")
	}

	s := &Server{deps: deps, router: gin.New()}
	s.router.Use(gin.Recovery(), requestLogger())
	s.routes()
	return s, nil
}

// Handler は http.Handler としてルーターを返すのだ。
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := s.router
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if s.deps.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})))
	}

	v1 := r.Group("/v1")
	actions := v1.Group("/actions")
	actions.POST("/plan", s.handlePlan)
	actions.POST("/generate_background", s.handleGenerateBackground)
	actions.POST("/generate_frame", s.handleGenerateFrame)
	actions.POST("/create_anchor_image", s.handleCreateAnchor)
	actions.POST("/generate_video", s.handleGenerateVideo)
	actions.POST("/check_status", s.handleCheckStatus)

	v1.POST("/sequences", s.handleEnqueueSequence)
	v1.POST("/animations", s.handleEnqueueAnimation)
	v1.GET("/jobs/:id", s.handleGetJob)
	v1.GET("/projects/:id", s.handleGetProject)
}

// Run は addr で待ち受け、ctx が終了したらグレースフルに停止するのだ。
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("サーバーを起動しました", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("サーバーの起動に失敗しました: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("サーバーを停止します")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("サーバーの停止に失敗しました: %w", err)
	}
	return nil
}

// requestLogger はリクエストごとに slog で1行出力するのだ。
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.InfoContext(c.Request.Context(), "HTTP request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start).Round(time.Millisecond),
		)
	}
}
