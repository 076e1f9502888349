package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/shouni/go-storyboard-kit/pkg/dispatch"
	"github.com/shouni/go-storyboard-kit/pkg/domain"
	"github.com/shouni/go-storyboard-kit/pkg/workflow"
)

// planRequest は plan アクションの本文なのだ。brief は創作指示のテキストなのだ。
type planRequest struct {
	ProjectID     string   `json:"project_id"`
	Brief         string   `json:"brief"`
	Style         string   `json:"style"`
	FrameCount    int      `json:"frame_count"`
	ReferenceURLs []string `json:"reference_urls"`
	SeedImageURL  string   `json:"seed_image_url"`
	ElementsBoard string   `json:"elements_board"`
}

func (r planRequest) toBrief() domain.Brief {
	return domain.Brief{
		Direction:     r.Brief,
		Style:         r.Style,
		FrameCount:    r.FrameCount,
		SeedImageURL:  r.SeedImageURL,
		ReferenceURLs: r.ReferenceURLs,
		ElementsBoard: r.ElementsBoard,
	}
}

type planResponse struct {
	ProjectID  string                 `json:"project_id"`
	Plan       *domain.StoryboardPlan `json:"plan"`
	References domain.References      `json:"references"`
}

type backgroundRequest struct {
	Background domain.Background `json:"background_plan"`
	Style      string            `json:"style"`
}

type checkStatusRequest struct {
	TaskID string `json:"task_id"`
}

type urlResponse struct {
	URL string `json:"url"`
}

// sequenceRequest は非同期の生成ジョブの本文なのだ。storyboard があれば再開するのだ。
type sequenceRequest struct {
	planRequest
	Storyboard *domain.Storyboard `json:"storyboard"`
}

type animationRequest struct {
	ProjectID  string             `json:"project_id"`
	Storyboard *domain.Storyboard `json:"storyboard"`
	Frames     []int              `json:"frames"`
}

type jobResponse struct {
	JobID     string            `json:"job_id"`
	ProjectID string            `json:"project_id"`
	State     dispatch.JobState `json:"state"`
}

type projectResponse struct {
	Project *domain.Project `json:"project"`
	Scenes  []domain.Scene  `json:"scenes"`
}

func (s *Server) handlePlan(c *gin.Context) {
	var req planRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	sb, err := s.deps.Orchestrator.Plan(c.Request.Context(), workflow.PlanRequest{ProjectID: req.ProjectID, Brief: req.toBrief()})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, planResponse{ProjectID: sb.ProjectID, Plan: sb.Plan, References: sb.References})
}

func (s *Server) handleGenerateBackground(c *gin.Context) {
	var req backgroundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	url, err := s.deps.Orchestrator.GenerateBackground(c.Request.Context(), req.Background, req.Style)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, urlResponse{URL: url})
}

func (s *Server) handleGenerateFrame(c *gin.Context) {
	var req workflow.FrameAction
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	url, err := s.deps.Orchestrator.GenerateFrame(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, urlResponse{URL: url})
}

func (s *Server) handleCreateAnchor(c *gin.Context) {
	var req workflow.AnchorAction
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	url, err := s.deps.Orchestrator.CreateAnchor(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, urlResponse{URL: url})
}

func (s *Server) handleGenerateVideo(c *gin.Context) {
	var req workflow.VideoAction
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	sub, err := s.deps.Orchestrator.SubmitVideo(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	if sub.URL != "" {
		c.JSON(http.StatusOK, urlResponse{URL: sub.URL})
		return
	}
	c.JSON(http.StatusOK, sub)
}

func (s *Server) handleCheckStatus(c *gin.Context) {
	var req checkStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	status, err := s.deps.Orchestrator.CheckStatus(c.Request.Context(), req.TaskID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// handleEnqueueSequence は生成ジョブを投入し、完了を待たずに 202 を返すのだ。
func (s *Server) handleEnqueueSequence(c *gin.Context) {
	var req sequenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	payload := workflow.GeneratePayload{Storyboard: req.Storyboard}
	projectID := req.ProjectID
	if req.Storyboard != nil {
		if projectID == "" {
			projectID = req.Storyboard.ProjectID
		}
	} else {
		brief := req.toBrief()
		if err := brief.Validate(0); err != nil {
			writeError(c, err)
			return
		}
		payload.Brief = &brief
	}
	s.enqueue(c, dispatch.JobGenerate, projectID, payload)
}

func (s *Server) handleEnqueueAnimation(c *gin.Context) {
	var req animationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if req.Storyboard == nil {
		writeError(c, &domain.ValidationError{Field: "storyboard", Reason: "storyboard が必要です"})
		return
	}
	projectID := req.ProjectID
	if projectID == "" {
		projectID = req.Storyboard.ProjectID
	}
	s.enqueue(c, dispatch.JobAnimate, projectID, workflow.AnimatePayload{Storyboard: req.Storyboard, Frames: req.Frames})
}

func (s *Server) enqueue(c *gin.Context, kind dispatch.JobKind, projectID string, payload any) {
	if projectID == "" {
		projectID = uuid.NewString()
	}
	job, err := dispatch.NewJob(kind, projectID, payload)
	if err != nil {
		writeError(c, err)
		return
	}
	if err := s.deps.Dispatcher.Dispatch(c.Request.Context(), job); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, jobResponse{JobID: job.ID, ProjectID: projectID, State: dispatch.JobQueued})
}

func (s *Server) handleGetJob(c *gin.Context) {
	rec, ok := s.deps.Jobs.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, errorResponse{Error: "ジョブが見つかりません", Kind: "not_found"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) handleGetProject(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	project, err := s.deps.Store.GetProject(ctx, id)
	if err != nil {
		writeError(c, err)
		return
	}
	if project == nil {
		c.JSON(http.StatusNotFound, errorResponse{Error: "プロジェクトが見つかりません", Kind: "not_found"})
		return
	}
	scenes, err := s.deps.Store.ListScenes(ctx, id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, projectResponse{Project: project, Scenes: scenes})
}
