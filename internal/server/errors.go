package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/shouni/go-storyboard-kit/pkg/dispatch"
	"github.com/shouni/go-storyboard-kit/pkg/domain"
	"github.com/shouni/go-storyboard-kit/pkg/generator"
)

// errorResponse はエラー応答の本文なのだ。
type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// classify はエラーの種類を HTTP ステータスと種別名に写すのだ。
func classify(err error) (int, string) {
	var ve *domain.ValidationError
	var ple *domain.PlanningError
	var te *domain.TimeoutError
	var pe *domain.ProviderError
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest, "validation"
	case errors.As(err, &ple):
		return http.StatusUnprocessableEntity, "planning"
	case errors.As(err, &te):
		return http.StatusGatewayTimeout, "timeout"
	case errors.As(err, &pe):
		return http.StatusBadGateway, "provider"
	case errors.Is(err, generator.ErrNoVideoProvider):
		return http.StatusNotImplemented, "unsupported"
	case errors.Is(err, dispatch.ErrClosed):
		return http.StatusServiceUnavailable, "unavailable"
	}
	return http.StatusInternalServerError, "internal"
}

func writeError(c *gin.Context, err error) {
	status, kind := classify(err)
	c.JSON(status, errorResponse{Error: err.Error(), Kind: kind})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, errorResponse{Error: "無効なリクエスト形式です: " + err.Error(), Kind: "validation"})
}
