package http

import (
	"net/http"

	"evaliq-attempt-service/internal/app"
	"evaliq-attempt-service/internal/domain"
	"github.com/gin-gonic/gin"
)

// APIHandler exposes attempt sessions over REST. Every session route resumes
// the session from the session store when this process has not seen it yet.
type APIHandler struct {
	service *app.AttemptService
}

func NewAPIHandler(service *app.AttemptService) *APIHandler {
	return &APIHandler{service: service}
}

type openSessionRequest struct {
	SessionID string `json:"sessionId"`
}

type startRequest struct {
	Name string `json:"name" binding:"required"`
}

type answerRequest struct {
	QuestionID  string `json:"questionId" binding:"required"`
	OptionIndex *int   `json:"optionIndex" binding:"required"`
}

type visibilityRequest struct {
	Hidden *bool `json:"hidden" binding:"required"`
}

type submitRequest struct {
	Confirm bool `json:"confirm"`
}

type eligibilityResponse struct {
	Eligibility domain.Eligibility `json:"eligibility"`
	Session     domain.SessionView `json:"session"`
}

type visibilityResponse struct {
	Warning *domain.Warning    `json:"warning,omitempty"`
	Session domain.SessionView `json:"session"`
}

// Register mounts the quiz and session routes on r.
func (h *APIHandler) Register(r gin.IRouter) {
	quizzes := r.Group("/quizzes/:ref")
	quizzes.GET("", h.getQuiz)
	quizzes.POST("/sessions", h.openSession)

	session := quizzes.Group("/sessions/:sessionID")
	session.GET("", h.getSession)
	session.DELETE("", h.releaseSession)
	session.POST("/start", h.start)
	session.PUT("/answers", h.selectAnswer)
	session.POST("/visibility", h.visibility)
	session.POST("/submit", h.submit)
	session.POST("/retry", h.retry)
}

func (h *APIHandler) getQuiz(c *gin.Context) {
	quiz, err := h.service.Quiz(c.Request.Context(), c.Param("ref"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, quiz.Info())
}

func (h *APIHandler) openSession(c *gin.Context) {
	var req openSessionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}
	attempt, err := h.service.Open(c.Request.Context(), c.Param("ref"), req.SessionID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, attempt.View())
}

func (h *APIHandler) getSession(c *gin.Context) {
	attempt, ok := h.attempt(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, attempt.View())
}

func (h *APIHandler) releaseSession(c *gin.Context) {
	attempt, ok := h.attempt(c)
	if !ok {
		return
	}
	h.service.Release(attempt.Quiz().ID, attempt.ID())
	c.Status(http.StatusNoContent)
}

func (h *APIHandler) start(c *gin.Context) {
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, domain.ErrNameRequired)
		return
	}
	attempt, ok := h.attempt(c)
	if !ok {
		return
	}
	elig, err := attempt.Start(c.Request.Context(), req.Name)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, eligibilityResponse{Eligibility: elig, Session: attempt.View()})
}

func (h *APIHandler) selectAnswer(c *gin.Context) {
	var req answerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	attempt, ok := h.attempt(c)
	if !ok {
		return
	}
	if err := attempt.SelectAnswer(c.Request.Context(), req.QuestionID, *req.OptionIndex); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, attempt.View())
}

func (h *APIHandler) visibility(c *gin.Context) {
	var req visibilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	attempt, ok := h.attempt(c)
	if !ok {
		return
	}
	warning, err := attempt.ReportVisibility(c.Request.Context(), *req.Hidden)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, visibilityResponse{Warning: warning, Session: attempt.View()})
}

func (h *APIHandler) submit(c *gin.Context) {
	var req submitRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}
	attempt, ok := h.attempt(c)
	if !ok {
		return
	}
	result, err := attempt.Submit(c.Request.Context(), app.SubmitOptions{Confirmed: req.Confirm})
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *APIHandler) retry(c *gin.Context) {
	attempt, ok := h.attempt(c)
	if !ok {
		return
	}
	elig, err := attempt.Retry(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, eligibilityResponse{Eligibility: elig, Session: attempt.View()})
}

func (h *APIHandler) attempt(c *gin.Context) (*app.Attempt, bool) {
	attempt, err := h.service.Open(c.Request.Context(), c.Param("ref"), c.Param("sessionID"))
	if err != nil {
		abortWithError(c, err)
		return nil, false
	}
	return attempt, true
}

func abortWithError(c *gin.Context, err error) {
	status, payload := describeError(err)
	c.AbortWithStatusJSON(status, gin.H{"error": payload})
}

func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": errorPayload{Code: "invalid_request", Message: err.Error()}})
}
