// Package api exposes a read-only HTTP view over the user and verification
// data. It never mutates engine state; bot commands and the scheduler own
// the write paths.
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Jamshidbekpy/LeetCode-reminder/internal/domain"
	"github.com/Jamshidbekpy/LeetCode-reminder/internal/store"
)

// Options configures the read API.
type Options struct {
	Token         string // bearer token; empty disables auth
	RatePerMinute int
}

// Server serves the read API.
type Server struct {
	repo store.Repo
	log  *zap.Logger
	opts Options
}

// NewServer creates a Server over the given repository.
func NewServer(repo store.Repo, log *zap.Logger, opts Options) *Server {
	return &Server{repo: repo, log: log, opts: opts}
}

// Routes builds the gin engine with middleware and all endpoints.
func (s *Server) Routes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), RequestID(), RateLimit(s.opts.RatePerMinute))

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })

	apiGroup := r.Group("/api")
	apiGroup.GET("/health", s.health)

	protected := apiGroup.Group("", BearerAuth(s.opts.Token))
	protected.GET("/users", s.listUsers)
	protected.GET("/users/:chat_id", s.getUser)
	protected.GET("/users/:chat_id/verifications", s.listVerifications)
	protected.GET("/leetcode/:username", s.findByHandle)
	protected.GET("/stats", s.stats)

	return r
}

type userResponse struct {
	ChatID        int64    `json:"chat_id"`
	Active        bool     `json:"active"`
	LCUsername    string   `json:"leetcode_username,omitempty"`
	HandleInvalid bool     `json:"handle_invalid,omitempty"`
	Timezone      string   `json:"timezone"`
	RemindTimes   []string `json:"remind_times"`
	CreatedAt     string   `json:"created_at"`
	UpdatedAt     string   `json:"updated_at"`
	LastActiveAt  *string  `json:"last_active_at,omitempty"`
}

func toUserResponse(u *domain.User) userResponse {
	resp := userResponse{
		ChatID:        u.ChatID,
		Active:        u.Active,
		LCUsername:    u.LCUsername,
		HandleInvalid: u.HandleInvalid,
		Timezone:      u.TZ,
		RemindTimes:   u.RemindTimes,
		CreatedAt:     u.CreatedAt.Format(time.RFC3339),
		UpdatedAt:     u.UpdatedAt.Format(time.RFC3339),
	}
	if resp.RemindTimes == nil {
		resp.RemindTimes = []string{}
	}
	if u.LastActiveAt != nil {
		la := u.LastActiveAt.Format(time.RFC3339)
		resp.LastActiveAt = &la
	}
	return resp
}

type verificationResponse struct {
	Day          string `json:"day"`
	Outcome      string `json:"outcome"`
	CheckedAt    string `json:"checked_at"`
	CongratsSent bool   `json:"congrats_sent"`
	SolveTitle   string `json:"solve_title,omitempty"`
	SolveSlug    string `json:"solve_slug,omitempty"`
}

func (s *Server) health(c *gin.Context) {
	// A cheap durable-store round trip; failing it means the service is
	// up but unusable.
	if _, err := s.repo.Stats(c.Request.Context()); err != nil {
		s.log.Error("health check store probe failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)})
}

func (s *Server) listUsers(c *gin.Context) {
	activeOnly := c.Query("active") == "true"
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit < 1 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	users, err := s.repo.ListUsers(c.Request.Context(), activeOnly, limit, offset)
	if err != nil {
		s.log.Error("list users failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage error"})
		return
	}
	out := make([]userResponse, 0, len(users))
	for i := range users {
		out = append(out, toUserResponse(&users[i]))
	}
	c.JSON(http.StatusOK, gin.H{"users": out, "count": len(out)})
}

func (s *Server) getUser(c *gin.Context) {
	chatID, err := strconv.ParseInt(c.Param("chat_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chat id"})
		return
	}
	u, err := s.repo.GetUser(c.Request.Context(), chatID)
	if err != nil {
		s.log.Error("get user failed", zap.Int64("chat_id", chatID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage error"})
		return
	}
	if u == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}
	c.JSON(http.StatusOK, toUserResponse(u))
}

func (s *Server) listVerifications(c *gin.Context) {
	chatID, err := strconv.ParseInt(c.Param("chat_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chat id"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "30"))
	if limit < 1 || limit > 365 {
		limit = 30
	}

	list, err := s.repo.ListVerifications(c.Request.Context(), chatID, limit)
	if err != nil {
		s.log.Error("list verifications failed", zap.Int64("chat_id", chatID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage error"})
		return
	}
	out := make([]verificationResponse, 0, len(list))
	for _, v := range list {
		vr := verificationResponse{
			Day:          v.Day,
			Outcome:      string(v.Outcome),
			CheckedAt:    v.CheckedAt.Format(time.RFC3339),
			CongratsSent: v.CongratsSent,
		}
		if v.Solve != nil {
			vr.SolveTitle = v.Solve.Title
			vr.SolveSlug = v.Solve.Slug
		}
		out = append(out, vr)
	}
	c.JSON(http.StatusOK, gin.H{"chat_id": chatID, "verifications": out})
}

func (s *Server) findByHandle(c *gin.Context) {
	handle := c.Param("username")
	users, err := s.repo.FindByHandle(c.Request.Context(), handle)
	if err != nil {
		s.log.Error("find by handle failed", zap.String("handle", handle), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage error"})
		return
	}
	out := make([]userResponse, 0, len(users))
	for i := range users {
		out = append(out, toUserResponse(&users[i]))
	}
	c.JSON(http.StatusOK, gin.H{"users": out, "count": len(out)})
}

func (s *Server) stats(c *gin.Context) {
	st, err := s.repo.Stats(c.Request.Context())
	if err != nil {
		s.log.Error("stats failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage error"})
		return
	}
	c.JSON(http.StatusOK, st)
}
