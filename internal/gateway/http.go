package gateway

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// TaskStore persists saved instructions for the scheduler.
type TaskStore interface {
	AddTask(ctx context.Context, chatID, instruction string, intervalSeconds int) error
	ClearTasks(ctx context.Context, chatID string) error
}

// HTTPGateway exposes the instruction surface over HTTP:
// POST /v1/instruct {"instruction": "..."} -> the Response envelope.
// POST /v1/tasks saves an instruction for scheduled re-dispatch.
type HTTPGateway struct {
	Addr   string
	Router Router
	Tasks  TaskStore // optional
	srv    *http.Server
}

type instructRequest struct {
	Instruction string `json:"instruction" binding:"required"`
	ChatID      string `json:"chat_id"`
}

type taskRequest struct {
	Instruction     string `json:"instruction" binding:"required"`
	ChatID          string `json:"chat_id" binding:"required"`
	IntervalSeconds int    `json:"interval_seconds"`
}

func NewHTTPGateway(addr string, router Router, tasks TaskStore) *HTTPGateway {
	return &HTTPGateway{Addr: addr, Router: router, Tasks: tasks}
}

func (hg *HTTPGateway) Start() error {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	engine.POST("/v1/instruct", func(c *gin.Context) {
		var req instructRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error":   "instruction is required",
			})
			return
		}

		chatID := req.ChatID
		if chatID == "" {
			chatID = c.ClientIP()
		}

		resp := hg.Router.Route(c.Request.Context(), chatID, req.Instruction)
		c.JSON(http.StatusOK, resp)
	})

	if hg.Tasks != nil {
		engine.POST("/v1/tasks", func(c *gin.Context) {
			var req taskRequest
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{
					"success": false,
					"error":   "instruction and chat_id are required",
				})
				return
			}
			if err := hg.Tasks.AddTask(c.Request.Context(), req.ChatID, req.Instruction, req.IntervalSeconds); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
				return
			}
			c.JSON(http.StatusOK, gin.H{"success": true})
		})

		engine.DELETE("/v1/tasks/:chat_id", func(c *gin.Context) {
			if err := hg.Tasks.ClearTasks(c.Request.Context(), c.Param("chat_id")); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
				return
			}
			c.JSON(http.StatusOK, gin.H{"success": true})
		})
	}

	hg.srv = &http.Server{Addr: hg.Addr, Handler: engine}
	if err := hg.srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Send is a no-op for HTTP; there is no push channel back to a client.
func (hg *HTTPGateway) Send(chatID string, text string) error {
	return nil
}

func (hg *HTTPGateway) Stop() error {
	if hg.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return hg.srv.Shutdown(ctx)
}
