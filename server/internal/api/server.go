package api

import (
	"errors"
	"log"
	"net/http"
	"time"

	"backpack-tutor/server/internal/catalog"
	"backpack-tutor/server/internal/config"
	"backpack-tutor/server/internal/model"
	"backpack-tutor/server/internal/session"
	"backpack-tutor/server/internal/tutor"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

type Server struct {
	config  *config.Config
	catalog *catalog.Catalog
	engine  *tutor.Engine

	// upgrader 只用于讲师端的事件流。
	upgrader websocket.Upgrader
}

func NewServer(cfg *config.Config, cat *catalog.Catalog, engine *tutor.Engine) *Server {
	return &Server{
		config:  cfg,
		catalog: cat,
		engine:  engine,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// 开发期允许本地跨域，生产环境应改为白名单
				origin := r.Header.Get("Origin")
				return origin == "" || origin == "http://localhost:5173" || origin == "http://127.0.0.1:5173"
			},
		},
	}
}

func (s *Server) Routes() http.Handler {
	// Gin 统一承载中间件与路由，便于扩展日志/鉴权/限流等能力。
	engine := gin.New()
	engine.Use(gin.Logger(), gin.Recovery(), s.corsMiddleware())
	engine.GET("/healthz", s.handleHealthz)
	engine.GET("/api/modules", s.handleModules)
	engine.POST("/api/sessions", s.handleCreateSession)
	engine.POST("/api/sessions/:id/respond", s.handleRespond)
	engine.GET("/api/sessions/:id/state", s.handleState)
	engine.GET("/api/sessions/:id/trajectory", s.handleTrajectory)
	engine.GET("/api/sessions/:id/summary", s.handleSummary)
	engine.GET("/api/sessions/:id/stream", s.handleStream)
	return engine
}

// handleHealthz 返回服务健康状态。
func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type moduleSummary struct {
	ModuleID    string `json:"module_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	GoalCount   int    `json:"goal_count"`
}

// handleModules 返回所有可辅导的模块（不展开课程材料）。
func (s *Server) handleModules(c *gin.Context) {
	modules := s.catalog.List()
	out := make([]moduleSummary, 0, len(modules))
	for _, m := range modules {
		out = append(out, moduleSummary{
			ModuleID:    m.ModuleID,
			Name:        m.Name,
			Description: m.Description,
			GoalCount:   len(m.Goals),
		})
	}
	c.JSON(http.StatusOK, out)
}

// handleCreateSession 创建会话并返回第一条导师消息。
func (s *Server) handleCreateSession(c *gin.Context) {
	var req model.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.ModuleID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "module_id required"})
		return
	}

	resp, err := s.engine.CreateSession(c.Request.Context(), req.ModuleID, req.ModelOverride)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// handleRespond 接收学习者回复，驱动状态机推进一轮。
func (s *Server) handleRespond(c *gin.Context) {
	var req model.RespondRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.Message == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message required"})
		return
	}

	result, err := s.engine.Respond(c.Request.Context(), c.Param("id"), req.Message)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleState(c *gin.Context) {
	view, err := s.engine.GetState(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) handleTrajectory(c *gin.Context) {
	view, err := s.engine.GetTrajectory(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) handleSummary(c *gin.Context) {
	summary, err := s.engine.GetSummary(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// handleStream 处理讲师端的 WebSocket 事件流：
// 先回放该会话已有的 timeline 事件，之后按 seq 轮询尾随新事件。
func (s *Server) handleStream(c *gin.Context) {
	sessionID := c.Param("id")

	events, err := s.engine.Events(c.Request.Context(), sessionID)
	if err != nil {
		s.writeError(c, err)
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[API] websocket upgrade failed for session %s: %v", sessionID, err)
		return
	}
	defer conn.Close()

	var lastSeq int64
	for _, evt := range events {
		if err := conn.WriteJSON(evt); err != nil {
			return
		}
		lastSeq = evt.Seq
	}

	// 读协程只为感知客户端关闭。
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-c.Request.Context().Done():
			return
		case <-ticker.C:
			events, err := s.engine.Events(c.Request.Context(), sessionID)
			if err != nil {
				return
			}
			for _, evt := range events {
				if evt.Seq <= lastSeq {
					continue
				}
				if err := conn.WriteJSON(evt); err != nil {
					return
				}
				lastSeq = evt.Seq
			}
		}
	}
}

// writeError 把引擎错误映射为 HTTP 状态码：
//   - 未知模块/会话 → 404
//   - 没有学习目标 → 422
//   - 前置条件不满足（终态 respond、未完成取总结）→ 409
//   - 版本冲突 → 409 + retryable，客户端原样重试即可
func (s *Server) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, tutor.ErrModuleNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "module not found"})
	case errors.Is(err, tutor.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
	case errors.Is(err, tutor.ErrNoGoals):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "module has no learning goals"})
	case errors.Is(err, tutor.ErrSessionComplete):
		c.JSON(http.StatusConflict, gin.H{"error": "session already complete"})
	case errors.Is(err, tutor.ErrSessionNotComplete):
		c.JSON(http.StatusConflict, gin.H{"error": "session not complete yet"})
	case errors.Is(err, session.ErrVersionConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "concurrent update, retry", "retryable": true})
	default:
		log.Printf("[API] internal error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func (s *Server) corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		// 开发期：允许本地 Vite；线上应改为白名单或同源。
		if origin == "http://localhost:5173" || origin == "http://127.0.0.1:5173" {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
			c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
