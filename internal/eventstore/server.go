package eventstore

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/qgnotify/pkg/event"
	"github.com/nao1215/qgnotify/pkg/middleware"
	sloghttp "github.com/samber/slog-http"
)

// Server はイベントストアサービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// store はイベントログ。
	store *Store
	// logger はログの出力先。
	logger *slog.Logger
}

// NewServer は新しいイベントストアサーバーを生成する。
func NewServer(port string, store *Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	router := gin.New()
	router.Use(middleware.Recovery(logger))

	s := &Server{
		router: router,
		port:   port,
		store:  store,
		logger: logger,
	}
	s.setupRoutes()

	return s
}

// Handler はアクセスログを付与したHTTPハンドラを返す。
func (s *Server) Handler() http.Handler {
	return sloghttp.NewWithConfig(s.logger, sloghttp.Config{
		DefaultLevel:     slog.LevelDebug,
		ClientErrorLevel: slog.LevelWarn,
		ServerErrorLevel: slog.LevelError,
		Filters:          []sloghttp.Filter{sloghttp.IgnorePath("/health")},
	})(s.router)
}

// Run はHTTPサーバーを起動する。
func (s *Server) Run() error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv.ListenAndServe()
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	api := s.router.Group("/api/v1")
	{
		events := api.Group("/events")
		{
			// 全イベント取得
			events.GET("", s.handleGetAllEvents())
			// イベントの追記
			events.POST("", s.handleAppendEvent())
			// AggregateIDによるイベント取得
			events.GET("/aggregate/:aggregate_id", s.handleGetEventsByAggregateID())
			// イベントタイプによるイベント取得（クエリパラメータ: since、省略可）
			events.GET("/type/:event_type", s.handleGetEventsByType())
			// 日時指定によるイベント取得（クエリパラメータ: since）
			events.GET("/since", s.handleGetEventsSince())
			// AggregateIDの最新バージョン取得
			events.GET("/aggregate/:aggregate_id/version", s.handleGetLatestVersion())
		}
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "eventstore"})
	})
}

// appendEventRequest はイベント追記リクエストのJSON構造。
type appendEventRequest struct {
	// AggregateID は対象エンティティの識別子。
	AggregateID string `json:"aggregate_id" binding:"required"`
	// AggregateType は対象エンティティの種類。
	AggregateType string `json:"aggregate_type" binding:"required"`
	// EventType はイベントの種類。
	EventType string `json:"event_type" binding:"required"`
	// Data はイベント固有のデータ（JSON形式）。
	Data json.RawMessage `json:"data" binding:"required"`
}

// handleAppendEvent はイベントの追記を処理するハンドラを返す。
func (s *Server) handleAppendEvent() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req appendEventRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		ev, err := s.store.Append(c.Request.Context(), AppendParams{
			AggregateID:   req.AggregateID,
			AggregateType: event.AggregateType(req.AggregateType),
			EventType:     event.Type(req.EventType),
			Data:          req.Data,
		})
		if err != nil {
			s.logger.ErrorContext(c.Request.Context(), "イベントの追記に失敗しました", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "イベントの追記に失敗しました"})
			return
		}

		c.JSON(http.StatusCreated, ev)
	}
}

// handleGetAllEvents は全イベントを返すハンドラを返す。
func (s *Server) handleGetAllEvents() gin.HandlerFunc {
	return func(c *gin.Context) {
		events, err := s.store.ListAll(c.Request.Context())
		s.respondEvents(c, events, err)
	}
}

// handleGetEventsByAggregateID はAggregateIDによるイベント取得を処理するハンドラを返す。
func (s *Server) handleGetEventsByAggregateID() gin.HandlerFunc {
	return func(c *gin.Context) {
		events, err := s.store.ListByAggregateID(c.Request.Context(), c.Param("aggregate_id"))
		s.respondEvents(c, events, err)
	}
}

// handleGetEventsByType はイベントタイプによるイベント取得を処理するハンドラを返す。
func (s *Server) handleGetEventsByType() gin.HandlerFunc {
	return func(c *gin.Context) {
		var since time.Time
		if raw := c.Query("since"); raw != "" {
			t, err := parseSince(raw)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			since = t
		}

		events, err := s.store.ListByType(c.Request.Context(), event.Type(c.Param("event_type")), since)
		s.respondEvents(c, events, err)
	}
}

// handleGetEventsSince は日時指定によるイベント取得を処理するハンドラを返す。
func (s *Server) handleGetEventsSince() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.Query("since")
		if raw == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "sinceパラメータが必要です"})
			return
		}
		since, err := parseSince(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		events, err := s.store.ListSince(c.Request.Context(), since)
		s.respondEvents(c, events, err)
	}
}

// handleGetLatestVersion はAggregateIDの最新バージョン取得を処理するハンドラを返す。
func (s *Server) handleGetLatestVersion() gin.HandlerFunc {
	return func(c *gin.Context) {
		aggregateID := c.Param("aggregate_id")
		version, err := s.store.LatestVersion(c.Request.Context(), aggregateID)
		if err != nil {
			s.logger.ErrorContext(c.Request.Context(), "最新バージョンの取得に失敗しました", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "最新バージョンの取得に失敗しました"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"aggregate_id": aggregateID, "latest_version": version})
	}
}

// respondEvents はイベント一覧またはエラーを返す。
func (s *Server) respondEvents(c *gin.Context, events []event.Event, err error) {
	if err != nil {
		s.logger.ErrorContext(c.Request.Context(), "イベントの取得に失敗しました", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "イベントの取得に失敗しました"})
		return
	}
	c.JSON(http.StatusOK, events)
}

// parseSince はsinceパラメータをRFC3339形式（小数秒は任意）として解析する。
func parseSince(raw string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("sinceパラメータの形式が不正です（RFC3339形式で指定してください）: %w", err)
	}
	return t, nil
}
