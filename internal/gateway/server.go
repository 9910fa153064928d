package gateway

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/qgnotify/pkg/middleware"
	sloghttp "github.com/samber/slog-http"
)

// proxyTimeout は内部サービスへのリクエストのタイムアウト。
const proxyTimeout = 30 * time.Second

// Config はGatewayの設定。
type Config struct {
	// Port はリッスンポート。
	Port string
	// JWTSecret はJWT署名用の秘密鍵。内部サービスと共有する。
	JWTSecret string
	// NotificationURL は通知サービスのURL。
	NotificationURL string
	// EventStoreURL はイベントストアサービスのURL。
	EventStoreURL string
	// AllowedOrigins はCORSで許可するオリジン。
	AllowedOrigins []string
	// DevToken が真の場合は開発用トークンの発行を許可する。
	DevToken bool
}

// LoadConfig は環境変数から設定を読み込む。
func LoadConfig() Config {
	cfg := Config{
		Port:            getEnvOr("PORT", "8080"),
		JWTSecret:       getEnvOr("JWT_SECRET", "dev-secret-key"),
		NotificationURL: getEnvOr("NOTIFICATION_URL", "http://localhost:8086"),
		EventStoreURL:   getEnvOr("EVENTSTORE_URL", "http://localhost:8084"),
		DevToken:        os.Getenv("ENABLE_DEV_TOKEN") == "true",
	}
	for origin := range strings.SplitSeq(getEnvOr("ALLOWED_ORIGINS", "http://localhost:3000"), ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			cfg.AllowedOrigins = append(cfg.AllowedOrigins, origin)
		}
	}
	return cfg
}

// Server はAPI GatewayサービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// cfg はGatewayの設定。
	cfg Config
	// client は内部サービスへのHTTPクライアント。
	client *http.Client
	// logger はログの出力先。
	logger *slog.Logger
}

// NewServer は新しいGatewayサーバーを生成する。
func NewServer(cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	router := gin.New()
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.CORS(cfg.AllowedOrigins))

	s := &Server{
		router: router,
		cfg:    cfg,
		client: &http.Client{Timeout: proxyTimeout},
		logger: logger,
	}
	s.setupRoutes()

	return s
}

// Handler はアクセスログを付与したHTTPハンドラを返す。
func (s *Server) Handler() http.Handler {
	return sloghttp.NewWithConfig(s.logger, sloghttp.Config{
		DefaultLevel:     slog.LevelInfo,
		ClientErrorLevel: slog.LevelWarn,
		ServerErrorLevel: slog.LevelError,
		WithRequestID:    true,
		Filters:          []sloghttp.Filter{sloghttp.IgnorePath("/health")},
	})(s.router)
}

// Run はHTTPサーバーを起動する。
func (s *Server) Run() error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", s.cfg.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv.ListenAndServe()
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	// 開発用トークン発行（認証不要）
	if s.cfg.DevToken {
		s.router.POST("/auth/dev-token", s.handleDevToken())
	}

	// 認証必須のAPIエンドポイント
	api := s.router.Group("/api/v1")
	api.Use(middleware.JWTAuth(s.cfg.JWTSecret))
	{
		// ユーザー情報
		api.GET("/me", s.handleGetCurrentUser())

		// 受信箱
		api.GET("/notifications", s.handleProxy(s.cfg.NotificationURL))
		api.GET("/notifications/unread", s.handleProxy(s.cfg.NotificationURL))
		api.PUT("/notifications/read-all", s.handleProxy(s.cfg.NotificationURL))
		api.PUT("/notifications/:id/read", s.handleProxy(s.cfg.NotificationURL))

		// 購読
		api.GET("/subscriptions", s.handleProxy(s.cfg.NotificationURL))
		api.POST("/subscriptions", s.handleProxy(s.cfg.NotificationURL))
		api.DELETE("/subscriptions/:id", s.handleProxy(s.cfg.NotificationURL))

		// イベントログ（参照のみ）
		api.GET("/events", s.handleProxy(s.cfg.EventStoreURL))
		api.GET("/events/aggregate/:aggregate_id", s.handleProxy(s.cfg.EventStoreURL))
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "gateway"})
	})
}

// devTokenRequest は開発用トークン発行リクエストのJSON構造。
type devTokenRequest struct {
	// Login は通知サービスに登録されたユーザーのログイン名。
	Login string `json:"login" binding:"required"`
	// Email はトークンに含めるメールアドレス。
	Email string `json:"email"`
}

// handleDevToken は開発用JWTトークンを発行するハンドラを返す。
// Config.DevToken が偽の場合はルート自体を登録しない。
func (s *Server) handleDevToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req devTokenRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		token, err := middleware.GenerateJWT(s.cfg.JWTSecret, req.Login, req.Email)
		if err != nil {
			s.logger.ErrorContext(c.Request.Context(), "JWT生成エラー", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "トークン生成に失敗しました"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"token":   token,
			"user_id": req.Login,
		})
	}
}

// handleGetCurrentUser は認証済みユーザーの情報を返すハンドラを返す。
func (s *Server) handleGetCurrentUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		email, _ := c.Get("email")
		c.JSON(http.StatusOK, gin.H{
			"id":    middleware.GetUserID(c),
			"email": email,
		})
	}
}

// handleProxy はリクエストを同じパスのまま指定されたサービスに転送するハンドラを返す。
func (s *Server) handleProxy(baseURL string) gin.HandlerFunc {
	return func(c *gin.Context) {
		proxyURL := strings.TrimSuffix(baseURL, "/") + c.Request.URL.Path
		if c.Request.URL.RawQuery != "" {
			proxyURL += "?" + c.Request.URL.RawQuery
		}
		s.doProxy(c, proxyURL)
	}
}

// doProxy はリクエストを内部サービスにプロキシする共通処理。
// JWTトークンとユーザーIDヘッダーを転送する。
func (s *Server) doProxy(c *gin.Context, url string) {
	req, err := http.NewRequestWithContext(c.Request.Context(), c.Request.Method, url, c.Request.Body)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "プロキシリクエストの作成に失敗しました"})
		return
	}

	req.ContentLength = c.Request.ContentLength

	// 元のリクエストヘッダーを転送
	req.Header.Set("Content-Type", c.GetHeader("Content-Type"))
	req.Header.Set("Authorization", c.GetHeader("Authorization"))
	req.Header.Set("X-User-ID", middleware.GetUserID(c))

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.WarnContext(c.Request.Context(), "プロキシエラー", "url", url, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "内部サービスとの通信に失敗しました"})
		return
	}
	defer resp.Body.Close()

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/json"
	}
	c.Status(resp.StatusCode)
	c.Header("Content-Type", contentType)
	if _, err := io.Copy(c.Writer, resp.Body); err != nil {
		s.logger.WarnContext(c.Request.Context(), "レスポンスの転送に失敗", "url", url, "error", err)
	}
}

// getEnvOr は環境変数を取得し、設定されていない場合はデフォルト値を返す。
func getEnvOr(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
