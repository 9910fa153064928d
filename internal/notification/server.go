package notification

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	notificationdb "github.com/nao1215/qgnotify/internal/notification/db"
	"github.com/nao1215/qgnotify/pkg/event"
	"github.com/nao1215/qgnotify/pkg/middleware"
	sloghttp "github.com/samber/slog-http"
)

// Server は通知サービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// httpServer はアクセスログ付きのハンドラを持つHTTPサーバー。
	httpServer *http.Server
	// port はサーバーのリッスンポート。
	port string
	// queries は購読と受信箱のクエリ実行オブジェクト。
	queries *notificationdb.Queries
	// registry は通知カテゴリの登録情報。
	registry *Registry
	// service はイベントを通知として配信するサービス。
	service *Service
	// logger はログの出力先。
	logger *slog.Logger
}

// NewServer は新しい通知サーバーを生成する。
// dbはマイグレーション済みであること。
func NewServer(cfg Config, db *sql.DB, registry *Registry, service *Service, logger *slog.Logger) *Server {
	s := newServer(cfg.Port, db, registry, service, logger, cfg.AllowedOrigins)
	s.setupRoutes(middleware.JWTAuth(cfg.JWTSecret), middleware.ServiceAuth(cfg.InternalToken))
	return s
}

// newServer はルーティング設定前のサーバーを生成する。
func newServer(port string, db *sql.DB, registry *Registry, service *Service, logger *slog.Logger, allowedOrigins []string) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	router := gin.New()
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.CORS(allowedOrigins))

	s := &Server{
		router:   router,
		port:     port,
		queries:  notificationdb.New(db),
		registry: registry,
		service:  service,
		logger:   logger,
	}
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%s", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
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

// Run はHTTPサーバーを起動する。Shutdownが呼ばれるまで戻らない。
func (s *Server) Run() error {
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown は処理中のリクエストを待ってHTTPサーバーを停止する。
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// setupRoutes はAPIルーティングを設定する。
// authはユーザーIDをコンテキストに設定する認証ミドルウェア、internalAuthは内部APIを保護するミドルウェア。
func (s *Server) setupRoutes(auth, internalAuth gin.HandlerFunc) {
	v1 := s.router.Group("/api/v1")

	api := v1.Group("")
	api.Use(auth)
	{
		notifications := api.Group("/notifications")
		{
			// 受信箱の通知一覧取得
			notifications.GET("", s.handleList())
			// 未読通知一覧取得
			notifications.GET("/unread", s.handleListUnread())
			// 通知を既読にする
			notifications.PUT("/:id/read", s.handleMarkAsRead())
			// 全通知を既読にする
			notifications.PUT("/read-all", s.handleMarkAllAsRead())
		}

		subscriptions := api.Group("/subscriptions")
		{
			subscriptions.GET("", s.handleListSubscriptions())
			// 購読できる通知カテゴリの一覧
			subscriptions.GET("/dispatchers", s.handleListDispatchers())
			subscriptions.POST("", s.handleCreateSubscription())
			subscriptions.DELETE("/:id", s.handleDeleteSubscription())
		}
	}

	// 内部API（解析サービスや管理ツールから呼び出される）
	internal := v1.Group("/internal")
	internal.Use(internalAuth)
	{
		internal.POST("/dispatch", s.handleDispatch())
		internal.GET("/users/:login", s.handleGetUser())
		internal.PUT("/users/:login", s.handleUpsertUser())
		internal.PUT("/permissions", s.handleGrantPermission())
		internal.DELETE("/permissions", s.handleRevokePermission())
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "notification"})
	})
}

// handleDispatch はQualityGateChangedイベントのバッチを配信するハンドラ。
// 配信件数を {"delivered": n} で返す。
func (s *Server) handleDispatch() gin.HandlerFunc {
	return func(c *gin.Context) {
		var events []event.Event
		if err := c.ShouldBindJSON(&events); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		count, err := s.service.DispatchEvents(c.Request.Context(), events)
		if err != nil {
			if errors.Is(err, ErrInvalidEvent) {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			s.logger.ErrorContext(c.Request.Context(), "通知の配信に失敗しました", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "通知の配信に失敗しました"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"delivered": count})
	}
}

// deliveryResponse は受信箱の通知のJSONレスポンス構造。
type deliveryResponse struct {
	// ID は通知の一意識別子。
	ID string `json:"id"`
	// DispatcherKey は通知カテゴリのキー。
	DispatcherKey string `json:"dispatcher_key"`
	// ProjectKey は通知の対象プロジェクト。
	ProjectKey string `json:"project_key"`
	// Title は通知のタイトル。
	Title string `json:"title"`
	// Message は通知メッセージ。
	Message string `json:"message"`
	// IsRead は通知の既読状態。
	IsRead bool `json:"is_read"`
	// CreatedAt は通知の作成日時（RFC3339形式）。
	CreatedAt string `json:"created_at"`
}

// toDeliveryResponses はDB行のスライスをJSONレスポンスのスライスに変換する。
func toDeliveryResponses(deliveries []notificationdb.Delivery) []deliveryResponse {
	responses := make([]deliveryResponse, 0, len(deliveries))
	for _, d := range deliveries {
		responses = append(responses, deliveryResponse{
			ID:            d.ID,
			DispatcherKey: d.DispatcherKey,
			ProjectKey:    d.ProjectKey,
			Title:         d.Title,
			Message:       d.Message,
			IsRead:        d.IsRead != 0,
			CreatedAt:     d.CreatedAt.Format(time.RFC3339),
		})
	}
	return responses
}

// currentUser は認証済みユーザーのログイン名を返す。取得できない場合は401を返してfalseを返す。
func currentUser(c *gin.Context) (string, bool) {
	login := middleware.GetUserID(c)
	if login == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
		return "", false
	}
	return login, true
}

// handleList は認証済みユーザーの受信箱の通知一覧を返すハンドラ。
func (s *Server) handleList() gin.HandlerFunc {
	return func(c *gin.Context) {
		login, ok := currentUser(c)
		if !ok {
			return
		}

		deliveries, err := s.queries.ListDeliveriesByLogin(c.Request.Context(), login)
		if err != nil {
			s.logger.ErrorContext(c.Request.Context(), "通知一覧の取得に失敗しました", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "通知一覧の取得に失敗しました"})
			return
		}

		c.JSON(http.StatusOK, toDeliveryResponses(deliveries))
	}
}

// handleListUnread は認証済みユーザーの未読通知一覧を返すハンドラ。
func (s *Server) handleListUnread() gin.HandlerFunc {
	return func(c *gin.Context) {
		login, ok := currentUser(c)
		if !ok {
			return
		}

		deliveries, err := s.queries.ListUnreadDeliveries(c.Request.Context(), login)
		if err != nil {
			s.logger.ErrorContext(c.Request.Context(), "未読通知一覧の取得に失敗しました", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "未読通知一覧の取得に失敗しました"})
			return
		}

		c.JSON(http.StatusOK, toDeliveryResponses(deliveries))
	}
}

// handleMarkAsRead は指定された通知を既読にするハンドラ。
func (s *Server) handleMarkAsRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		login, ok := currentUser(c)
		if !ok {
			return
		}

		id := c.Param("id")
		d, err := s.queries.GetDeliveryByID(c.Request.Context(), id)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				c.JSON(http.StatusNotFound, gin.H{"error": "通知が見つかりません"})
				return
			}
			s.logger.ErrorContext(c.Request.Context(), "通知の取得に失敗しました", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "通知の取得に失敗しました"})
			return
		}

		if d.Login != login {
			c.JSON(http.StatusForbidden, gin.H{"error": "この通知を操作する権限がありません"})
			return
		}

		if err := s.queries.MarkAsRead(c.Request.Context(), id); err != nil {
			s.logger.ErrorContext(c.Request.Context(), "通知の既読処理に失敗しました", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "通知の既読処理に失敗しました"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": "通知を既読にしました"})
	}
}

// handleMarkAllAsRead は認証済みユーザーの全通知を既読にするハンドラ。
func (s *Server) handleMarkAllAsRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		login, ok := currentUser(c)
		if !ok {
			return
		}

		if err := s.queries.MarkAllAsRead(c.Request.Context(), login); err != nil {
			s.logger.ErrorContext(c.Request.Context(), "全通知の既読処理に失敗しました", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "全通知の既読処理に失敗しました"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": "全通知を既読にしました"})
	}
}

// subscriptionRequest は購読作成リクエストのJSON構造。
type subscriptionRequest struct {
	// DispatcherKey は購読する通知カテゴリのキー。
	DispatcherKey string `json:"dispatcher_key" binding:"required"`
	// ProjectKey は購読するプロジェクト。空ならすべてのプロジェクトを購読する。
	ProjectKey string `json:"project_key"`
}

// subscriptionResponse は購読のJSONレスポンス構造。
type subscriptionResponse struct {
	// ID は購読の一意識別子。
	ID string `json:"id"`
	// DispatcherKey は通知カテゴリのキー。
	DispatcherKey string `json:"dispatcher_key"`
	// ProjectKey は購読するプロジェクト。全体購読なら空。
	ProjectKey string `json:"project_key,omitempty"`
	// Global は全体購読かどうか。
	Global bool `json:"global"`
}

// handleListSubscriptions は認証済みユーザーの購読一覧を返すハンドラ。
func (s *Server) handleListSubscriptions() gin.HandlerFunc {
	return func(c *gin.Context) {
		login, ok := currentUser(c)
		if !ok {
			return
		}

		subs, err := s.queries.ListSubscriptionsByLogin(c.Request.Context(), login)
		if err != nil {
			s.logger.ErrorContext(c.Request.Context(), "購読一覧の取得に失敗しました", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "購読一覧の取得に失敗しました"})
			return
		}

		responses := make([]subscriptionResponse, 0, len(subs))
		for _, sub := range subs {
			responses = append(responses, subscriptionResponse{
				ID:            sub.ID,
				DispatcherKey: sub.DispatcherKey,
				ProjectKey:    sub.ProjectKey.String,
				Global:        !sub.ProjectKey.Valid,
			})
		}
		c.JSON(http.StatusOK, responses)
	}
}

// handleCreateSubscription は認証済みユーザーの購読を作成するハンドラ。
// カテゴリが対応していない種類の購読は400を返す。
func (s *Server) handleCreateSubscription() gin.HandlerFunc {
	return func(c *gin.Context) {
		login, ok := currentUser(c)
		if !ok {
			return
		}

		var req subscriptionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		if err := s.registry.ValidateSubscription(req.DispatcherKey, req.ProjectKey); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		id := uuid.New().String()
		err := s.queries.CreateSubscription(c.Request.Context(), notificationdb.CreateSubscriptionParams{
			ID:            id,
			Login:         login,
			DispatcherKey: req.DispatcherKey,
			ProjectKey:    sql.NullString{String: req.ProjectKey, Valid: req.ProjectKey != ""},
		})
		if err != nil {
			if isUniqueViolation(err) {
				c.JSON(http.StatusConflict, gin.H{"error": "既に購読しています"})
				return
			}
			s.logger.ErrorContext(c.Request.Context(), "購読の作成に失敗しました", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "購読の作成に失敗しました"})
			return
		}

		c.JSON(http.StatusCreated, subscriptionResponse{
			ID:            id,
			DispatcherKey: req.DispatcherKey,
			ProjectKey:    req.ProjectKey,
			Global:        req.ProjectKey == "",
		})
	}
}

// dispatcherResponse は通知カテゴリのJSONレスポンス構造。
type dispatcherResponse struct {
	// Key は通知カテゴリのキー。
	Key string `json:"key"`
	// Global は全体購読に対応しているかどうか。
	Global bool `json:"global"`
	// PerProject はプロジェクト単位の購読に対応しているかどうか。
	PerProject bool `json:"per_project"`
}

// handleListDispatchers は登録済みの通知カテゴリと対応する購読の種類を返すハンドラ。
func (s *Server) handleListDispatchers() gin.HandlerFunc {
	return func(c *gin.Context) {
		keys := s.registry.Keys()
		responses := make([]dispatcherResponse, 0, len(keys))
		for _, key := range keys {
			meta, ok := s.registry.Lookup(key)
			if !ok {
				continue
			}
			responses = append(responses, dispatcherResponse{
				Key:        key,
				Global:     meta.GlobalSubscription,
				PerProject: meta.PerResourceSubscription,
			})
		}
		c.JSON(http.StatusOK, responses)
	}
}

// handleDeleteSubscription は認証済みユーザーの購読を削除するハンドラ。
func (s *Server) handleDeleteSubscription() gin.HandlerFunc {
	return func(c *gin.Context) {
		login, ok := currentUser(c)
		if !ok {
			return
		}

		n, err := s.queries.DeleteSubscription(c.Request.Context(), notificationdb.DeleteSubscriptionParams{
			ID:    c.Param("id"),
			Login: login,
		})
		if err != nil {
			s.logger.ErrorContext(c.Request.Context(), "購読の削除に失敗しました", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "購読の削除に失敗しました"})
			return
		}
		if n == 0 {
			c.JSON(http.StatusNotFound, gin.H{"error": "購読が見つかりません"})
			return
		}

		c.Status(http.StatusNoContent)
	}
}

// userRequest はユーザー登録リクエストのJSON構造。
type userRequest struct {
	// Email は配信先のメールアドレス。
	Email string `json:"email"`
	// Active は有効なユーザーかどうか。省略時は有効。
	Active *bool `json:"active"`
}

// handleGetUser はログイン名でユーザーを取得するハンドラ。
func (s *Server) handleGetUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := s.queries.GetUser(c.Request.Context(), c.Param("login"))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				c.JSON(http.StatusNotFound, gin.H{"error": "ユーザーが見つかりません"})
				return
			}
			s.logger.ErrorContext(c.Request.Context(), "ユーザーの取得に失敗しました", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ユーザーの取得に失敗しました"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"login": user.Login, "email": user.Email, "active": user.Active != 0})
	}
}

// handleUpsertUser はユーザーを登録または更新するハンドラ。
func (s *Server) handleUpsertUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req userRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		active := int64(1)
		if req.Active != nil && !*req.Active {
			active = 0
		}

		login := c.Param("login")
		if err := s.queries.UpsertUser(c.Request.Context(), notificationdb.UpsertUserParams{
			Login:  login,
			Email:  req.Email,
			Active: active,
		}); err != nil {
			s.logger.ErrorContext(c.Request.Context(), "ユーザーの登録に失敗しました", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ユーザーの登録に失敗しました"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"login": login, "email": req.Email, "active": active == 1})
	}
}

// permissionRequest はロールの付与・取り消しリクエストのJSON構造。
type permissionRequest struct {
	// Login は対象ユーザーのログイン名。
	Login string `json:"login" binding:"required"`
	// ProjectKey は対象プロジェクト。
	ProjectKey string `json:"project_key" binding:"required"`
	// Role はロール名。省略時はuser。
	Role string `json:"role"`
}

func (r permissionRequest) params() notificationdb.GrantPermissionParams {
	role := r.Role
	if role == "" {
		role = RoleUser
	}
	return notificationdb.GrantPermissionParams{Login: r.Login, ProjectKey: r.ProjectKey, Role: role}
}

// handleGrantPermission はユーザーにプロジェクトのロールを付与するハンドラ。
func (s *Server) handleGrantPermission() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req permissionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		if err := s.queries.GrantPermission(c.Request.Context(), req.params()); err != nil {
			s.logger.ErrorContext(c.Request.Context(), "ロールの付与に失敗しました", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ロールの付与に失敗しました"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": "ロールを付与しました"})
	}
}

// handleRevokePermission はユーザーからプロジェクトのロールを取り消すハンドラ。
func (s *Server) handleRevokePermission() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req permissionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		n, err := s.queries.RevokePermission(c.Request.Context(), req.params())
		if err != nil {
			s.logger.ErrorContext(c.Request.Context(), "ロールの取り消しに失敗しました", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ロールの取り消しに失敗しました"})
			return
		}
		if n == 0 {
			c.JSON(http.StatusNotFound, gin.H{"error": "ロールが見つかりません"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": "ロールを取り消しました"})
	}
}

// isUniqueViolation はSQLiteの一意制約違反かどうかを判定する。
func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
