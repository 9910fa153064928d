package gateway

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/qgnotify/pkg/middleware"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// testJWTSecret はテスト用のJWT署名秘密鍵。
const testJWTSecret = "test-secret-key"

// backendRequest はモックバックエンドが受け取ったリクエストの記録。
type backendRequest struct {
	Method        string
	Path          string
	RawQuery      string
	Authorization string
	UserID        string
	Body          string
}

// backendRecorder はリクエストを記録して固定のレスポンスを返すモックバックエンド。
type backendRecorder struct {
	mu       sync.Mutex
	requests []backendRequest
	status   int
	body     string
}

func (b *backendRecorder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	b.mu.Lock()
	b.requests = append(b.requests, backendRequest{
		Method:        r.Method,
		Path:          r.URL.Path,
		RawQuery:      r.URL.RawQuery,
		Authorization: r.Header.Get("Authorization"),
		UserID:        r.Header.Get("X-User-ID"),
		Body:          string(body),
	})
	b.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(b.status)
	_, _ = w.Write([]byte(b.body))
}

func (b *backendRecorder) last(t *testing.T) backendRequest {
	t.Helper()

	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.requests) == 0 {
		t.Fatal("バックエンドにリクエストが届いていない")
	}
	return b.requests[len(b.requests)-1]
}

// newTestServer はモックバックエンドを持つテスト用Gatewayサーバーを生成する。
func newTestServer(t *testing.T, notification, eventstore *backendRecorder) *Server {
	t.Helper()

	cfg := Config{
		Port:            "0",
		JWTSecret:       testJWTSecret,
		NotificationURL: "http://localhost:1",
		EventStoreURL:   "http://localhost:1",
		DevToken:        true,
	}
	if notification != nil {
		srv := httptest.NewServer(notification)
		t.Cleanup(srv.Close)
		cfg.NotificationURL = srv.URL
	}
	if eventstore != nil {
		srv := httptest.NewServer(eventstore)
		t.Cleanup(srv.Close)
		cfg.EventStoreURL = srv.URL
	}
	return NewServer(cfg, nil)
}

// issueToken はテスト用のJWTトークンを生成する。
func issueToken(t *testing.T, login string) string {
	t.Helper()

	token, err := middleware.GenerateJWT(testJWTSecret, login, login+"@example.com")
	if err != nil {
		t.Fatalf("JWTトークンの生成に失敗: %v", err)
	}
	return token
}

func doRequest(s *Server, method, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

// TestHealthCheck はヘルスチェックエンドポイントの正常動作を検証する。
func TestHealthCheck(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, nil, nil)
	w := doRequest(s, http.MethodGet, "/health", "", "")
	if w.Code != http.StatusOK {
		t.Errorf("ステータスコード = %d; 期待値 = %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), `"service":"gateway"`) {
		t.Errorf("レスポンス = %s", w.Body.String())
	}
}

// TestHandleDevToken は開発用トークン発行を検証する。
func TestHandleDevToken(t *testing.T) {
	t.Parallel()

	t.Run("発行したトークンで認証できる", func(t *testing.T) {
		t.Parallel()

		s := newTestServer(t, nil, nil)
		w := doRequest(s, http.MethodPost, "/auth/dev-token", "", `{"login":"alice","email":"alice@example.com"}`)
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d; 期待値 = %d", w.Code, http.StatusOK)
		}
		var resp struct {
			Token  string `json:"token"`
			UserID string `json:"user_id"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("レスポンスのJSONデコードに失敗: %v", err)
		}
		if resp.Token == "" || resp.UserID != "alice" {
			t.Fatalf("レスポンス = %+v", resp)
		}

		w = doRequest(s, http.MethodGet, "/api/v1/me", resp.Token, "")
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d; 期待値 = %d", w.Code, http.StatusOK)
		}
		var me map[string]string
		if err := json.Unmarshal(w.Body.Bytes(), &me); err != nil {
			t.Fatalf("レスポンスのJSONデコードに失敗: %v", err)
		}
		if me["id"] != "alice" || me["email"] != "alice@example.com" {
			t.Errorf("ユーザー情報 = %v", me)
		}
	})

	t.Run("loginがない場合は400", func(t *testing.T) {
		t.Parallel()

		s := newTestServer(t, nil, nil)
		w := doRequest(s, http.MethodPost, "/auth/dev-token", "", `{"email":"alice@example.com"}`)
		if w.Code != http.StatusBadRequest {
			t.Errorf("ステータスコード = %d; 期待値 = %d", w.Code, http.StatusBadRequest)
		}
	})

	t.Run("無効化されている場合は404", func(t *testing.T) {
		t.Parallel()

		s := NewServer(Config{JWTSecret: testJWTSecret}, nil)
		w := doRequest(s, http.MethodPost, "/auth/dev-token", "", `{"login":"alice"}`)
		if w.Code != http.StatusNotFound {
			t.Errorf("ステータスコード = %d; 期待値 = %d", w.Code, http.StatusNotFound)
		}
	})
}

// TestProxy は内部サービスへの転送を検証する。
func TestProxy(t *testing.T) {
	t.Parallel()

	t.Run("通知サービスへパスとクエリとヘッダーを転送する", func(t *testing.T) {
		t.Parallel()

		backend := &backendRecorder{status: http.StatusOK, body: `[]`}
		s := newTestServer(t, backend, nil)
		token := issueToken(t, "alice")

		w := doRequest(s, http.MethodGet, "/api/v1/notifications?limit=5", token, "")
		if w.Code != http.StatusOK || w.Body.String() != "[]" {
			t.Errorf("レスポンス: code=%d, body=%s", w.Code, w.Body.String())
		}

		got := backend.last(t)
		if got.Method != http.MethodGet || got.Path != "/api/v1/notifications" || got.RawQuery != "limit=5" {
			t.Errorf("転送先が一致しない: %+v", got)
		}
		if got.Authorization != "Bearer "+token || got.UserID != "alice" {
			t.Errorf("ヘッダーが転送されていない: %+v", got)
		}
	})

	t.Run("購読の作成はボディとステータスをそのまま転送する", func(t *testing.T) {
		t.Parallel()

		backend := &backendRecorder{status: http.StatusConflict, body: `{"error":"dup"}`}
		s := newTestServer(t, backend, nil)

		body := `{"dispatcher_key":"NewAlerts","project_key":"P1"}`
		w := doRequest(s, http.MethodPost, "/api/v1/subscriptions", issueToken(t, "bob"), body)
		if w.Code != http.StatusConflict {
			t.Errorf("ステータスコード = %d; 期待値 = %d", w.Code, http.StatusConflict)
		}
		if got := backend.last(t); got.Body != body || got.Method != http.MethodPost {
			t.Errorf("ボディが転送されていない: %+v", got)
		}
	})

	t.Run("イベントログはイベントストアへ転送する", func(t *testing.T) {
		t.Parallel()

		eventstore := &backendRecorder{status: http.StatusOK, body: `[]`}
		s := newTestServer(t, nil, eventstore)

		w := doRequest(s, http.MethodGet, "/api/v1/events/aggregate/project-P1", issueToken(t, "alice"), "")
		if w.Code != http.StatusOK {
			t.Errorf("ステータスコード = %d; 期待値 = %d", w.Code, http.StatusOK)
		}
		if got := eventstore.last(t); got.Path != "/api/v1/events/aggregate/project-P1" {
			t.Errorf("転送先が一致しない: %+v", got)
		}
	})

	t.Run("内部サービスに接続できない場合は502", func(t *testing.T) {
		t.Parallel()

		s := newTestServer(t, nil, nil)
		w := doRequest(s, http.MethodGet, "/api/v1/subscriptions", issueToken(t, "alice"), "")
		if w.Code != http.StatusBadGateway {
			t.Errorf("ステータスコード = %d; 期待値 = %d", w.Code, http.StatusBadGateway)
		}
	})

	t.Run("認証がない場合は転送しない", func(t *testing.T) {
		t.Parallel()

		backend := &backendRecorder{status: http.StatusOK}
		s := newTestServer(t, backend, nil)

		w := doRequest(s, http.MethodGet, "/api/v1/notifications", "", "")
		if w.Code != http.StatusUnauthorized {
			t.Errorf("ステータスコード = %d; 期待値 = %d", w.Code, http.StatusUnauthorized)
		}
		backend.mu.Lock()
		defer backend.mu.Unlock()
		if len(backend.requests) != 0 {
			t.Errorf("バックエンドに転送されるべきでない: %+v", backend.requests)
		}
	})

	t.Run("内部APIは公開しない", func(t *testing.T) {
		t.Parallel()

		backend := &backendRecorder{status: http.StatusOK}
		s := newTestServer(t, backend, nil)

		w := doRequest(s, http.MethodPost, "/api/v1/internal/dispatch", issueToken(t, "alice"), "[]")
		if w.Code != http.StatusNotFound {
			t.Errorf("ステータスコード = %d; 期待値 = %d", w.Code, http.StatusNotFound)
		}
	})
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("ENABLE_DEV_TOKEN", "true")
	t.Setenv("ALLOWED_ORIGINS", "http://a.example, ,http://b.example")

	cfg := LoadConfig()
	if cfg.Port != "8080" || !cfg.DevToken {
		t.Errorf("設定 = %+v", cfg)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "http://b.example" {
		t.Errorf("AllowedOrigins = %v", cfg.AllowedOrigins)
	}
}
