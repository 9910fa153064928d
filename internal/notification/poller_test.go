package notification

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/nao1215/qgnotify/internal/fanout"
	"github.com/nao1215/qgnotify/pkg/event"
	"github.com/nao1215/qgnotify/pkg/httpclient"
)

// pollSource はポーリング対象のEvent Storeのモック。
type pollSource struct {
	mu     sync.Mutex
	events []event.Event
	// sinces は受け取ったsinceパラメータ。
	sinces []string
	// fail が真の場合は500を返す。
	fail bool
}

func (s *pollSource) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.Method == http.MethodPost {
		w.WriteHeader(http.StatusCreated)
		return
	}
	if s.fail {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	since, err := time.Parse(time.RFC3339Nano, r.URL.Query().Get("since"))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	s.sinces = append(s.sinces, r.URL.Query().Get("since"))

	var out []event.Event
	for _, ev := range s.events {
		if !ev.CreatedAt.Before(since) {
			out = append(out, ev)
		}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

func (s *pollSource) setFail(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = fail
}

func (s *pollSource) firstSince() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sinces) == 0 {
		return ""
	}
	return s.sinces[0]
}

// setupTestPoller はテスト用のPollerを構築する。
func setupTestPoller(t *testing.T, source *pollSource) (*Poller, *stubChannel) {
	t.Helper()

	sqlDB := openTestDB(t)
	seedDispatchFixture(t, sqlDB)

	srv := httptest.NewServer(source)
	t.Cleanup(srv.Close)

	channel := &stubChannel{}
	client := httpclient.New(srv.URL)
	service := NewService(NewQGChangeDispatcher(NewStore(sqlDB), channel), client, discardLogger)
	return NewPoller(service, client, 10*time.Millisecond, discardLogger), channel
}

func TestPoller_Poll(t *testing.T) {
	t.Parallel()

	t.Run("正常系_QualityGateChangedイベントだけを1バッチで配信しカーソルを進める", func(t *testing.T) {
		t.Parallel()

		other, err := event.New("notification-x", event.AggregateTypeNotification, event.TypeNotificationDelivered, 1,
			event.NotificationDeliveredData{DispatcherKey: QGChangeKey})
		if err != nil {
			t.Fatalf("イベントの生成に失敗: %v", err)
		}
		first := qgEvent(t, "P1", "ERROR")
		second := qgEvent(t, "P2", "OK")
		second.CreatedAt = first.CreatedAt.Add(time.Second)
		other.CreatedAt = first.CreatedAt.Add(2 * time.Second)

		source := &pollSource{events: []event.Event{first, second, *other}}
		p, channel := setupTestPoller(t, source)

		count, err := p.Poll(t.Context())
		if err != nil {
			t.Fatalf("Pollが失敗: %v", err)
		}
		// P1: alice, bob、P2: alice
		if count != 3 {
			t.Errorf("配信件数: got=%d, want=3", count)
		}
		if channel.calls() != 1 {
			t.Errorf("チャネルは1回だけ呼ばれるべき: got=%d", channel.calls())
		}
		if got := source.firstSince(); got != "1970-01-01T00:00:00Z" {
			t.Errorf("初回のsince: got=%s, want=1970-01-01T00:00:00Z", got)
		}
		if want := other.CreatedAt.Add(time.Nanosecond); !p.Cursor().Equal(want) {
			t.Errorf("カーソル: got=%s, want=%s", p.Cursor(), want)
		}

		// 次のポーリングでは同じイベントを再取得しない
		count, err = p.Poll(t.Context())
		if err != nil {
			t.Fatalf("Pollが失敗: %v", err)
		}
		if count != 0 || channel.calls() != 1 {
			t.Errorf("再配信されないべき: count=%d, calls=%d", count, channel.calls())
		}
	})

	t.Run("異常系_配信に失敗した場合はカーソルを進めず次回再試行する", func(t *testing.T) {
		t.Parallel()

		source := &pollSource{events: []event.Event{qgEvent(t, "P1", "ERROR")}}
		p, channel := setupTestPoller(t, source)
		channel.setErr(errChannelDown)

		if _, err := p.Poll(t.Context()); !errors.Is(err, fanout.ErrDelivery) {
			t.Fatalf("ErrDeliveryが返されるべき: %v", err)
		}
		if !p.Cursor().IsZero() {
			t.Errorf("カーソルは進まないべき: %s", p.Cursor())
		}

		channel.setErr(nil)
		count, err := p.Poll(t.Context())
		if err != nil {
			t.Fatalf("Pollが失敗: %v", err)
		}
		if count != 2 {
			t.Errorf("配信件数: got=%d, want=2", count)
		}
	})

	t.Run("異常系_Event Storeのエラーを返す", func(t *testing.T) {
		t.Parallel()

		source := &pollSource{fail: true}
		p, _ := setupTestPoller(t, source)

		_, err := p.Poll(t.Context())
		var httpErr *httpclient.HTTPError
		if !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusInternalServerError {
			t.Errorf("HTTPErrorが返されるべき: %v", err)
		}
	})

	t.Run("正常系_イベントがない場合は何もしない", func(t *testing.T) {
		t.Parallel()

		p, channel := setupTestPoller(t, &pollSource{})
		count, err := p.Poll(t.Context())
		if err != nil || count != 0 || channel.calls() != 0 {
			t.Errorf("何もしないべき: count=%d, calls=%d, err=%v", count, channel.calls(), err)
		}
	})
}

func TestPoller_StartStop(t *testing.T) {
	t.Parallel()

	source := &pollSource{fail: true}
	p, channel := setupTestPoller(t, source)
	source.events = []event.Event{qgEvent(t, "P1", "ERROR")}

	p.Start(t.Context())
	t.Cleanup(p.Stop)

	// Event Storeが復旧するとバックグラウンドで配信される
	source.setFail(false)
	eventually(t, func() bool { return channel.calls() == 1 })

	p.Stop()
	p.Stop()
}
