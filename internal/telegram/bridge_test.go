package telegram

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"telegram-dialogs/internal/conf"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// newBridgeServer 起一个假的桥接服务，按路径返回脚本化响应
func newBridgeServer(t *testing.T, handlers map[string]http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	for path, h := range handlers {
		mux.HandleFunc(path, h)
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newBridgeClientForTest(t *testing.T, baseURL string) (Client, string) {
	t.Helper()
	cfg := &conf.Bootstrap{
		Telegram: &conf.Telegram{
			ApiId:     12345,
			ApiHash:   "hash",
			BridgeUrl: baseURL,
		},
	}
	factory := NewBridgeFactory(cfg, zap.NewNop())
	sessionPath := filepath.Join(t.TempDir(), "user_1.session")
	return factory(sessionPath), sessionPath
}

func jsonResponse(v any) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(v)
	}
}

func errorResponse(status int, code string, seconds int) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"code":    code,
			"message": code,
			"seconds": seconds,
		})
	}
}

func TestBridgeClient_ConnectSendsSession(t *testing.T) {
	var got struct {
		ApiID   int32  `json:"api_id"`
		ApiHash string `json:"api_hash"`
		Session string `json:"session"`
	}
	srv := newBridgeServer(t, map[string]http.HandlerFunc{
		"/v1/connect": func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			jsonResponse(map[string]string{"conn_id": "c1"})(w, r)
		},
	})

	client, sessionPath := newBridgeClientForTest(t, srv.URL)
	require.NoError(t, os.WriteFile(sessionPath, []byte("blob"), 0o600))

	require.NoError(t, client.Connect(context.Background()))

	assert.True(t, client.IsConnected())
	assert.Equal(t, int32(12345), got.ApiID)
	assert.Equal(t, "hash", got.ApiHash)
	// 会话凭据以 base64 上送
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("blob")), got.Session)
}

func TestBridgeClient_ConnectPersistsRefreshedSession(t *testing.T) {
	refreshed := base64.StdEncoding.EncodeToString([]byte("fresh-blob"))
	srv := newBridgeServer(t, map[string]http.HandlerFunc{
		"/v1/connect": jsonResponse(map[string]string{"conn_id": "c1", "session": refreshed}),
	})

	client, sessionPath := newBridgeClientForTest(t, srv.URL)
	require.NoError(t, client.Connect(context.Background()))

	data, err := os.ReadFile(sessionPath)
	require.NoError(t, err)
	assert.Equal(t, []byte("fresh-blob"), data)
}

func TestBridgeClient_ConnectIdempotent(t *testing.T) {
	calls := 0
	srv := newBridgeServer(t, map[string]http.HandlerFunc{
		"/v1/connect": func(w http.ResponseWriter, r *http.Request) {
			calls++
			jsonResponse(map[string]string{"conn_id": "c1"})(w, r)
		},
	})

	client, _ := newBridgeClientForTest(t, srv.URL)
	require.NoError(t, client.Connect(context.Background()))
	require.NoError(t, client.Connect(context.Background()))

	assert.Equal(t, 1, calls)
}

func TestBridgeClient_FloodWaitMapped(t *testing.T) {
	srv := newBridgeServer(t, map[string]http.HandlerFunc{
		"/v1/connect":   jsonResponse(map[string]string{"conn_id": "c1"}),
		"/v1/send-code": errorResponse(http.StatusTooManyRequests, "flood_wait", 30),
	})

	client, _ := newBridgeClientForTest(t, srv.URL)
	require.NoError(t, client.Connect(context.Background()))

	_, err := client.RequestLoginCode(context.Background(), "+10000000001")

	var flood *FloodWaitError
	require.ErrorAs(t, err, &flood)
	assert.Equal(t, 30, flood.Seconds)
}

func TestBridgeClient_ErrorCodesMapped(t *testing.T) {
	cases := []struct {
		code string
		want error
	}{
		{"user_deactivated", ErrUserDeactivated},
		{"phone_number_banned", ErrUserDeactivated},
		{"unauthorized", ErrUnauthorized},
		{"auth_key_unregistered", ErrUnauthorized},
		{"session_revoked", ErrUnauthorized},
		{"password_needed", ErrPasswordNeeded},
		{"password_invalid", ErrPasswordInvalid},
		{"code_invalid", ErrCodeInvalid},
		{"code_expired", ErrCodeInvalid},
	}

	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			srv := newBridgeServer(t, map[string]http.HandlerFunc{
				"/v1/connect": jsonResponse(map[string]string{"conn_id": "c1"}),
				"/v1/sign-in": errorResponse(http.StatusBadRequest, tc.code, 0),
			})

			client, _ := newBridgeClientForTest(t, srv.URL)
			require.NoError(t, client.Connect(context.Background()))

			_, err := client.SignIn(context.Background(), "+1", "12345", "hash")
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestBridgeClient_SignInPersistsSession(t *testing.T) {
	session := base64.StdEncoding.EncodeToString([]byte("signed-in-blob"))
	srv := newBridgeServer(t, map[string]http.HandlerFunc{
		"/v1/connect": jsonResponse(map[string]string{"conn_id": "c1"}),
		"/v1/sign-in": jsonResponse(map[string]any{
			"user":    map[string]any{"id": 42, "first_name": "Test", "username": "tester"},
			"session": session,
		}),
	})

	client, sessionPath := newBridgeClientForTest(t, srv.URL)
	require.NoError(t, client.Connect(context.Background()))

	profile, err := client.SignIn(context.Background(), "+1", "12345", "hash")
	require.NoError(t, err)
	assert.Equal(t, int64(42), profile.ID)
	assert.Equal(t, "tester", profile.Username)

	data, err := os.ReadFile(sessionPath)
	require.NoError(t, err)
	assert.Equal(t, []byte("signed-in-blob"), data)
}

func TestBridgeClient_ListDialogs(t *testing.T) {
	srv := newBridgeServer(t, map[string]http.HandlerFunc{
		"/v1/connect": jsonResponse(map[string]string{"conn_id": "c1"}),
		"/v1/dialogs": jsonResponse(map[string]any{
			"dialogs": []map[string]any{
				{
					"id": 7, "name": "Chat", "type": "user", "unread_count": 2,
					"last_message": map[string]any{"text": "hi", "date": "2025-08-01T12:00:00Z"},
				},
				{"id": 8, "name": "Channel", "type": "channel", "unread_count": 0},
			},
		}),
	})

	client, _ := newBridgeClientForTest(t, srv.URL)
	require.NoError(t, client.Connect(context.Background()))

	dialogs, err := client.ListDialogs(context.Background(), 20)
	require.NoError(t, err)
	require.Len(t, dialogs, 2)
	assert.Equal(t, int64(7), dialogs[0].ID)
	assert.Equal(t, "hi", dialogs[0].LastMessage.Text)
	assert.Nil(t, dialogs[1].LastMessage)
}

func TestBridgeClient_SendMessage(t *testing.T) {
	var got map[string]any
	srv := newBridgeServer(t, map[string]http.HandlerFunc{
		"/v1/connect": jsonResponse(map[string]string{"conn_id": "c1"}),
		"/v1/send-message": func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			jsonResponse(map[string]any{
				"message": map[string]any{"id": 99, "text": "hello", "out": true},
			})(w, r)
		},
	})

	client, _ := newBridgeClientForTest(t, srv.URL)
	require.NoError(t, client.Connect(context.Background()))

	msg, err := client.SendMessage(context.Background(), 7, "hello", 0)
	require.NoError(t, err)
	assert.Equal(t, 99, msg.ID)
	assert.True(t, msg.Out)
	// 请求体携带连接标识
	assert.Equal(t, "c1", got["conn_id"])
	assert.Equal(t, "hello", got["text"])
}

func TestBridgeClient_CircuitBreakerOpensOnFailures(t *testing.T) {
	srv := newBridgeServer(t, map[string]http.HandlerFunc{
		"/v1/connect": func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		},
	})

	cfg := &conf.Bootstrap{
		Telegram: &conf.Telegram{BridgeUrl: srv.URL},
	}
	factory := NewBridgeFactory(cfg, zap.NewNop())

	// 连续失败若干次后熔断器打开，调用立即失败
	for i := 0; i < 6; i++ {
		client := factory(filepath.Join(t.TempDir(), "s.session"))
		err := client.Connect(context.Background())
		assert.Error(t, err)
	}
}

func TestMapBridgeError_UnknownCode(t *testing.T) {
	err := mapBridgeError(500, []byte(`{"code":"weird_thing","message":"boom"}`))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnauthorized)
}

func TestMapBridgeError_BadPayload(t *testing.T) {
	err := mapBridgeError(502, []byte("not json"))
	assert.Error(t, err)
}
