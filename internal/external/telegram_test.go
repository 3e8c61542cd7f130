package external

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"tasseo/internal/types"
)

const testToken = "123:secret-token"

func newTestTelegram(t *testing.T, handler http.HandlerFunc) (*TelegramClient, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewTelegramClientWithBase(newTestClient(t, testPolicy(0)), TelegramClientConfig{
		Token:   testToken,
		BaseURL: server.URL,
	}), server
}

func TestTelegram_SendMessage(t *testing.T) {
	var got telegramSendMessage
	var path string
	client, _ := newTestTelegram(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		w.Write([]byte(`{"ok":true,"result":{"message_id":42,"date":1772442000,"chat":{"id":555}}}`))
	})

	msg, err := client.SendMessage(context.Background(), "555", "hello", types.SendOptions{ParseMode: types.ParseModeHTML})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path != "/bot"+testToken+"/sendMessage" {
		t.Errorf("unexpected path %s", path)
	}
	if got.ChatID != "555" || got.Text != "hello" || got.ParseMode != "HTML" {
		t.Errorf("unexpected payload %+v", got)
	}
	if msg.MessageID != 42 || msg.ChatID != "555" || msg.Date.Unix() != 1772442000 {
		t.Errorf("unexpected result %+v", msg)
	}
}

func TestTelegram_SendMessageBlocked(t *testing.T) {
	client, _ := newTestTelegram(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"ok":false,"error_code":403,"description":"Forbidden: bot was blocked by the user"}`))
	})

	_, err := client.SendMessage(context.Background(), "555", "hello", types.SendOptions{})
	var chErr *types.ChannelError
	if !errors.As(err, &chErr) {
		t.Fatalf("expected ChannelError, got %T: %v", err, err)
	}
	if chErr.StatusCode != 403 || !strings.Contains(chErr.Description, "blocked") {
		t.Errorf("unexpected error %+v", chErr)
	}
	if types.Classify(err) != types.ErrorKindFatal {
		t.Error("a blocked bot must not be retried")
	}
}

func TestTelegram_TransportErrorHidesToken(t *testing.T) {
	client, server := newTestTelegram(t, func(w http.ResponseWriter, r *http.Request) {})
	server.Close()

	_, err := client.SendMessage(context.Background(), "555", "hello", types.SendOptions{})
	if err == nil {
		t.Fatal("expected error")
	}
	if strings.Contains(err.Error(), "secret-token") {
		t.Errorf("token leaked in error: %v", err)
	}
	if types.Classify(err) != types.ErrorKindTransient {
		t.Error("transport failures must be retryable")
	}
}

func TestTelegram_GetFileAndDownload(t *testing.T) {
	client, _ := newTestTelegram(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/bot" + testToken + "/getFile":
			w.Write([]byte(`{"ok":true,"result":{"file_id":"F1","file_size":4,"file_path":"photos/file_1.jpg"}}`))
		case "/file/bot" + testToken + "/photos/file_1.jpg":
			w.Write([]byte("JPEG"))
		default:
			http.NotFound(w, r)
		}
	})

	f, err := client.GetFile(context.Background(), "F1")
	if err != nil {
		t.Fatalf("GetFile: %v", err)
	}
	data, err := client.DownloadFile(context.Background(), f.FilePath)
	if err != nil {
		t.Fatalf("DownloadFile: %v", err)
	}
	if string(data) != "JPEG" {
		t.Errorf("unexpected data %q", data)
	}
}

func TestTelegram_GetFileWithoutPath(t *testing.T) {
	client, _ := newTestTelegram(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":true,"result":{"file_id":"F1"}}`))
	})

	_, err := client.GetFile(context.Background(), "F1")
	var chErr *types.ChannelError
	if !errors.As(err, &chErr) || chErr.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 ChannelError, got %v", err)
	}
}
