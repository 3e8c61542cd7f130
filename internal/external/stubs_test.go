package external

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"tasseo/internal/types"
)

func TestStubMessenger_LogsInsteadOfSending(t *testing.T) {
	var buf bytes.Buffer
	stub := NewStubMessenger(slog.New(slog.NewTextHandler(&buf, nil)))

	first, err := stub.SendMessage(context.Background(), "100", "Доброе утро", types.SendOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, _ := stub.SendMessage(context.Background(), "100", "again", types.SendOptions{})

	if first.ChatID != "100" || second.MessageID != first.MessageID+1 {
		t.Errorf("unexpected sent messages %+v %+v", first, second)
	}
	if !strings.Contains(buf.String(), "stub: SendMessage called") {
		t.Errorf("expected a log line, got %q", buf.String())
	}
	if strings.Contains(buf.String(), "Доброе утро") {
		t.Error("message text must not be logged")
	}
}
