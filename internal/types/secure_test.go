package types

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"testing"
)

const testSecret = "7000000001:AAE-bot-token"

func TestSecretStringNeverPrints(t *testing.T) {
	s := SecretString(testSecret)

	for _, out := range []string{
		s.String(),
		fmt.Sprintf("%s", s),
		fmt.Sprintf("%v", s),
		fmt.Sprint(s),
		fmt.Sprintf("%#v", s),
	} {
		if strings.Contains(out, testSecret) {
			t.Errorf("secret leaked: %q", out)
		}
	}
}

func TestSecretStringJSON(t *testing.T) {
	type wrapper struct {
		Token SecretString `json:"token"`
	}
	b, err := json.Marshal(wrapper{Token: testSecret})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(b) != `{"token":"***REDACTED***"}` {
		t.Errorf("Marshal = %s", b)
	}
}

func TestSecretStringSlog(t *testing.T) {
	var buf strings.Builder
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	logger.Info("config", "bot_token", SecretString(testSecret))

	if strings.Contains(buf.String(), testSecret) {
		t.Errorf("slog output leaked secret: %s", buf.String())
	}
}

func TestSecretStringUnmask(t *testing.T) {
	if got := SecretString(testSecret).Unmask(); got != testSecret {
		t.Errorf("Unmask() = %q, want raw value", got)
	}
}

func TestSecretStringIsSet(t *testing.T) {
	if SecretString("").IsSet() {
		t.Error("empty secret reported as set")
	}
	if !SecretString(testSecret).IsSet() {
		t.Error("configured secret reported as unset")
	}
}
