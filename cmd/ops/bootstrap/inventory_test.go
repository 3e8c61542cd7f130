package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"log/slog"
	"strings"
	"testing"
)

func newTestRunner(client *mockSSMClient, input string, steps []BootstrapStep) (*BootstrapRunner, *bytes.Buffer) {
	var out bytes.Buffer
	return &BootstrapRunner{
		SSM:               NewSSMManagerWithClient(client, "dev", slog.New(slog.DiscardHandler)),
		Stdin:             strings.NewReader(input),
		Stderr:            &out,
		inventoryOverride: steps,
	}, &out
}

func alwaysValid(context.Context, string) ValidationResult {
	return ValidationResult{Valid: true}
}

func TestBuildInventory_KeysAreUnique(t *testing.T) {
	seenKeys := map[string]bool{}
	seenEnv := map[string]bool{}
	for _, s := range BuildInventory(NewValidator()) {
		if seenKeys[s.SSMCategoryKey] || seenEnv[s.EnvVar] {
			t.Errorf("duplicate step %s / %s", s.SSMCategoryKey, s.EnvVar)
		}
		seenKeys[s.SSMCategoryKey] = true
		seenEnv[s.EnvVar] = true
	}
	for _, required := range []string{"DATABASE_URL", "TELEGRAM_BOT_TOKEN", "TELEGRAM_WEBHOOK_SECRET", "JWT_SECRET"} {
		if !seenEnv[required] {
			t.Errorf("inventory is missing %s", required)
		}
	}
}

func TestPrintEnvParams(t *testing.T) {
	var buf bytes.Buffer
	PrintEnvParams(&buf, "prod", []BootstrapStep{
		{SSMCategoryKey: "database/url", EnvVar: "DATABASE_URL"},
		{SSMCategoryKey: "api/jwt_secret", EnvVar: "JWT_SECRET"},
	})
	want := "DATABASE_URL_SSM_PARAM=/prod/tasseo/database/url\nJWT_SECRET_SSM_PARAM=/prod/tasseo/api/jwt_secret\n"
	if buf.String() != want {
		t.Errorf("got:\n%s\nwant:\n%s", buf.String(), want)
	}
}

func TestRun_WritesPromptedAndGenerated(t *testing.T) {
	client := newMockSSMClient()
	steps := []BootstrapStep{
		{HumanLabel: "DB", SSMCategoryKey: "database/url", Source: SourcePrompt, ValidateFn: alwaysValid, IsSecret: true, Phase: "Core"},
		{HumanLabel: "JWT", SSMCategoryKey: "api/jwt_secret", Source: SourceGenerated, IsSecret: true, Phase: "Generated"},
	}
	r, out := newTestRunner(client, "postgres://db/tasseo\n", steps)

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := client.params["/dev/tasseo/database/url"]; got != "postgres://db/tasseo" {
		t.Errorf("database url = %q", got)
	}
	token := client.params["/dev/tasseo/api/jwt_secret"]
	if b, err := hex.DecodeString(token); err != nil || len(b) != 32 {
		t.Errorf("generated token %q is not 32 hex bytes", token)
	}
	if !strings.Contains(out.String(), "== Core ==") || !strings.Contains(out.String(), "== Generated ==") {
		t.Errorf("missing phase headers:\n%s", out.String())
	}
}

func TestRun_KeepsExistingWhenDeclined(t *testing.T) {
	client := newMockSSMClient()
	client.params["/dev/tasseo/api/jwt_secret"] = "old"
	steps := []BootstrapStep{
		{HumanLabel: "JWT", SSMCategoryKey: "api/jwt_secret", Source: SourceGenerated, IsSecret: true},
	}
	r, out := newTestRunner(client, "n\n", steps)

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if client.params["/dev/tasseo/api/jwt_secret"] != "old" || len(client.puts) != 0 {
		t.Error("existing parameter was overwritten")
	}
	if !strings.Contains(out.String(), "kept") {
		t.Errorf("summary should report kept:\n%s", out.String())
	}
}

func TestRun_OverwriteSetsFlag(t *testing.T) {
	client := newMockSSMClient()
	client.params["/dev/tasseo/api/jwt_secret"] = "old"
	steps := []BootstrapStep{
		{HumanLabel: "JWT", SSMCategoryKey: "api/jwt_secret", Source: SourceGenerated, IsSecret: true},
	}
	r, _ := newTestRunner(client, "yes\n", steps)

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(client.puts) != 1 || !*client.puts[0].Overwrite {
		t.Fatal("expected one overwriting put")
	}
}

func TestRun_OptionalBlankIsSkipped(t *testing.T) {
	client := newMockSSMClient()
	steps := []BootstrapStep{
		{HumanLabel: "Redis", SSMCategoryKey: "redis/password", Source: SourcePrompt, IsSecret: true, Optional: true},
	}
	r, out := newTestRunner(client, "\n", steps)

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(client.puts) != 0 {
		t.Error("blank optional value should not be written")
	}
	if !strings.Contains(out.String(), "skipped") {
		t.Errorf("summary should report skipped:\n%s", out.String())
	}
}

func TestRun_SkipOptionalFlag(t *testing.T) {
	client := newMockSSMClient()
	steps := []BootstrapStep{
		{HumanLabel: "Bucket", SSMCategoryKey: "aws/photo_bucket", Source: SourcePrompt, Optional: true},
	}
	r, _ := newTestRunner(client, "", steps)
	r.SkipOptional = true

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(client.puts) != 0 {
		t.Error("optional step should be skipped without prompting")
	}
}

func TestRun_GivesUpAfterMaxRetries(t *testing.T) {
	client := newMockSSMClient()
	never := func(context.Context, string) ValidationResult {
		return ValidationResult{Message: "nope"}
	}
	steps := []BootstrapStep{
		{HumanLabel: "DB", SSMCategoryKey: "database/url", Source: SourcePrompt, ValidateFn: never},
	}
	r, out := newTestRunner(client, strings.Repeat("bad\n", maxRetries), steps)

	err := r.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "no valid value") {
		t.Fatalf("expected retry exhaustion, got %v", err)
	}
	if !strings.Contains(out.String(), "attempt 5/5") {
		t.Errorf("missing attempt counter:\n%s", out.String())
	}
}

func TestRun_SecretReaderIsUsed(t *testing.T) {
	client := newMockSSMClient()
	steps := []BootstrapStep{
		{HumanLabel: "Key", SSMCategoryKey: "credits/api_key", Source: SourcePrompt, IsSecret: true},
	}
	r, _ := newTestRunner(client, "", steps)
	r.readSecret = func() (string, error) { return "  k-123  ", nil }

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := client.params["/dev/tasseo/credits/api_key"]; got != "k-123" {
		t.Errorf("value = %q", got)
	}
}

func TestConfirmProduction(t *testing.T) {
	bctx := &BootstrapContext{AccountID: "123", AWSRegion: "eu-central-1"}
	var out bytes.Buffer
	if !confirmProduction(bctx, strings.NewReader("YES\n"), &out) {
		t.Error("YES should confirm")
	}
	if confirmProduction(bctx, strings.NewReader("y\n"), &out) {
		t.Error("y should not confirm production")
	}
	if confirmProduction(bctx, strings.NewReader(""), &out) {
		t.Error("EOF should not confirm")
	}
}
