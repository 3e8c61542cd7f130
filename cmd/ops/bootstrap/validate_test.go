package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
)

type mockConnector struct{ err error }

func (m mockConnector) Ping(context.Context, string) error { return m.err }

type mockHTTPClient struct {
	status int
	body   string
	err    error
	gotURL string
}

func (m *mockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	m.gotURL = req.URL.String()
	if m.err != nil {
		return nil, m.err
	}
	return &http.Response{StatusCode: m.status, Body: io.NopCloser(strings.NewReader(m.body))}, nil
}

func TestValidateDatabaseURL(t *testing.T) {
	tests := []struct {
		name  string
		url   string
		conn  DatabaseConnector
		valid bool
	}{
		{"ok", "postgres://u:p@db:5432/tasseo", mockConnector{}, true},
		{"postgresql scheme", "postgresql://u:p@db/tasseo", mockConnector{}, true},
		{"wrong scheme", "mysql://u:p@db/tasseo", mockConnector{}, false},
		{"no host", "postgres:///tasseo", mockConnector{}, false},
		{"connect fails", "postgres://u:p@db/tasseo", mockConnector{err: errors.New("refused")}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := &Validator{dbConn: tt.conn}
			res := v.ValidateDatabaseURL(context.Background(), tt.url)
			if res.Valid != tt.valid {
				t.Errorf("Valid = %v (%s), want %v", res.Valid, res.Message, tt.valid)
			}
		})
	}
}

func TestValidateTelegramToken(t *testing.T) {
	client := &mockHTTPClient{status: 200, body: `{"ok":true,"result":{"username":"tasseo_bot"}}`}
	v := &Validator{httpClient: client, telegramBaseURL: "https://tg.test"}

	res := v.ValidateTelegramToken(context.Background(), "123:abc")
	if !res.Valid || res.Message != "bot @tasseo_bot" {
		t.Errorf("unexpected result: %+v", res)
	}
	if client.gotURL != "https://tg.test/bot123:abc/getMe" {
		t.Errorf("url = %s", client.gotURL)
	}
}

func TestValidateTelegramToken_Rejections(t *testing.T) {
	malformed := (&Validator{}).ValidateTelegramToken(context.Background(), "no-colon")
	if malformed.Valid {
		t.Error("token without colon should be rejected")
	}

	unauthorized := &Validator{
		httpClient:      &mockHTTPClient{status: 401, body: `{"ok":false,"description":"Unauthorized"}`},
		telegramBaseURL: "https://tg.test",
	}
	if res := unauthorized.ValidateTelegramToken(context.Background(), "1:x"); res.Valid || !strings.Contains(res.Message, "401") {
		t.Errorf("unexpected result: %+v", res)
	}

	failing := &Validator{
		httpClient:      &mockHTTPClient{err: errors.New("dial https://tg.test/bot1:secret/getMe")},
		telegramBaseURL: "https://tg.test",
	}
	res := failing.ValidateTelegramToken(context.Background(), "1:secret")
	if res.Valid || strings.Contains(res.Message, "secret") {
		t.Errorf("transport error must not echo the token: %+v", res)
	}
}

func TestValidateRegex(t *testing.T) {
	check := ValidateRegex(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`, "bad bucket")
	if !check(context.Background(), "tasseo-photos").Valid {
		t.Error("valid bucket rejected")
	}
	if res := check(context.Background(), "Tasseo_Photos"); res.Valid || res.Message != "bad bucket" {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestTruncateBody(t *testing.T) {
	if got := truncateBody("abcdef", 3); got != "abc..." {
		t.Errorf("got %q", got)
	}
	if got := truncateBody("ab", 3); got != "ab" {
		t.Errorf("got %q", got)
	}
}
