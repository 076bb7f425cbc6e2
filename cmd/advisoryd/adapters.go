package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/raultorres2603/legal-ia-sub000/advisory"
)

// httpCompleter calls a completion endpoint that accepts the request as JSON
// and answers {"text": "..."}.
type httpCompleter struct {
	url    string
	client *http.Client
}

func newHTTPCompleter(url string) *httpCompleter {
	return &httpCompleter{url: url, client: &http.Client{Timeout: 30 * time.Second}}
}

func (c *httpCompleter) Complete(ctx context.Context, req advisory.CompletionRequest) (string, error) {
	body, err := json.Marshal(map[string]any{
		"messages":    req.Messages,
		"max_tokens":  req.MaxTokens,
		"temperature": req.Temperature,
	})
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("completion endpoint returned %d: %s", resp.StatusCode, data)
	}

	var out struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.Text, nil
}

// dirBlobStore keeps blobs on the local filesystem. Good enough for a single
// node; swap for object storage behind the same interface in a cluster.
type dirBlobStore struct {
	root string
}

func (d dirBlobStore) Put(_ context.Context, key string, data []byte) (string, error) {
	path := filepath.Join(d.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return "file://" + path, nil
}

// staticTokens validates opaque bearer tokens from a fixed token=userID map.
type staticTokens struct {
	claims map[string]advisory.Claims
}

// tokensFromEnv parses "token1=<uuid>,token2=<uuid>". Malformed entries are
// skipped.
func tokensFromEnv(spec string) staticTokens {
	claims := make(map[string]advisory.Claims)
	for _, pair := range strings.Split(spec, ",") {
		token, rawID, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || token == "" {
			continue
		}
		userID, err := uuid.Parse(rawID)
		if err != nil {
			continue
		}
		claims[token] = advisory.Claims{UserID: userID}
	}
	return staticTokens{claims: claims}
}

func (s staticTokens) Validate(_ context.Context, token string) (*advisory.Claims, error) {
	c, ok := s.claims[token]
	if !ok {
		return nil, errors.New("unknown token")
	}
	return &c, nil
}

// logNotifier records notifications in the log instead of delivering them.
// Stands in until a mail provider is wired up.
type logNotifier struct {
	logger *slog.Logger
}

func (n logNotifier) Send(_ context.Context, userID uuid.UUID, subject, body string) error {
	n.logger.Info("notification", "user", userID, "subject", subject, "body", body)
	return nil
}
