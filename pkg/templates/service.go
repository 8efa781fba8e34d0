package templates

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// maxTemplateSize caps a fetched template body. Anything larger than this
// is not a prompt template.
const maxTemplateSize = 256 * 1024

// Config controls template fetching.
type Config struct {
	CacheTTL       time.Duration
	AllowedDomains []string
	GitHubToken    string
}

// Service fetches remote prompt templates with URL validation and caching.
// Workflow steps reference templates by URL; the agent handler resolves the
// URL when the step carries no inline prompt.
type Service struct {
	httpClient *http.Client
	cache      *Cache
	cfg        Config
	logger     *slog.Logger
}

// NewService creates a template service. An empty GitHub token limits
// fetching to public repositories.
func NewService(cfg Config) *Service {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	return &Service{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		cache:      NewCache(cfg.CacheTTL),
		cfg:        cfg,
		logger:     slog.Default().With("component", "templates"),
	}
}

// Resolve returns the template content at the given URL. GitHub blob URLs
// are normalized to raw content URLs; results are cached by normalized URL.
func (s *Service) Resolve(ctx context.Context, rawURL string) (string, error) {
	if err := ValidateTemplateURL(rawURL, s.cfg.AllowedDomains); err != nil {
		return "", err
	}

	normalized := ConvertToRawURL(rawURL)
	if content, ok := s.cache.Get(normalized); ok {
		return content, nil
	}

	content, err := s.fetch(ctx, normalized)
	if err != nil {
		return "", fmt.Errorf("fetch template %s: %w", rawURL, err)
	}

	s.cache.Set(normalized, content)
	return content, nil
}

// OverrideHTTPClientForTest replaces the internal HTTP client.
// For testing only.
func (s *Service) OverrideHTTPClientForTest(httpClient *http.Client) {
	s.httpClient = httpClient
}

func (s *Service) fetch(ctx context.Context, downloadURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	if s.cfg.GitHubToken != "" && strings.Contains(downloadURL, "githubusercontent.com") {
		req.Header.Set("Authorization", "Bearer "+s.cfg.GitHubToken)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !isTextContentType(ct) {
		return "", fmt.Errorf("unexpected content type %q", ct)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTemplateSize+1))
	if err != nil {
		return "", fmt.Errorf("read response body: %w", err)
	}
	if len(body) > maxTemplateSize {
		return "", fmt.Errorf("template exceeds %d bytes", maxTemplateSize)
	}

	return string(body), nil
}

// isTextContentType accepts the content types raw-file hosts serve for
// markdown and plain-text templates.
func isTextContentType(ct string) bool {
	ct = strings.ToLower(strings.TrimSpace(strings.SplitN(ct, ";", 2)[0]))
	if strings.HasPrefix(ct, "text/") {
		return true
	}
	switch ct {
	case "application/octet-stream", "application/json", "application/yaml", "application/x-yaml":
		return true
	}
	return false
}
