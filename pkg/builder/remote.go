package builder

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	config "github.com/RNA4219/llm-generic-bot/configs"
)

func init() {
	Register("builtin:weather", func(cfg config.ProviderConfig) (Builder, error) {
		if cfg.Endpoint == "" {
			return nil, fmt.Errorf("weather provider: endpoint required")
		}
		return NewWeather(cfg.Endpoint), nil
	})
	Register("builtin:news", func(cfg config.ProviderConfig) (Builder, error) {
		if cfg.Endpoint == "" {
			return nil, fmt.Errorf("news provider: endpoint required")
		}
		return NewNews(cfg.Endpoint), nil
	})
}

// remoteClient is the shared HTTP plumbing for builders backed by a summary
// service.
type remoteClient struct {
	baseURL    string
	httpClient *http.Client
}

func newRemoteClient(baseURL string) remoteClient {
	return remoteClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

func (c remoteClient) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("provider returned status: %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Weather fetches a rendered weather summary from the provider endpoint.
type Weather struct {
	client remoteClient
}

// NewWeather creates the weather builder.
func NewWeather(endpoint string) *Weather {
	return &Weather{client: newRemoteClient(endpoint)}
}

func (w *Weather) Name() string { return "weather" }

func (w *Weather) Build(ctx context.Context) (string, error) {
	var body struct {
		Summary string `json:"summary"`
	}
	if err := w.client.getJSON(ctx, "/v1/summary", &body); err != nil {
		return "", fmt.Errorf("weather build: %w", err)
	}
	return body.Summary, nil
}

// News fetches headline digests from the provider endpoint.
type News struct {
	client remoteClient
}

// NewNews creates the news builder.
func NewNews(endpoint string) *News {
	return &News{client: newRemoteClient(endpoint)}
}

func (n *News) Name() string { return "news" }

func (n *News) Build(ctx context.Context) (string, error) {
	var body struct {
		Headlines []string `json:"headlines"`
	}
	if err := n.client.getJSON(ctx, "/v1/headlines", &body); err != nil {
		return "", fmt.Errorf("news build: %w", err)
	}
	if len(body.Headlines) == 0 {
		return "", nil
	}
	return "今日のニュース\n- " + strings.Join(body.Headlines, "\n- "), nil
}
