package lookup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"match-mailer/internal/domain"
	"match-mailer/internal/infra/metrics"
)

// Client резолвит фолловеров, проекты и метки интересов из каталога федерации.
type Client struct {
	client  *http.Client
	baseURL *url.URL
	botURI  string
}

var (
	_ domain.FollowerSource   = (*Client)(nil)
	_ domain.ObjectResolver   = (*Client)(nil)
	_ domain.InterestResolver = (*Client)(nil)
)

// NewClient создаёт клиент каталога.
func NewClient(directoryURL, botURI string) (*Client, error) {
	if directoryURL == "" {
		return nil, errors.New("directory url is empty")
	}
	baseURL, err := url.Parse(directoryURL)
	if err != nil {
		return nil, fmt.Errorf("parse directory url: %w", err)
	}
	return &Client{
		client:  &http.Client{Timeout: 10 * time.Second},
		baseURL: baseURL,
		botURI:  botURI,
	}, nil
}

type followersResponse struct {
	OrderedItems []string `json:"orderedItems"`
}

// ListFollowers возвращает актуальный список фолловеров бота. Список не
// кэшируется: состав мог измениться между анонсами.
func (c *Client) ListFollowers(ctx context.Context, botURI string) ([]string, error) {
	endpoint := strings.TrimRight(botURI, "/") + "/followers"
	start := time.Now()
	body, err := c.getJSON(ctx, endpoint)
	metrics.ObserveNetworkRequest("directory", "list_followers", "followers", start, err)
	if err != nil {
		return nil, fmt.Errorf("получение фолловеров: %w", err)
	}
	var followers followersResponse
	if err := json.Unmarshal(body, &followers); err != nil {
		return nil, fmt.Errorf("decode followers: %w", err)
	}
	return followers.OrderedItems, nil
}

// ResolveObjects возвращает проекты по идентификаторам. Недоступный проект
// пропускается: письмо уйдёт с теми проектами, что удалось получить.
func (c *Client) ResolveObjects(ctx context.Context, ids []string) ([]domain.AnnouncedObject, error) {
	objects := make([]domain.AnnouncedObject, 0, len(ids))
	for _, id := range ids {
		start := time.Now()
		body, err := c.getJSON(ctx, id)
		metrics.ObserveNetworkRequest("directory", "resolve_object", "objects", start, err)
		if err != nil {
			if errors.Is(err, errNotFound) {
				continue
			}
			return nil, fmt.Errorf("получение проекта %s: %w", id, err)
		}
		var object domain.AnnouncedObject
		if err := json.Unmarshal(body, &object); err != nil {
			return nil, fmt.Errorf("decode object: %w", err)
		}
		objects = append(objects, object)
	}
	return objects, nil
}

// ResolveLabels возвращает метки интересов по идентификаторам.
func (c *Client) ResolveLabels(ctx context.Context, ids []string) ([]domain.InterestLabel, error) {
	labels := make([]domain.InterestLabel, 0, len(ids))
	for _, id := range ids {
		start := time.Now()
		body, err := c.getJSON(ctx, id)
		metrics.ObserveNetworkRequest("directory", "resolve_label", "interests", start, err)
		if err != nil {
			if errors.Is(err, errNotFound) {
				continue
			}
			return nil, fmt.Errorf("получение метки %s: %w", id, err)
		}
		var label domain.InterestLabel
		if err := json.Unmarshal(body, &label); err != nil {
			return nil, fmt.Errorf("decode label: %w", err)
		}
		labels = append(labels, label)
	}
	return labels, nil
}

// RegisterFollow регистрирует фолловинг бота новым подписчиком.
func (c *Client) RegisterFollow(ctx context.Context, actorURI string) error {
	payload, err := json.Marshal(map[string]string{
		"type":   "Follow",
		"actor":  actorURI,
		"object": c.botURI,
	})
	if err != nil {
		return fmt.Errorf("marshal follow: %w", err)
	}
	endpoint := c.baseURL.ResolveReference(&url.URL{Path: strings.TrimRight(c.baseURL.Path, "/") + "/follow"})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	metrics.ObserveNetworkRequest("directory", "register_follow", "follow", start, err)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("follow failed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return nil
}

var errNotFound = errors.New("resource not found")

func (c *Client) getJSON(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		return nil, errNotFound
	}
	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("request failed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return io.ReadAll(io.LimitReader(resp.Body, 1<<20))
}
