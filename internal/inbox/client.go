package inbox

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/Fi44er/p2p_desk/utils"
)

// Message - письмо у почтового провайдера. ID провайдера служит ключом
// дедупликации чеков.
type Message struct {
	ID            string    `json:"id"`
	From          string    `json:"from"`
	Subject       string    `json:"subject"`
	HasAttachment bool      `json:"has_attachment"`
	ReceivedAt    time.Time `json:"received_at"`
}

type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *utils.Logger
}

func NewClient(baseURL, token string, timeout time.Duration, logger *utils.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// ListMessages возвращает письма, отфильтрованные по отправителю
// (банковские нотификации).
func (c *Client) ListMessages(ctx context.Context, sender string) ([]Message, error) {
	endpoint := fmt.Sprintf("%s/messages?from=%s", c.baseURL, url.QueryEscape(sender))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("inbox request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("inbox returned status %d: %s", resp.StatusCode, string(raw))
	}

	var apiResponse struct {
		Messages []Message `json:"messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResponse); err != nil {
		return nil, fmt.Errorf("invalid inbox response format: %w", err)
	}
	return apiResponse.Messages, nil
}

// DownloadAttachment скачивает вложение письма в destDir и возвращает путь
// к сохранённому файлу.
func (c *Client) DownloadAttachment(ctx context.Context, messageID, destDir string) (string, error) {
	endpoint := fmt.Sprintf("%s/messages/%s/attachment", c.baseURL, messageID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("attachment request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("attachment returned status %d: %s", resp.StatusCode, string(raw))
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create receipt dir: %w", err)
	}

	path := filepath.Join(destDir, messageID+".pdf")
	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create receipt file: %w", err)
	}
	defer file.Close()

	if _, err := io.Copy(file, resp.Body); err != nil {
		return "", fmt.Errorf("failed to write receipt file: %w", err)
	}
	return path, nil
}
