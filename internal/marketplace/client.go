package marketplace

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Fi44er/p2p_desk/utils"
)

// Коды статусов ордера на маркетплейсе.
const (
	OrderStatusPaymentProcessing = 10
	OrderStatusAwaitingTransfer  = 20
	OrderStatusCompleted         = 30
	OrderStatusCancelled         = 40
	OrderStatusDisputed          = 50
)

// ErrOrderNotFound - платформа не знает такой ордер; монитор трактует это
// как отмену, а не как сбой.
var ErrOrderNotFound = errors.New("order not found on marketplace")

type Order struct {
	ID        string  `json:"id"`
	ListingID string  `json:"listing_id"`
	Status    int     `json:"status"`
	Amount    float64 `json:"amount"`
	Price     float64 `json:"price"`
	Currency  string  `json:"currency"`
}

type ChatMessage struct {
	ID        string    `json:"id"`
	FromMe    bool      `json:"from_me"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Client работает от имени одного аккаунта маркетплейса.
type Client struct {
	baseURL     string
	accountName string
	apiKey      string
	apiSecret   string
	http        *http.Client
	logger      *utils.Logger
}

func NewClient(baseURL, accountName, apiKey, apiSecret string, timeout time.Duration, logger *utils.Logger) *Client {
	return &Client{
		baseURL:     baseURL,
		accountName: accountName,
		apiKey:      apiKey,
		apiSecret:   apiSecret,
		http:        &http.Client{Timeout: timeout},
		logger:      logger,
	}
}

func (c *Client) AccountName() string {
	return c.accountName
}

func (c *Client) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	var order Order
	err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/v1/orders/%s", orderID), nil, &order)
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// ListActiveOrders возвращает ордера аккаунта в работе (оплата идёт или
// ожидается перевод).
func (c *Client) ListActiveOrders(ctx context.Context) ([]Order, error) {
	var resp struct {
		Orders []Order `json:"orders"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/orders?scope=active", nil, &resp); err != nil {
		return nil, err
	}

	var active []Order
	for _, order := range resp.Orders {
		if order.Status == OrderStatusPaymentProcessing || order.Status == OrderStatusAwaitingTransfer {
			active = append(active, order)
		}
	}
	return active, nil
}

func (c *Client) ListChatMessages(ctx context.Context, orderID string) ([]ChatMessage, error) {
	var resp struct {
		Messages []ChatMessage `json:"messages"`
	}
	if err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/v1/orders/%s/chat", orderID), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

func (c *Client) SendChatMessage(ctx context.Context, orderID, text string) error {
	payload := map[string]string{"text": text}
	return c.doJSON(ctx, http.MethodPost, fmt.Sprintf("/v1/orders/%s/chat", orderID), payload, nil)
}

func (c *Client) CancelAdvertisement(ctx context.Context, listingID string) error {
	return c.doJSON(ctx, http.MethodPost, fmt.Sprintf("/v1/listings/%s/cancel", listingID), nil, nil)
}

// ReleaseOrderAssets снимает заморозку активов по ордеру при разборе
// несостоявшейся сделки.
func (c *Client) ReleaseOrderAssets(ctx context.Context, orderID string) error {
	return c.doJSON(ctx, http.MethodPost, fmt.Sprintf("/v1/orders/%s/release", orderID), nil, nil)
}

func (c *Client) doJSON(ctx context.Context, method, path string, payload, out interface{}) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("X-Api-Key", c.apiKey)
	req.Header.Set("X-Api-Secret", c.apiSecret)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("marketplace request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrOrderNotFound
	}
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("marketplace returned status %d: %s", resp.StatusCode, string(raw))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("invalid marketplace response format: %w", err)
	}
	return nil
}
