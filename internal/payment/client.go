package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/Fi44er/p2p_desk/utils"
)

// ErrAlreadyApproved - выплата уже подтверждена на платформе. Воркфлоу
// расчёта считает это успехом, а не ошибкой.
var ErrAlreadyApproved = errors.New("payout already approved")

// Payout - ожидающая выплата, как её отдаёт платёжная платформа.
type Payout struct {
	ID            string    `json:"id"`
	Wallet        string    `json:"wallet"`
	RecipientName string    `json:"recipient_name"`
	BankName      string    `json:"bank_name"`
	Metadata      string    `json:"metadata"`
	Amount        float64   `json:"amount"`
	Currency      string    `json:"currency"`
	AmountRUB     float64   `json:"amount_rub"`
	StatusCode    int       `json:"status_code"`
	CreatedAt     time.Time `json:"created_at"`
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

// ListPendingPayouts возвращает выплаты, ожидающие подтверждения.
func (c *Client) ListPendingPayouts(ctx context.Context) ([]Payout, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/payouts?status=pending", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("payment platform request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("payment platform returned status %d: %s", resp.StatusCode, string(raw))
	}

	var apiResponse struct {
		Payouts []Payout `json:"payouts"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResponse); err != nil {
		return nil, fmt.Errorf("invalid payment platform response format: %w", err)
	}
	return apiResponse.Payouts, nil
}

func (c *Client) GetPayoutStatus(ctx context.Context, payoutID string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/v1/payouts/%s", c.baseURL, payoutID), nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("payment platform request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return 0, fmt.Errorf("payment platform returned status %d: %s", resp.StatusCode, string(raw))
	}

	var payout Payout
	if err := json.NewDecoder(resp.Body).Decode(&payout); err != nil {
		return 0, fmt.Errorf("invalid payment platform response format: %w", err)
	}
	return payout.StatusCode, nil
}

// ApprovePayout подтверждает выплату, прикладывая файл чека как
// доказательство оплаты.
func (c *Client) ApprovePayout(ctx context.Context, payoutID, receiptPath string) error {
	file, err := os.Open(receiptPath)
	if err != nil {
		return fmt.Errorf("failed to open receipt file: %w", err)
	}
	defer file.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("receipt", filepath.Base(receiptPath))
	if err != nil {
		return fmt.Errorf("failed to build multipart body: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return fmt.Errorf("failed to read receipt file: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to finish multipart body: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1/payouts/%s/approve", c.baseURL, payoutID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("approve request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusConflict {
		return ErrAlreadyApproved
	}
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("approve returned status %d: %s", resp.StatusCode, string(raw))
	}
	return nil
}
