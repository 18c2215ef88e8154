package parser

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/Fi44er/p2p_desk/utils"
)

// ParsedReceipt - структурированный результат распознавания банковского чека.
// Ядро потребляет только эту форму; само распознавание живёт снаружи.
type ParsedReceipt struct {
	Amount          *float64   `json:"amount"`
	SenderName      string     `json:"sender_name"`
	CounterpartName string     `json:"counterpart_name"`
	Phone           string     `json:"phone"`
	Card            string     `json:"card"`
	BankName        string     `json:"bank_name"`
	PaidAt          *time.Time `json:"paid_at"`
	RawText         string     `json:"raw_text"`
}

type Parser interface {
	Parse(ctx context.Context, filePath string) (*ParsedReceipt, error)
}

// HTTPParser отправляет файл чека сервису распознавания.
type HTTPParser struct {
	baseURL string
	http    *http.Client
	logger  *utils.Logger
}

func NewHTTPParser(baseURL string, timeout time.Duration, logger *utils.Logger) *HTTPParser {
	return &HTTPParser{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

func (p *HTTPParser) Parse(ctx context.Context, filePath string) (*ParsedReceipt, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open receipt file: %w", err)
	}
	defer file.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filepath.Base(filePath))
	if err != nil {
		return nil, fmt.Errorf("failed to build multipart body: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, fmt.Errorf("failed to read receipt file: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/parse", &body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := p.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("parser request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("parser returned status %d: %s", resp.StatusCode, string(raw))
	}

	var parsed ParsedReceipt
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("invalid parser response format: %w", err)
	}
	return &parsed, nil
}
