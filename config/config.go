package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	DB_URL string `mapstructure:"DB_URL"`

	TelegramBotToken string `mapstructure:"TELEGRAM_BOT_TOKEN"`
	OperatorChatID   int64  `mapstructure:"OPERATOR_CHAT_ID"`

	MarketplaceBaseURL  string `mapstructure:"MARKETPLACE_BASE_URL"`
	MarketplaceAccounts string `mapstructure:"MARKETPLACE_ACCOUNTS"` // name:api_key:api_secret, через запятую

	InboxBaseURL string `mapstructure:"INBOX_BASE_URL"`
	InboxToken   string `mapstructure:"INBOX_TOKEN"`
	InboxSender  string `mapstructure:"INBOX_SENDER"`

	ParserBaseURL string `mapstructure:"PARSER_BASE_URL"`

	PaymentBaseURL string `mapstructure:"PAYMENT_BASE_URL"`
	PaymentToken   string `mapstructure:"PAYMENT_TOKEN"`

	ReceiptDir     string `mapstructure:"RECEIPT_DIR"`
	ReceiptInboxes string `mapstructure:"RECEIPT_INBOXES"` // адреса для приёма чеков, через запятую

	RateCurrency string  `mapstructure:"RATE_CURRENCY"`
	FallbackRate float64 `mapstructure:"FALLBACK_RATE"`

	OrdersPollSeconds  int `mapstructure:"ORDERS_POLL_SECONDS"`
	ChatPollMillis     int `mapstructure:"CHAT_POLL_MILLIS"`
	InboxPollSeconds   int `mapstructure:"INBOX_POLL_SECONDS"`
	ParsePollSeconds   int `mapstructure:"PARSE_POLL_SECONDS"`
	LinkPollSeconds    int `mapstructure:"LINK_POLL_SECONDS"`
	PayoutPollSeconds  int `mapstructure:"PAYOUT_POLL_SECONDS"`
	SweepPollSeconds   int `mapstructure:"SWEEP_POLL_SECONDS"`
	HTTPTimeoutSeconds int `mapstructure:"HTTP_TIMEOUT_SECONDS"`
}

// Account - учетные данные одного аккаунта на маркетплейсе.
type Account struct {
	Name      string
	APIKey    string
	APISecret string
}

func LoadConfig(path string) (config Config, err error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return config, fmt.Errorf("ошибка получения абсолютного пути: %w", err)
	}

	viper.AddConfigPath(filepath.Dir(absPath))
	viper.SetConfigName(filepath.Base(absPath))
	viper.SetConfigType("env")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		return config, fmt.Errorf("ошибка чтения конфигурации: %w", err)
	}

	if err := viper.Unmarshal(&config); err != nil {
		return config, fmt.Errorf("ошибка преобразования конфига: %w", err)
	}

	setDefaults(&config)

	if err := config.Validate(); err != nil {
		return config, fmt.Errorf("ошибка валидации конфига: %w", err)
	}

	return config, nil
}

func setDefaults(cfg *Config) {
	if cfg.OrdersPollSeconds == 0 {
		cfg.OrdersPollSeconds = 25
	}
	if cfg.ChatPollMillis == 0 {
		cfg.ChatPollMillis = 1500
	}
	if cfg.InboxPollSeconds == 0 {
		cfg.InboxPollSeconds = 30
	}
	if cfg.ParsePollSeconds == 0 {
		cfg.ParsePollSeconds = 20
	}
	if cfg.LinkPollSeconds == 0 {
		cfg.LinkPollSeconds = 20
	}
	if cfg.PayoutPollSeconds == 0 {
		cfg.PayoutPollSeconds = 60
	}
	if cfg.SweepPollSeconds == 0 {
		cfg.SweepPollSeconds = 300
	}
	if cfg.HTTPTimeoutSeconds == 0 {
		cfg.HTTPTimeoutSeconds = 15
	}
	if cfg.ReceiptDir == "" {
		cfg.ReceiptDir = "receipts"
	}
	if cfg.RateCurrency == "" {
		cfg.RateCurrency = "RUB"
	}
}

func (c *Config) Validate() error {
	if c.DB_URL == "" {
		return fmt.Errorf("DB_URL обязателен")
	}
	if c.MarketplaceBaseURL == "" {
		return fmt.Errorf("MARKETPLACE_BASE_URL обязателен")
	}
	if len(c.Accounts()) == 0 {
		return fmt.Errorf("MARKETPLACE_ACCOUNTS обязателен (формат name:key:secret,...)")
	}
	if len(c.ReceiptInboxList()) == 0 {
		return fmt.Errorf("RECEIPT_INBOXES обязателен")
	}
	return nil
}

// Accounts разбирает MARKETPLACE_ACCOUNTS. Некорректные записи пропускаются.
func (c *Config) Accounts() []Account {
	var accounts []Account
	for _, raw := range strings.Split(c.MarketplaceAccounts, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		parts := strings.SplitN(raw, ":", 3)
		if len(parts) != 3 {
			continue
		}
		accounts = append(accounts, Account{Name: parts[0], APIKey: parts[1], APISecret: parts[2]})
	}
	return accounts
}

func (c *Config) ReceiptInboxList() []string {
	var inboxes []string
	for _, raw := range strings.Split(c.ReceiptInboxes, ",") {
		raw = strings.TrimSpace(raw)
		if raw != "" {
			inboxes = append(inboxes, raw)
		}
	}
	return inboxes
}

func (c *Config) OrdersPollInterval() time.Duration {
	return time.Duration(c.OrdersPollSeconds) * time.Second
}

func (c *Config) ChatPollInterval() time.Duration {
	return time.Duration(c.ChatPollMillis) * time.Millisecond
}

func (c *Config) InboxPollInterval() time.Duration {
	return time.Duration(c.InboxPollSeconds) * time.Second
}

func (c *Config) ParsePollInterval() time.Duration {
	return time.Duration(c.ParsePollSeconds) * time.Second
}

func (c *Config) LinkPollInterval() time.Duration {
	return time.Duration(c.LinkPollSeconds) * time.Second
}

func (c *Config) PayoutPollInterval() time.Duration {
	return time.Duration(c.PayoutPollSeconds) * time.Second
}

func (c *Config) SweepPollInterval() time.Duration {
	return time.Duration(c.SweepPollSeconds) * time.Second
}

func (c *Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTPTimeoutSeconds) * time.Second
}
