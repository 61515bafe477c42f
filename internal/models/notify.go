package models

// SMTPConfig holds email notification configuration.
type SMTPConfig struct {
	Enabled  bool
	Username string
	Password string
	Host     string
	Port     int
	From     string
	To       []string
	CC       []string
}

// TelegramConfig holds Telegram notification configuration.
type TelegramConfig struct {
	Enabled  bool
	BotToken string
	ChatID   string
}
