//go:build e2e

package e2e

import (
	"context"
	"os"
	"testing"

	"github.com/fgeck/dbreplicate/internal/models"
	"github.com/fgeck/dbreplicate/internal/services/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getTelegramConfig(t *testing.T) models.TelegramConfig {
	t.Helper()

	botToken := os.Getenv("TEST_TELEGRAM_BOT_TOKEN")
	if botToken == "" {
		t.Skip("TEST_TELEGRAM_BOT_TOKEN not set")
	}

	chatID := os.Getenv("TEST_TELEGRAM_CHAT_ID")
	if chatID == "" {
		t.Skip("TEST_TELEGRAM_CHAT_ID not set")
	}

	return models.TelegramConfig{
		Enabled:  true,
		BotToken: botToken,
		ChatID:   chatID,
	}
}

func TestTelegramReport_E2E(t *testing.T) {
	svc := notify.NewTelegram(testLogger(), getTelegramConfig(t))

	body := "Replicating all data from db-prod to db-stage (Full backup)\n" +
		"pg_dump stderr:\npg_dump: dumping contents of table \"public.users\"\n" +
		"Successfully replicated all data from db-prod to db-stage"

	err := svc.Notify(context.Background(), "POSTGRES Replication e2e", body)

	require.NoError(t, err)
}

func TestTelegramInvalidToken_E2E(t *testing.T) {
	svc := notify.NewTelegram(testLogger(), models.TelegramConfig{
		Enabled:  true,
		BotToken: "invalid:token",
		ChatID:   "-100123456789",
	})

	err := svc.Notify(context.Background(), "subject", "body")

	assert.Error(t, err)
}

func TestTelegramInvalidChatID_E2E(t *testing.T) {
	cfg := getTelegramConfig(t)
	cfg.ChatID = "invalid-chat-id"

	err := notify.NewTelegram(testLogger(), cfg).Notify(context.Background(), "subject", "body")

	assert.Error(t, err)
}
