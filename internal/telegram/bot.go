// Package telegram is a chat front end for the diagnosis use case.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/example/leafscan/internal/catalog"
	"github.com/example/leafscan/internal/logging"
	"github.com/example/leafscan/internal/usecase"
)

const (
	msgStart = `Hello! I check rice and sugarcane leaves for diseases.

Send me a clear photo of a single leaf and I will tell you what I see.

Commands:
/check - check a leaf
/help - how to take a good photo
/cancel - cancel the current operation`

	msgHelp = `How to use the bot:

1. Send a photo of a rice or sugarcane leaf
2. Wait a moment while it is analysed
3. Read the diagnosis and the suggested management steps

Tips:
- Shoot in daylight, avoid very dark photos
- Fill the frame with the leaf
- Keep the photo sharp

Commands:
/check - start a check
/cancel - cancel`

	msgAwaitingPhoto   = "Send a photo of the leaf you want checked."
	msgCancelled       = "Cancelled. Send /check to start a new check."
	msgSendPhoto       = "Please send a photo of a rice or sugarcane leaf."
	msgUnknownCommand  = "Unknown command. Use /help for the list of commands."
	msgProcessing      = "Analysing the image..."
	msgBusy            = "Still working on your previous photo, please wait."
	msgProcessingError = "Could not process the image. Please try another photo."
)

// maxDownloadBytes matches the HTTP upload limit.
const maxDownloadBytes = 10 << 20

// API is the part of the Telegram client the bot uses.
type API interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetFileDirectURL(fileID string) (string, error)
}

// Diagnoser runs an upload through the diagnosis flow.
type Diagnoser interface {
	Diagnose(ctx context.Context, userID, filename string, data []byte) (*usecase.Report, error)
}

// Bot handles Telegram updates.
type Bot struct {
	api         API
	diagnoser   Diagnoser
	sessions    *SessionStore
	httpClient  *http.Client
	pollTimeout int
	logger      *zap.Logger
}

// NewBotAPI authorizes against Telegram with token.
func NewBotAPI(token string, debug bool) (*tgbotapi.BotAPI, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram authorization failed: %w", err)
	}
	api.Debug = debug
	return api, nil
}

// NewBot wires a bot around an authorized client.
func NewBot(api API, diagnoser Diagnoser, sessions *SessionStore, pollTimeout int, logger *zap.Logger) *Bot {
	if sessions == nil {
		sessions = NewSessionStore()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if pollTimeout <= 0 {
		pollTimeout = 60
	}
	return &Bot{
		api:         api,
		diagnoser:   diagnoser,
		sessions:    sessions,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		pollTimeout: pollTimeout,
		logger:      logger.Named("telegram"),
	}
}

// Run processes updates until ctx is cancelled or the update channel closes.
func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = b.pollTimeout

	updates := b.api.GetUpdatesChan(u)
	defer b.api.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil || update.Message.From == nil {
				continue
			}
			b.handleMessage(ctx, update.Message)
		}
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.IsCommand() {
		b.handleCommand(msg)
		return
	}

	if len(msg.Photo) > 0 {
		photo := msg.Photo[len(msg.Photo)-1]
		b.handleImage(ctx, msg, photo.FileID, "photo.jpg")
		return
	}

	if doc := msg.Document; doc != nil {
		name := doc.FileName
		if name == "" {
			name = "document" + extensionFor(doc.MimeType)
		}
		b.handleImage(ctx, msg, doc.FileID, name)
		return
	}

	b.sendMessage(msg.Chat.ID, msgSendPhoto)
}

func (b *Bot) handleCommand(msg *tgbotapi.Message) {
	sess := b.sessions.Get(msg.From.ID, msg.Chat.ID)

	switch msg.Command() {
	case "start":
		sess.State = StateMainMenu
		b.sessions.Save(sess)
		b.sendMessage(msg.Chat.ID, msgStart)

	case "help":
		b.sendMessage(msg.Chat.ID, msgHelp)

	case "check":
		if sess.State != StateProcessing {
			sess.State = StateAwaitingPhoto
			b.sessions.Save(sess)
		}
		b.sendMessage(msg.Chat.ID, msgAwaitingPhoto)

	case "cancel":
		if sess.State != StateProcessing {
			sess.State = StateMainMenu
			b.sessions.Save(sess)
		}
		b.sendMessage(msg.Chat.ID, msgCancelled)

	default:
		b.sendMessage(msg.Chat.ID, msgUnknownCommand)
	}
}

func (b *Bot) handleImage(ctx context.Context, msg *tgbotapi.Message, fileID, filename string) {
	userID, chatID := msg.From.ID, msg.Chat.ID
	if !b.sessions.TryBegin(userID, chatID) {
		b.sendMessage(chatID, msgBusy)
		return
	}
	var requestID string
	defer func() { b.sessions.Finish(userID, requestID) }()

	b.sendMessage(chatID, msgProcessing)

	logger := b.logger.With(zap.Int64("telegram_user", userID), zap.String("filename", filename))
	data, err := b.downloadFile(ctx, fileID)
	if err != nil {
		logger.Warn("failed to download telegram file", zap.Error(err))
		b.sendMessage(chatID, msgProcessingError)
		return
	}

	report, err := b.diagnoser.Diagnose(ctx, fmt.Sprintf("telegram:%d", userID), filename, data)
	switch {
	case errors.Is(err, usecase.ErrUnsupportedFile):
		b.sendMessage(chatID, formatGuidance(catalog.Rejection(catalog.KindInvalidFile)))
		return
	case err != nil:
		logger.Error("diagnosis failed", logging.ErrorFields(err)...)
		b.sendMessage(chatID, msgProcessingError)
		return
	}

	requestID = report.RequestID
	b.sendMessage(chatID, FormatReport(report))
}

func (b *Bot) downloadFile(ctx context.Context, fileID string) ([]byte, error) {
	fileURL, err := b.api.GetFileDirectURL(fileID)
	if err != nil {
		return nil, fmt.Errorf("get file: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download file: unexpected status %s", resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	if len(data) > maxDownloadBytes {
		return nil, fmt.Errorf("file exceeds %d bytes", maxDownloadBytes)
	}
	return data, nil
}

func (b *Bot) sendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Warn("failed to send message", zap.Error(err), zap.Int64("chat_id", chatID))
	}
}

// FormatReport renders a report as a chat message.
func FormatReport(r *usecase.Report) string {
	if r.Rejected() {
		return formatGuidance(catalog.Guidance{Message: r.Message, Advice: r.Advice})
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Diagnosis: %s (%.1f%%)\n", r.Label, r.Confidence*100)
	if r.SecondaryLabel != "" {
		fmt.Fprintf(&sb, "Second guess: %s (%.1f%%)\n", r.SecondaryLabel, r.SecondaryConfidence*100)
	}
	if d := r.Details; d != nil {
		fmt.Fprintf(&sb, "\nType: %s\n", d.Type)
		writeList(&sb, "Symptoms", d.Symptoms)
		writeList(&sb, "Causes", d.Causes)
		writeList(&sb, "Management", d.Management)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func formatGuidance(g catalog.Guidance) string {
	if g.Advice == "" {
		return g.Message
	}
	return g.Message + "\n" + g.Advice
}

func writeList(sb *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(sb, "\n%s:\n", title)
	for _, item := range items {
		fmt.Fprintf(sb, "- %s\n", item)
	}
}

func extensionFor(mimeType string) string {
	switch strings.ToLower(mimeType) {
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	default:
		return ""
	}
}
