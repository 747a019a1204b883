// Package messenger implements the Messenger collaborator against the
// Telegram Bot HTTP API: sending report segments, resolving @usernames to
// numeric chat ids, and polling inbound commands.
package messenger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"marketpulse/internal/domain/entity"
	"marketpulse/internal/resilience/circuitbreaker"
	"marketpulse/internal/resilience/retry"
)

// CommandEvent is one inbound command delivered to the command surface.
type CommandEvent struct {
	Chat    entity.ChatContext
	Command string
	Args    string
}

// Telegram implements the Messenger interface against the Telegram Bot API.
type Telegram struct {
	token          string
	httpClient     *http.Client
	circuitBreaker *circuitbreaker.CircuitBreaker
	retryConfig    retry.Config
	sendLimiter    *rate.Limiter

	mu        sync.Mutex
	offset    int64
	usernames map[string]int64 // @username (without @) -> resolved chat id, best-effort cache
}

// New builds a Telegram messenger using botToken against the public Bot API.
func New(botToken string, httpClient *http.Client) *Telegram {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Telegram{
		token:          botToken,
		httpClient:     httpClient,
		circuitBreaker: circuitbreaker.New(circuitbreaker.TelegramConfig()),
		retryConfig:    retry.DefaultConfig(),
		sendLimiter:    rate.NewLimiter(rate.Limit(25), 5),
		usernames:      make(map[string]int64),
	}
}

func (t *Telegram) apiURL(method string) string {
	return fmt.Sprintf("https://api.telegram.org/bot%s/%s", t.token, method)
}

// Send delivers one report segment to chatID.
func (t *Telegram) Send(ctx context.Context, chatID int64, text string) error {
	payload, err := json.Marshal(map[string]any{
		"chat_id":    chatID,
		"text":       text,
		"parse_mode": "HTML",
	})
	if err != nil {
		return fmt.Errorf("messenger: marshal send payload: %w", err)
	}

	if err := t.sendLimiter.Wait(ctx); err != nil {
		return fmt.Errorf("messenger: rate limit wait: %w", err)
	}

	retryErr := retry.WithBackoff(ctx, t.retryConfig, func() error {
		_, err := t.circuitBreaker.Execute(func() (interface{}, error) {
			return nil, t.post(ctx, "sendMessage", payload)
		})
		if errors.Is(err, gobreaker.ErrOpenState) {
			slog.Warn("telegram circuit breaker open, send rejected", slog.Int64("chat_id", chatID))
		}
		return err
	})
	if retryErr != nil {
		return fmt.Errorf("messenger: send to %d: %w", chatID, retryErr)
	}
	return nil
}

// ResolveUsername looks up a chat id for a bare @username (without the
// leading @), caching the result. Telegram's Bot API has no direct
// username->id lookup for arbitrary users, so this relies on the bot having
// previously observed a message from that username (via RecvCommands); a
// miss returns found=false rather than erroring.
func (t *Telegram) ResolveUsername(ctx context.Context, name string) (int64, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id, ok := t.usernames[name]
	return id, ok, nil
}

func (t *Telegram) observeUsername(username string, chatID int64) {
	if username == "" {
		return
	}
	t.mu.Lock()
	t.usernames[username] = chatID
	t.mu.Unlock()
}

// RecvCommands starts long-polling getUpdates and returns a channel of
// parsed slash commands. The channel closes when ctx is cancelled.
func (t *Telegram) RecvCommands(ctx context.Context) (<-chan CommandEvent, error) {
	out := make(chan CommandEvent)
	go t.pollLoop(ctx, out)
	return out, nil
}

func (t *Telegram) pollLoop(ctx context.Context, out chan<- CommandEvent) {
	defer close(out)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		updates, err := t.getUpdates(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			slog.Warn("messenger: poll updates failed", slog.Any("error", err))
			select {
			case <-time.After(2 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		for _, u := range updates {
			if u.Message == nil || u.Message.Text == "" {
				continue
			}
			t.offset = u.UpdateID + 1
			t.observeUsername(u.Message.From.Username, u.Message.Chat.ID)

			cmd, args := splitCommand(u.Message.Text)
			if cmd == "" {
				continue
			}

			chatKind := entity.ChatKindPrivate
			switch u.Message.Chat.Type {
			case "group":
				chatKind = entity.ChatKindGroup
			case "supergroup":
				chatKind = entity.ChatKindSupergroup
			}

			event := CommandEvent{
				Chat: entity.ChatContext{
					UserID:   u.Message.From.ID,
					Username: u.Message.From.Username,
					ChatID:   u.Message.Chat.ID,
					ChatKind: chatKind,
				},
				Command: cmd,
				Args:    args,
			}
			select {
			case out <- event:
			case <-ctx.Done():
				return
			}
		}
	}
}

func splitCommand(text string) (cmd, args string) {
	if len(text) == 0 || text[0] != '/' {
		return "", ""
	}
	end := len(text)
	for i := 1; i < len(text); i++ {
		if text[i] == ' ' {
			end = i
			break
		}
	}
	cmd = text[:end]
	if end < len(text) {
		args = text[end+1:]
	}
	return cmd, args
}

type tgUpdate struct {
	UpdateID int64      `json:"update_id"`
	Message  *tgMessage `json:"message"`
}

type tgMessage struct {
	From tgUser `json:"from"`
	Chat tgChat `json:"chat"`
	Text string `json:"text"`
}

type tgUser struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

type tgChat struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

func (t *Telegram) getUpdates(ctx context.Context) ([]tgUpdate, error) {
	payload, err := json.Marshal(map[string]any{
		"offset":  t.offset,
		"timeout": 30,
	})
	if err != nil {
		return nil, err
	}

	body, err := t.doPost(ctx, "getUpdates", payload)
	if err != nil {
		return nil, err
	}

	var wire struct {
		OK     bool       `json:"ok"`
		Result []tgUpdate `json:"result"`
	}
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("messenger: decode getUpdates: %w", err)
	}
	return wire.Result, nil
}

func (t *Telegram) post(ctx context.Context, method string, payload []byte) error {
	_, err := t.doPost(ctx, method, payload)
	return err
}

func (t *Telegram) doPost(ctx context.Context, method string, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.apiURL(method), bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		return nil, &retry.HTTPError{StatusCode: resp.StatusCode, Message: "telegram api " + method + ": " + strconv.Itoa(resp.StatusCode)}
	}
	return body, nil
}
