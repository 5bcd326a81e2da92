package gateway

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v5"
	"github.com/rahul/cortex/internal/agent"
	"github.com/rahul/cortex/internal/observability"
	"go.uber.org/zap"
)

// Gateway is a chat platform the agent listens on and replies through.
// Chat IDs it hands to the brain carry the gateway prefix, e.g. "telegram:42".
type Gateway interface {
	Name() string
	// Start listens until ctx is done or Stop is called.
	Start(ctx context.Context) error
	// Send delivers text to a platform-native chat ID (no prefix).
	Send(ctx context.Context, nativeID string, text string) error
	Stop() error
}

const sendAttempts = 3

// ChatID joins a platform name and a native chat ID.
func ChatID(platform, nativeID string) string {
	return platform + ":" + nativeID
}

// SplitChatID is the inverse of ChatID.
func SplitChatID(chatID string) (platform, nativeID string, ok bool) {
	platform, nativeID, ok = strings.Cut(chatID, ":")
	if !ok || platform == "" || nativeID == "" {
		return "", "", false
	}
	return platform, nativeID, true
}

// retrySend retries transient send failures with exponential backoff.
func retrySend(ctx context.Context, send func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, send()
	}, backoff.WithBackOff(b), backoff.WithMaxTries(sendAttempts))
	return err
}

// chunk splits text into pieces of at most limit bytes, preferring line
// breaks and never splitting a rune.
func chunk(text string, limit int) []string {
	if text == "" {
		return nil
	}
	var out []string
	for len(text) > limit {
		cut := strings.LastIndex(text[:limit], "\n")
		if cut <= 0 {
			cut = limit
			for cut > 0 && !utf8.RuneStart(text[cut]) {
				cut--
			}
		}
		out = append(out, text[:cut])
		text = strings.TrimLeft(text[cut:], "\n")
	}
	if text != "" {
		out = append(out, text)
	}
	return out
}

// reply runs one inbound message through the brain. Brain failures become a
// short apology so the user is never left without an answer.
func reply(ctx context.Context, brain agent.Brain, logger *observability.Logger, chatID, text string) string {
	response, err := brain.Think(ctx, chatID, text)
	if err != nil {
		logger.Error("brain failed", zap.String("chat_id", chatID), zap.Error(err))
		return "I'm having trouble thinking right now..."
	}
	if strings.TrimSpace(response) == "" {
		return "Done."
	}
	return response
}

// Router sends to the gateway named by the chat ID prefix.
type Router struct {
	gateways map[string]Gateway
}

func NewRouter(gateways ...Gateway) *Router {
	r := &Router{gateways: make(map[string]Gateway)}
	for _, g := range gateways {
		r.Register(g)
	}
	return r
}

func (r *Router) Register(g Gateway) {
	r.gateways[g.Name()] = g
}

func (r *Router) Gateways() []Gateway {
	out := make([]Gateway, 0, len(r.gateways))
	for _, g := range r.gateways {
		out = append(out, g)
	}
	return out
}

func (r *Router) Send(ctx context.Context, chatID string, text string) error {
	platform, nativeID, ok := SplitChatID(chatID)
	if !ok {
		return fmt.Errorf("invalid chat ID: %q", chatID)
	}
	g, ok := r.gateways[platform]
	if !ok {
		return fmt.Errorf("no gateway for %q", platform)
	}
	return g.Send(ctx, nativeID, text)
}
