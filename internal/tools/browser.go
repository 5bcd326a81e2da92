package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
)

const browserActionTimeout = 60 * time.Second

// BrowserTool drives one long-lived Chrome session. The session survives
// between calls until the model sends 'close' or the process exits.
type BrowserTool struct {
	Headless      bool
	ScreenshotDir string

	mu            sync.Mutex
	browserCtx    context.Context
	allocCancel   context.CancelFunc
	browserCancel context.CancelFunc
}

func NewBrowserTool(headless bool, screenshotDir string) *BrowserTool {
	if screenshotDir == "" {
		screenshotDir = "screenshots"
	}
	return &BrowserTool{Headless: headless, ScreenshotDir: screenshotDir}
}

func (b *BrowserTool) Name() string {
	return "browser"
}

func (b *BrowserTool) Description() string {
	return "Drive a browser session that stays open across calls. Actions: 'open', 'text', 'click', 'type', 'wait', 'screenshot', 'close'."
}

func (b *BrowserTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"action": map[string]any{
				"type":        "string",
				"enum":        []string{"open", "text", "click", "type", "wait", "screenshot", "close"},
				"description": "The action to perform.",
			},
			"url": map[string]any{
				"type":        "string",
				"description": "The URL to open (required for 'open')",
			},
			"selector": map[string]any{
				"type":        "string",
				"description": "CSS selector of the target element ('click', 'type', 'wait'; optional for 'text')",
			},
			"text": map[string]any{
				"type":        "string",
				"description": "The text to type (required for 'type')",
			},
		},
		"required": []string{"action"},
	}
}

func (b *BrowserTool) session() (context.Context, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.browserCtx != nil {
		if b.browserCtx.Err() == nil {
			return b.browserCtx, nil
		}
		b.closeLocked()
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoSandbox,
		chromedp.Flag("headless", b.Headless),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("no-default-browser-check", true),
	)

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, err
	}

	b.browserCtx, b.browserCancel, b.allocCancel = browserCtx, browserCancel, allocCancel
	return browserCtx, nil
}

func (b *BrowserTool) closeLocked() {
	if b.browserCancel != nil {
		b.browserCancel()
	}
	if b.allocCancel != nil {
		b.allocCancel()
	}
	b.browserCtx, b.browserCancel, b.allocCancel = nil, nil, nil
}

// Close shuts the browser down.
func (b *BrowserTool) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closeLocked()
}

func (b *BrowserTool) Execute(ctx context.Context, tc Context, input string) (string, error) {
	var args struct {
		Action   string `json:"action"`
		URL      string `json:"url"`
		Selector string `json:"selector"`
		Text     string `json:"text"`
	}
	if err := json.Unmarshal([]byte(input), &args); err != nil {
		return "", fmt.Errorf("invalid input: %w", err)
	}

	if args.Action == "close" {
		b.Close()
		return "Browser closed.", nil
	}

	sessionCtx, err := b.session()
	if err != nil {
		return "", fmt.Errorf("failed to start browser: %w", err)
	}

	actionCtx, cancel := context.WithTimeout(sessionCtx, browserActionTimeout)
	defer cancel()
	// The session outlives the call; only the action follows the caller.
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var result string
	switch args.Action {
	case "open":
		if args.URL == "" {
			return "Error: url is required for 'open'", nil
		}
		var title string
		err = chromedp.Run(actionCtx, chromedp.Navigate(args.URL), chromedp.Title(&title))
		result = fmt.Sprintf("Opened %s (%s)", args.URL, title)

	case "text":
		selector := args.Selector
		if selector == "" {
			selector = "body"
		}
		err = chromedp.Run(actionCtx, chromedp.Text(selector, &result, chromedp.ByQuery))
		if len(result) > defaultMaxContent {
			result = result[:defaultMaxContent] + "\n... (truncated)"
		}

	case "click":
		if args.Selector == "" {
			return "Error: selector is required for 'click'", nil
		}
		err = chromedp.Run(actionCtx, chromedp.Click(args.Selector, chromedp.ByQuery))
		result = "Clicked " + args.Selector

	case "type":
		if args.Selector == "" || args.Text == "" {
			return "Error: selector and text are required for 'type'", nil
		}
		err = chromedp.Run(actionCtx, chromedp.SendKeys(args.Selector, args.Text, chromedp.ByQuery))
		result = "Typed into " + args.Selector

	case "wait":
		if args.Selector == "" {
			return "Error: selector is required for 'wait'", nil
		}
		err = chromedp.Run(actionCtx, chromedp.WaitVisible(args.Selector, chromedp.ByQuery))
		result = args.Selector + " is visible"

	case "screenshot":
		result, err = b.screenshot(actionCtx, tc.TaskID)

	default:
		return "Invalid action", nil
	}

	if err != nil {
		return fmt.Sprintf("Browser action failed: %v", err), nil
	}
	return result, nil
}

func (b *BrowserTool) screenshot(ctx context.Context, taskID string) (string, error) {
	var buf []byte
	if err := chromedp.Run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return "", err
	}
	if err := os.MkdirAll(b.ScreenshotDir, 0755); err != nil {
		return "", err
	}
	prefix := "screenshot"
	if taskID != "" {
		prefix = taskID
	}
	path := filepath.Join(b.ScreenshotDir, fmt.Sprintf("%s_%d.png", prefix, time.Now().Unix()))
	if err := os.WriteFile(path, buf, 0644); err != nil {
		return "", err
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return "Screenshot saved to " + path, nil
}
