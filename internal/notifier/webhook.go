package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Webhook posts text messages to a Feishu/Lark-compatible incoming webhook.
type Webhook struct {
	url     string
	mention string
	client  *http.Client
}

type WebhookOptions struct {
	URL string
	// Mention is a user id tagged on alerts; "all" tags everyone.
	Mention string
	Timeout time.Duration
	Client  *http.Client
}

func NewWebhook(opts WebhookOptions) (*Webhook, error) {
	u := strings.TrimSpace(opts.URL)
	if u == "" {
		return nil, errors.New("webhook url is empty")
	}
	c := opts.Client
	if c == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 20 * time.Second
		}
		c = &http.Client{Timeout: timeout}
	}
	return &Webhook{url: u, mention: strings.TrimSpace(opts.Mention), client: c}, nil
}

func (w *Webhook) Name() string { return "webhook" }

type webhookPayload struct {
	MsgType string         `json:"msg_type"`
	Content webhookContent `json:"content"`
}

type webhookContent struct {
	Text string `json:"text"`
}

// webhookReply is the Feishu response envelope. Older deployments answer
// with StatusCode/StatusMessage instead of code/msg.
type webhookReply struct {
	Code          int    `json:"code"`
	Msg           string `json:"msg"`
	StatusCode    int    `json:"StatusCode"`
	StatusMessage string `json:"StatusMessage"`
}

func (w *Webhook) Send(ctx context.Context, m Message) error {
	text := m.Text
	if m.Alert && w.mention != "" {
		text = fmt.Sprintf(`<at user_id="%s"></at> %s`, w.mention, text)
	}
	body, err := json.Marshal(webhookPayload{MsgType: "text", Content: webhookContent{Text: text}})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook http %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	var reply webhookReply
	if len(bytes.TrimSpace(raw)) > 0 && json.Unmarshal(raw, &reply) == nil {
		if reply.Code != 0 {
			return fmt.Errorf("webhook code %d: %s", reply.Code, reply.Msg)
		}
		if reply.StatusCode != 0 {
			return fmt.Errorf("webhook code %d: %s", reply.StatusCode, reply.StatusMessage)
		}
	}
	return nil
}
