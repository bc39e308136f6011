package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/colorcrew/slackbridge/pkg/logger"
)

// Client pushes batched message notifications to a registered agent's
// callback endpoint. The protocol is two sequential calls, append the
// text to the agent's pending input then submit it; if either fails a
// toast-style notice is attempted so the agent still sees something.
type Client struct {
	http  *resty.Client
	probe *resty.Client
}

func New() *Client {
	return &Client{
		http:  resty.New().SetTimeout(10 * time.Second),
		probe: resty.New().SetTimeout(1 * time.Second),
	}
}

// Notify delivers one batch to endpoint (host:port). The returned
// error reports the primary protocol failure even when the toast
// fallback went through.
func (c *Client) Notify(ctx context.Context, endpoint, title, text string) error {
	base := baseURL(endpoint)

	if err := c.post(ctx, base+"/append-prompt", map[string]string{"text": text}); err != nil {
		c.toast(ctx, base, title, text)
		return fmt.Errorf("append prompt: %w", err)
	}
	if err := c.post(ctx, base+"/submit-prompt", map[string]string{}); err != nil {
		c.toast(ctx, base, title, text)
		return fmt.Errorf("submit prompt: %w", err)
	}
	return nil
}

// Probe checks whether anything is listening at endpoint. It uses a
// short timeout so registration stays snappy when the callback target
// is down.
func (c *Client) Probe(ctx context.Context, endpoint string) error {
	resp, err := c.probe.R().SetContext(ctx).Get(baseURL(endpoint) + "/")
	if err != nil {
		return fmt.Errorf("probe %s: %w", endpoint, err)
	}
	// Any HTTP response means a listener is there; the path itself is
	// not part of the callback protocol.
	_ = resp
	return nil
}

func (c *Client) post(ctx context.Context, url string, body interface{}) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Post(url)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("%s returned %s", url, resp.Status())
	}
	return nil
}

func (c *Client) toast(ctx context.Context, base, title, text string) {
	err := c.post(ctx, base+"/show-toast", map[string]string{
		"title":   title,
		"message": text,
		"variant": "info",
	})
	if err != nil {
		logger.WarnCF("notify", "Toast fallback failed", map[string]interface{}{
			"endpoint": base,
			"error":    err.Error(),
		})
	}
}

func baseURL(endpoint string) string {
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return strings.TrimSuffix(endpoint, "/")
	}
	return "http://" + strings.TrimSuffix(endpoint, "/")
}
