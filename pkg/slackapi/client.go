package slackapi

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/slack-go/slack"

	"github.com/colorcrew/slackbridge/pkg/logger"
	"github.com/colorcrew/slackbridge/pkg/utils"
)

const (
	directoryCacheTTL = 5 * time.Minute
	authTestTimeout   = 10 * time.Second
)

// Client wraps one agent's authenticated calls to the chat platform,
// gated by the rate limiter, with short-lived channel and user directory
// caches.
type Client struct {
	api     *slack.Client
	limiter *RateLimiter
	http    *resty.Client

	now func() time.Time

	mu       sync.Mutex
	channels []ChannelInfo
	users    map[string]cachedUser
	cacheAt  time.Time
}

type cachedUser struct {
	name        string
	realName    string
	displayName string
}

type Option func(token string) slack.Option

// WithAPIURL points the client at an alternate platform base URL (tests).
func WithAPIURL(url string) Option {
	return func(string) slack.Option { return slack.OptionAPIURL(url) }
}

func NewClient(botToken string, limiter *RateLimiter, opts ...Option) *Client {
	slackOpts := []slack.Option{
		slack.OptionHTTPClient(&http.Client{Timeout: 30 * time.Second}),
	}
	for _, opt := range opts {
		slackOpts = append(slackOpts, opt(botToken))
	}
	return &Client{
		api:     slack.New(botToken, slackOpts...),
		limiter: limiter,
		http:    resty.New().SetTimeout(30 * time.Second),
		now:     time.Now,
		users:   map[string]cachedUser{},
	}
}

// SendMessage posts text to a channel under the "message" rate category.
func (c *Client) SendMessage(ctx context.Context, text, channel string) (SendResult, error) {
	if err := c.limiter.Await(ctx, CategoryMessage); err != nil {
		return SendResult{}, err
	}
	respChannel, ts, err := c.api.PostMessageContext(ctx, channel, slack.MsgOptionText(text, false))
	if err != nil {
		return SendResult{}, wrapAPIError("chat.postMessage", err)
	}
	return SendResult{Timestamp: ts, Channel: respChannel}, nil
}

// GetMessages fetches channel history since sinceTS (exclusive), excluding
// system and hidden messages, and returns it in ascending timestamp order.
// The platform answers newest-first; normalizing here is the one ordering
// contract the rest of the daemon relies on.
func (c *Client) GetMessages(ctx context.Context, channel string, limit int, sinceTS string) ([]Message, error) {
	if err := c.limiter.Await(ctx, CategoryAPI); err != nil {
		return nil, err
	}
	params := &slack.GetConversationHistoryParameters{
		ChannelID: channel,
		Limit:     limit,
		Oldest:    sinceTS,
	}
	resp, err := c.api.GetConversationHistoryContext(ctx, params)
	if err != nil {
		return nil, wrapAPIError("conversations.history", err)
	}

	messages := make([]Message, 0, len(resp.Messages))
	for i := len(resp.Messages) - 1; i >= 0; i-- {
		m := resp.Messages[i]
		if m.Type != "message" || m.Hidden {
			continue
		}
		out := Message{
			Timestamp: m.Timestamp,
			UserID:    m.User,
			UserName:  c.userName(ctx, m.User),
			Text:      m.Text,
			Channel:   channel,
		}
		for _, r := range m.Reactions {
			out.Reactions = append(out.Reactions, Reaction{Name: r.Name, Users: r.Users})
		}
		for _, f := range m.Files {
			out.Files = append(out.Files, fileInfo(f))
		}
		messages = append(messages, out)
	}
	return messages, nil
}

// AddReaction attaches an emoji to a message.
func (c *Client) AddReaction(ctx context.Context, channel, timestamp, emoji string) error {
	if err := c.limiter.Await(ctx, CategoryAPI); err != nil {
		return err
	}
	if err := c.api.AddReactionContext(ctx, emoji, slack.NewRefToMessage(channel, timestamp)); err != nil {
		return wrapAPIError("reactions.add", err)
	}
	return nil
}

// GetChannels lists public channels from the directory cache.
func (c *Client) GetChannels(ctx context.Context) ([]ChannelInfo, error) {
	if err := c.refreshDirectories(ctx); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ChannelInfo, len(c.channels))
	copy(out, c.channels)
	return out, nil
}

// UploadFile performs the platform's three-step external upload: request an
// upload slot, push the raw bytes, then finalize into the channel.
func (c *Client) UploadFile(ctx context.Context, data []byte, filename, comment, channel string) (UploadResult, error) {
	if err := c.limiter.Await(ctx, CategoryAPI); err != nil {
		return UploadResult{}, err
	}
	filename = utils.SanitizeFilename(filename)
	slot, err := c.api.GetUploadURLExternalContext(ctx, slack.GetUploadURLExternalParameters{
		FileName: filename,
		FileSize: len(data),
	})
	if err != nil {
		return UploadResult{}, wrapAPIError("files.getUploadURLExternal", err)
	}
	if slot.UploadURL == "" || slot.FileID == "" {
		return UploadResult{}, &RemoteAPIError{Op: "files.getUploadURLExternal", Code: "missing_upload_url"}
	}

	resp, err := c.http.R().SetContext(ctx).SetBody(data).Post(slot.UploadURL)
	if err != nil {
		return UploadResult{}, &RemoteAPIError{Op: "upload_url_post", Err: err}
	}
	if resp.IsError() {
		return UploadResult{}, &RemoteAPIError{Op: "upload_url_post", Code: fmt.Sprintf("http_%d", resp.StatusCode())}
	}

	if err := c.limiter.Await(ctx, CategoryAPI); err != nil {
		return UploadResult{}, err
	}
	done, err := c.api.CompleteUploadExternalContext(ctx, slack.CompleteUploadExternalParameters{
		Files:          []slack.FileSummary{{ID: slot.FileID, Title: filename}},
		Channel:        channel,
		InitialComment: comment,
	})
	if err != nil {
		return UploadResult{}, wrapAPIError("files.completeUploadExternal", err)
	}

	result := UploadResult{FileID: slot.FileID}
	for _, f := range done.Files {
		result.Files = append(result.Files, FileInfo{ID: f.ID, Title: f.Title})
	}
	return result, nil
}

// ListFiles lists files, optionally scoped to one channel.
func (c *Client) ListFiles(ctx context.Context, channel string, limit int) ([]FileInfo, error) {
	if err := c.limiter.Await(ctx, CategoryAPI); err != nil {
		return nil, err
	}
	files, _, err := c.api.GetFilesContext(ctx, slack.GetFilesParameters{
		Channel: channel,
		Count:   limit,
	})
	if err != nil {
		return nil, wrapAPIError("files.list", err)
	}
	out := make([]FileInfo, 0, len(files))
	for _, f := range files {
		out = append(out, fileInfo(f))
	}
	return out, nil
}

// DownloadFile resolves file metadata, then fetches the private URL with
// the bot's bearer credential and returns the content base64-encoded.
func (c *Client) DownloadFile(ctx context.Context, fileID string) (DownloadResult, error) {
	if err := c.limiter.Await(ctx, CategoryAPI); err != nil {
		return DownloadResult{}, err
	}
	info, _, _, err := c.api.GetFileInfoContext(ctx, fileID, 0, 0)
	if err != nil {
		return DownloadResult{}, wrapAPIError("files.info", err)
	}
	if info.URLPrivate == "" {
		return DownloadResult{}, &RemoteAPIError{Op: "files.info", Code: "no_download_url"}
	}

	var buf bytes.Buffer
	if err := c.api.GetFileContext(ctx, info.URLPrivate, &buf); err != nil {
		return DownloadResult{}, wrapAPIError("files.download", err)
	}
	return DownloadResult{
		Filename: info.Name,
		Content:  base64.StdEncoding.EncodeToString(buf.Bytes()),
		Mimetype: info.Mimetype,
	}, nil
}

// DeleteFile removes a file from the platform.
func (c *Client) DeleteFile(ctx context.Context, fileID string) error {
	if err := c.limiter.Await(ctx, CategoryAPI); err != nil {
		return err
	}
	if err := c.api.DeleteFileContext(ctx, fileID); err != nil {
		return wrapAPIError("files.delete", err)
	}
	return nil
}

// AuthTest resolves the bot identity behind this client's token. Bounded
// by an explicit timeout so startup identity checks cannot stall.
func (c *Client) AuthTest(ctx context.Context) (Identity, error) {
	ctx, cancel := context.WithTimeout(ctx, authTestTimeout)
	defer cancel()

	if err := c.limiter.Await(ctx, CategoryAPI); err != nil {
		return Identity{}, err
	}
	resp, err := c.api.AuthTestContext(ctx)
	if err != nil {
		return Identity{}, wrapAPIError("auth.test", err)
	}
	return Identity{UserID: resp.UserID, BotID: resp.BotID}, nil
}

func (c *Client) userName(ctx context.Context, userID string) string {
	if userID == "" {
		return "Unknown"
	}
	if err := c.refreshDirectories(ctx); err != nil {
		logger.WarnCF("slackapi", "Directory refresh failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	u, ok := c.users[userID]
	if !ok {
		return "Unknown"
	}
	switch {
	case u.displayName != "":
		return u.displayName
	case u.realName != "":
		return u.realName
	case u.name != "":
		return u.name
	}
	return "Unknown"
}

// refreshDirectories lazily reloads the channel and user caches once the
// expiry window has passed. A failed refresh keeps the previous snapshot.
func (c *Client) refreshDirectories(ctx context.Context) error {
	c.mu.Lock()
	fresh := !c.cacheAt.IsZero() && c.now().Sub(c.cacheAt) < directoryCacheTTL
	c.mu.Unlock()
	if fresh {
		return nil
	}

	if err := c.limiter.Await(ctx, CategoryAPI); err != nil {
		return err
	}
	chans, _, err := c.api.GetConversationsContext(ctx, &slack.GetConversationsParameters{
		Types: []string{"public_channel"},
		Limit: 200,
	})
	if err != nil {
		return wrapAPIError("conversations.list", err)
	}

	if err := c.limiter.Await(ctx, CategoryAPI); err != nil {
		return err
	}
	members, err := c.api.GetUsersContext(ctx)
	if err != nil {
		return wrapAPIError("users.list", err)
	}

	channels := make([]ChannelInfo, 0, len(chans))
	for _, ch := range chans {
		channels = append(channels, ChannelInfo{
			ID:       ch.ID,
			Name:     ch.Name,
			IsPublic: !ch.IsPrivate,
		})
	}
	users := make(map[string]cachedUser, len(members))
	for _, u := range members {
		users[u.ID] = cachedUser{
			name:        u.Name,
			realName:    u.RealName,
			displayName: u.Profile.DisplayName,
		}
	}

	c.mu.Lock()
	c.channels = channels
	c.users = users
	c.cacheAt = c.now()
	c.mu.Unlock()
	return nil
}

func fileInfo(f slack.File) FileInfo {
	return FileInfo{
		ID:       f.ID,
		Name:     f.Name,
		Title:    f.Title,
		Mimetype: f.Mimetype,
		Size:     f.Size,
		URL:      f.URLPrivate,
		Created:  int64(f.Created),
		User:     f.User,
	}
}
