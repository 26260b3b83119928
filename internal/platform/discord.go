package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"

	"github.com/prn-tf/premium-keys/internal/domain"
)

const (
	// DefaultAPIBase is the Discord REST API root.
	DefaultAPIBase = "https://discord.com/api/v10"

	defaultTimeout = 10 * time.Second
	maxRetries     = 3
	auditReason    = "Premium key"
)

// DiscordConfig holds Discord REST client settings.
type DiscordConfig struct {
	Token    string
	APIBase  string
	GuildIDs []int64
	Timeout  time.Duration
	RetryMax int
}

// APIError is a non-2xx response from the Discord API.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("discord %s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// DiscordClient implements Client over the Discord REST API.
// Rate limited (429) and 5xx responses are retried by the underlying retryablehttp client.
type DiscordClient struct {
	client   *retryablehttp.Client
	apiBase  string
	token    string
	guildIDs map[int64]struct{}
	logger   zerolog.Logger
}

// NewDiscordClient creates a Discord REST client.
func NewDiscordClient(cfg DiscordConfig, logger zerolog.Logger) *DiscordClient {
	logger = logger.With().Str("component", "discord").Logger()

	if cfg.APIBase == "" {
		cfg.APIBase = DefaultAPIBase
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = maxRetries
	}

	retryClient := retryablehttp.NewClient()
	retryClient.HTTPClient.Timeout = cfg.Timeout
	retryClient.RetryMax = cfg.RetryMax
	retryClient.RetryWaitMin = 200 * time.Millisecond
	retryClient.RetryWaitMax = 5 * time.Second
	retryClient.Logger = &leveledLogger{logger: logger}

	var guilds map[int64]struct{}
	if len(cfg.GuildIDs) > 0 {
		guilds = make(map[int64]struct{}, len(cfg.GuildIDs))
		for _, id := range cfg.GuildIDs {
			guilds[id] = struct{}{}
		}
	}

	return &DiscordClient{
		client:   retryClient,
		apiBase:  strings.TrimRight(cfg.APIBase, "/"),
		token:    cfg.Token,
		guildIDs: guilds,
		logger:   logger,
	}
}

type guildResponse struct {
	ID string `json:"id"`
}

type memberResponse struct {
	User struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	} `json:"user"`
	Roles []string `json:"roles"`
}

type channelResponse struct {
	ID string `json:"id"`
}

// Guilds lists joined guilds, restricted to the configured guild IDs when set.
func (c *DiscordClient) Guilds(ctx context.Context) ([]int64, error) {
	var resp []guildResponse
	if err := c.do(ctx, http.MethodGet, "/users/@me/guilds", nil, &resp); err != nil {
		return nil, err
	}

	guilds := make([]int64, 0, len(resp))
	for _, g := range resp {
		id, err := strconv.ParseInt(g.ID, 10, 64)
		if err != nil {
			c.logger.Warn().Str("guild_id", g.ID).Msg("Skipping guild with malformed ID")
			continue
		}
		if c.guildIDs != nil {
			if _, ok := c.guildIDs[id]; !ok {
				continue
			}
		}
		guilds = append(guilds, id)
	}
	return guilds, nil
}

// GetMember fetches a guild member.
func (c *DiscordClient) GetMember(ctx context.Context, guildID, userID int64) (*domain.Member, error) {
	var resp memberResponse
	path := fmt.Sprintf("/guilds/%d/members/%d", guildID, userID)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		if isStatus(err, http.StatusNotFound) {
			return nil, ErrMemberNotFound
		}
		return nil, err
	}

	member := &domain.Member{
		UserID:   userID,
		GuildID:  guildID,
		Username: resp.User.Username,
		RoleIDs:  make([]int64, 0, len(resp.Roles)),
	}
	for _, r := range resp.Roles {
		if id, err := strconv.ParseInt(r, 10, 64); err == nil {
			member.RoleIDs = append(member.RoleIDs, id)
		}
	}
	return member, nil
}

// AddRole grants a role to a guild member.
func (c *DiscordClient) AddRole(ctx context.Context, guildID, userID, roleID int64) error {
	path := fmt.Sprintf("/guilds/%d/members/%d/roles/%d", guildID, userID, roleID)
	return c.do(ctx, http.MethodPut, path, nil, nil)
}

// RemoveRole revokes a role from a guild member.
func (c *DiscordClient) RemoveRole(ctx context.Context, guildID, userID, roleID int64) error {
	path := fmt.Sprintf("/guilds/%d/members/%d/roles/%d", guildID, userID, roleID)
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// SendDirectMessage opens a DM channel with the user and posts content to it.
func (c *DiscordClient) SendDirectMessage(ctx context.Context, userID int64, content string) error {
	var ch channelResponse
	body := map[string]string{"recipient_id": strconv.FormatInt(userID, 10)}
	if err := c.do(ctx, http.MethodPost, "/users/@me/channels", body, &ch); err != nil {
		return fmt.Errorf("failed to open DM channel: %w", err)
	}

	channelID, err := strconv.ParseInt(ch.ID, 10, 64)
	if err != nil {
		return fmt.Errorf("malformed DM channel ID %q: %w", ch.ID, err)
	}
	return c.SendChannelMessage(ctx, channelID, content)
}

// SendChannelMessage posts content to a channel.
func (c *DiscordClient) SendChannelMessage(ctx context.Context, channelID int64, content string) error {
	path := fmt.Sprintf("/channels/%d/messages", channelID)
	return c.do(ctx, http.MethodPost, path, map[string]string{"content": content}, nil)
}

// do sends one API request, decoding a JSON response into out when non-nil.
func (c *DiscordClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.apiBase+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bot "+c.token)
	req.Header.Set("User-Agent", "premium-keys (https://github.com/prn-tf/premium-keys, 1.0)")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method == http.MethodPut || method == http.MethodDelete {
		req.Header.Set("X-Audit-Log-Reason", auditReason)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("discord %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &APIError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
	}
	return nil
}

func isStatus(err error, status int) bool {
	apiErr, ok := err.(*APIError)
	return ok && apiErr.StatusCode == status
}

// leveledLogger adapts zerolog to retryablehttp.LeveledLogger.
type leveledLogger struct {
	logger zerolog.Logger
}

func (l *leveledLogger) Error(msg string, keysAndValues ...interface{}) {
	l.logger.Error().Fields(keysAndValues).Msg(msg)
}

func (l *leveledLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l *leveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.logger.Trace().Fields(keysAndValues).Msg(msg)
}

func (l *leveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.logger.Warn().Fields(keysAndValues).Msg(msg)
}

var _ Client = (*DiscordClient)(nil)

var _ retryablehttp.LeveledLogger = (*leveledLogger)(nil)
