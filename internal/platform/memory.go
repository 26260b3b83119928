package platform

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/prn-tf/premium-keys/internal/domain"
)

// MemoryClient is an in-process platform that only logs its side effects.
// It backs the "log" platform driver and tests. Every user is treated as a
// member of every configured guild.
type MemoryClient struct {
	mu       sync.Mutex
	guildIDs []int64
	roles    map[memberKey]map[int64]struct{}
	absent   map[memberKey]struct{}
	failures map[string]error
	delays   map[string]time.Duration
	messages []Message
	logger   zerolog.Logger
}

type memberKey struct {
	guildID int64
	userID  int64
}

// Message is a message recorded by MemoryClient.
// UserID is set for direct messages and ChannelID for channel posts.
type Message struct {
	UserID    int64
	ChannelID int64
	Content   string
}

// Operation names accepted by MemoryClient.Fail.
const (
	OpGuilds             = "guilds"
	OpGetMember          = "get_member"
	OpAddRole            = "add_role"
	OpRemoveRole         = "remove_role"
	OpSendDirectMessage  = "send_direct_message"
	OpSendChannelMessage = "send_channel_message"
)

// NewMemoryClient creates a client whose bot has joined guildIDs.
func NewMemoryClient(guildIDs []int64, logger zerolog.Logger) *MemoryClient {
	ids := append([]int64(nil), guildIDs...)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return &MemoryClient{
		guildIDs: ids,
		roles:    make(map[memberKey]map[int64]struct{}),
		absent:   make(map[memberKey]struct{}),
		failures: make(map[string]error),
		delays:   make(map[string]time.Duration),
		logger:   logger.With().Str("component", "platform").Logger(),
	}
}

// Fail makes every later call of op return err. A nil err clears the failure.
func (c *MemoryClient) Fail(op string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err == nil {
		delete(c.failures, op)
		return
	}
	c.failures[op] = err
}

// Delay makes every later call of op wait d, or until its context is done, before running.
func (c *MemoryClient) Delay(op string, d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delays[op] = d
}

func (c *MemoryClient) wait(ctx context.Context, op string) error {
	c.mu.Lock()
	d := c.delays[op]
	c.mu.Unlock()
	if d <= 0 {
		return nil
	}

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// RemoveMember makes userID absent from guildID.
func (c *MemoryClient) RemoveMember(guildID, userID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := memberKey{guildID, userID}
	c.absent[k] = struct{}{}
	delete(c.roles, k)
}

// HasRole reports whether the member currently holds roleID.
func (c *MemoryClient) HasRole(guildID, userID, roleID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.roles[memberKey{guildID, userID}][roleID]
	return ok
}

// Messages returns every message sent so far.
func (c *MemoryClient) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.messages...)
}

func (c *MemoryClient) Guilds(ctx context.Context) ([]int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.failures[OpGuilds]; err != nil {
		return nil, err
	}
	return append([]int64(nil), c.guildIDs...), nil
}

func (c *MemoryClient) GetMember(ctx context.Context, guildID, userID int64) (*domain.Member, error) {
	if err := c.wait(ctx, OpGetMember); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.failures[OpGetMember]; err != nil {
		return nil, err
	}

	k := memberKey{guildID, userID}
	if _, gone := c.absent[k]; gone {
		return nil, ErrMemberNotFound
	}

	member := &domain.Member{UserID: userID, GuildID: guildID}
	for id := range c.roles[k] {
		member.RoleIDs = append(member.RoleIDs, id)
	}
	return member, nil
}

func (c *MemoryClient) AddRole(ctx context.Context, guildID, userID, roleID int64) error {
	if err := c.wait(ctx, OpAddRole); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.failures[OpAddRole]; err != nil {
		return err
	}

	k := memberKey{guildID, userID}
	if _, gone := c.absent[k]; gone {
		return ErrMemberNotFound
	}
	if c.roles[k] == nil {
		c.roles[k] = make(map[int64]struct{})
	}
	c.roles[k][roleID] = struct{}{}

	c.logger.Info().Int64("guild_id", guildID).Int64("user_id", userID).Int64("role_id", roleID).Msg("Role granted")
	return nil
}

func (c *MemoryClient) RemoveRole(ctx context.Context, guildID, userID, roleID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.failures[OpRemoveRole]; err != nil {
		return err
	}

	delete(c.roles[memberKey{guildID, userID}], roleID)

	c.logger.Info().Int64("guild_id", guildID).Int64("user_id", userID).Int64("role_id", roleID).Msg("Role removed")
	return nil
}

func (c *MemoryClient) SendDirectMessage(ctx context.Context, userID int64, content string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.failures[OpSendDirectMessage]; err != nil {
		return err
	}

	c.messages = append(c.messages, Message{UserID: userID, Content: content})
	c.logger.Info().Int64("user_id", userID).Str("content", content).Msg("Direct message")
	return nil
}

func (c *MemoryClient) SendChannelMessage(ctx context.Context, channelID int64, content string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.failures[OpSendChannelMessage]; err != nil {
		return err
	}

	c.messages = append(c.messages, Message{ChannelID: channelID, Content: content})
	c.logger.Info().Int64("channel_id", channelID).Str("content", content).Msg("Channel message")
	return nil
}

var _ Client = (*MemoryClient)(nil)
