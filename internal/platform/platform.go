// Package platform talks to the community platform that owns guilds, members and roles.
package platform

import (
	"context"
	"errors"

	"github.com/prn-tf/premium-keys/internal/domain"
)

// ErrMemberNotFound is returned by GetMember when the user is not in the guild.
var ErrMemberNotFound = errors.New("member not found")

// Client is the set of platform operations the key lifecycle depends on.
// Implementations must be safe for concurrent use.
type Client interface {
	// Guilds lists the guilds the bot has joined.
	Guilds(ctx context.Context) ([]int64, error)

	// GetMember returns the member record of userID in guildID.
	// Returns ErrMemberNotFound if the user is not a member.
	GetMember(ctx context.Context, guildID, userID int64) (*domain.Member, error)

	// AddRole grants roleID to the member.
	AddRole(ctx context.Context, guildID, userID, roleID int64) error

	// RemoveRole revokes roleID from the member.
	RemoveRole(ctx context.Context, guildID, userID, roleID int64) error

	// SendDirectMessage delivers content to the user privately.
	SendDirectMessage(ctx context.Context, userID int64, content string) error

	// SendChannelMessage posts content to a channel.
	SendChannelMessage(ctx context.Context, channelID int64, content string) error
}
