package domain

// Member is a user's membership in one guild of the chat platform.
type Member struct {
	// UserID is the platform user ID.
	UserID int64 `json:"user_id"`

	// GuildID is the guild the membership belongs to.
	GuildID int64 `json:"guild_id"`

	// Username is the display name, used for logs only.
	Username string `json:"username,omitempty"`

	// RoleIDs are the roles currently assigned to the member.
	RoleIDs []int64 `json:"role_ids"`
}

// HasRole reports whether the member currently holds roleID.
func (m *Member) HasRole(roleID int64) bool {
	for _, id := range m.RoleIDs {
		if id == roleID {
			return true
		}
	}
	return false
}
