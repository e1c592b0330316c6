package domain

// Author identifies who wrote a chat message.
type Author struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// RecentMessage is one entry of the channel history captured at intake.
type RecentMessage struct {
	ID      string `json:"id"`
	Content string `json:"content"`
	Author  Author `json:"author"`
}

// ChatContext is the snapshot of the triggering message plus recent channel history.
// It is captured once by the intake handler and never mutated afterwards.
type ChatContext struct {
	ChannelID      string          `json:"channelId"`
	ThreadID       *string         `json:"threadId,omitempty"`
	MessageID      string          `json:"messageId"`
	UserID         string          `json:"userId"`
	GuildID        string          `json:"guildId"`
	MessageContent string          `json:"messageContent"`
	RecentMessages []RecentMessage `json:"recentMessages,omitempty"` // oldest first
}

// ThreadKey is the thread id when the message was posted in a thread, the channel id otherwise.
func (c ChatContext) ThreadKey() string {
	if c.ThreadID != nil && *c.ThreadID != "" {
		return *c.ThreadID
	}
	return c.ChannelID
}

// ExtractedRefs holds the references found in chat text. Every field is independently optional.
type ExtractedRefs struct {
	IssueID   *string `json:"linearIssueId,omitempty"`
	IssueURL  *string `json:"linearIssueUrl,omitempty"`
	RepoURL   *string `json:"githubRepoUrl,omitempty"`
	SessionID *string `json:"postHogSessionId,omitempty"`
	UserEmail *string `json:"userEmail,omitempty"`
}
