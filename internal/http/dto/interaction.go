package dto

// Interaction types sent by the chat platform.
const (
	InteractionTypePing               = 1
	InteractionTypeApplicationCommand = 2
	InteractionTypeMessage            = 4
)

// Response types returned to the chat platform.
const (
	ResponseTypePong           = 1
	ResponseTypeChannelMessage = 4
)

// Channel types that are threads.
const (
	ChannelTypeAnnouncementThread = 10
	ChannelTypePublicThread       = 11
	ChannelTypePrivateThread      = 12
)

type Interaction struct {
	ID        string              `json:"id"`
	Type      int                 `json:"type"`
	Data      *InteractionData    `json:"data,omitempty"`
	ChannelID string              `json:"channel_id"`
	Channel   *InteractionChannel `json:"channel,omitempty"`
	GuildID   string              `json:"guild_id"`
	Member    *InteractionMember  `json:"member,omitempty"`
	User      *InteractionUser    `json:"user,omitempty"`
}

type InteractionData struct {
	Content string              `json:"content"`
	Name    string              `json:"name"`
	Options []InteractionOption `json:"options,omitempty"`
}

// InteractionOption values are strings for every option the bot registers.
type InteractionOption struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

type InteractionChannel struct {
	ID   string `json:"id"`
	Type int    `json:"type"`
}

type InteractionMember struct {
	User InteractionUser `json:"user"`
}

type InteractionUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// UserID is the invoking user, taken from member in guilds and user in DMs.
func (i Interaction) UserID() string {
	if i.Member != nil && i.Member.User.ID != "" {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}

// IsThread reports whether the interaction happened inside a thread channel.
func (i Interaction) IsThread() bool {
	if i.Channel == nil {
		return false
	}
	switch i.Channel.Type {
	case ChannelTypeAnnouncementThread, ChannelTypePublicThread, ChannelTypePrivateThread:
		return true
	}
	return false
}

type InteractionResponse struct {
	Type int                      `json:"type"`
	Data *InteractionResponseData `json:"data,omitempty"`
}

type InteractionResponseData struct {
	Content string `json:"content"`
}

func Pong() InteractionResponse {
	return InteractionResponse{Type: ResponseTypePong}
}

func ChannelMessage(content string) InteractionResponse {
	return InteractionResponse{
		Type: ResponseTypeChannelMessage,
		Data: &InteractionResponseData{Content: content},
	}
}
