package relay

// Wire DTOs. Every *string field travels encrypted; the JSON shape is the same as
// the plaintext record.

type MessageBody struct {
	DeviceID             int64   `json:"device_id"`
	DeviceConversationID int64   `json:"device_conversation_id"`
	MessageType          int     `json:"message_type"`
	Data                 *string `json:"data"`
	Timestamp            int64   `json:"timestamp"`
	MimeType             *string `json:"mime_type"`
	Read                 bool    `json:"read"`
	Seen                 bool    `json:"seen"`
	MessageFrom          *string `json:"message_from"`
	Color                *int    `json:"color"`
	SentDevice           int64   `json:"sent_device"`
	SimStamp             *string `json:"sim_stamp"`
}

type ConversationBody struct {
	DeviceID             int64   `json:"device_id"`
	FolderID             *int64  `json:"folder_id"`
	Color                int     `json:"color"`
	ColorDark            int     `json:"color_dark"`
	ColorLight           int     `json:"color_light"`
	ColorAccent          int     `json:"color_accent"`
	LedColor             int     `json:"led_color"`
	Pinned               bool    `json:"pinned"`
	Read                 bool    `json:"read"`
	Timestamp            int64   `json:"timestamp"`
	Title                *string `json:"title"`
	PhoneNumbers         *string `json:"phone_numbers"`
	Snippet              *string `json:"snippet"`
	Ringtone             *string `json:"ringtone"`
	ImageURI             *string `json:"image_uri"`
	IDMatcher            *string `json:"id_matcher"`
	Mute                 bool    `json:"mute"`
	Archive              bool    `json:"archive"`
	PrivateNotifications bool    `json:"private_notifications"`
}

type ContactBody struct {
	DeviceID    int64   `json:"device_id"`
	PhoneNumber *string `json:"phone_number"`
	IDMatcher   *string `json:"id_matcher"`
	Name        *string `json:"name"`
	ContactType int     `json:"contact_type"`
	Color       int     `json:"color"`
	ColorDark   int     `json:"color_dark"`
	ColorLight  int     `json:"color_light"`
	ColorAccent int     `json:"color_accent"`
}

type DraftBody struct {
	DeviceID             int64   `json:"device_id"`
	DeviceConversationID int64   `json:"device_conversation_id"`
	Data                 *string `json:"data"`
	MimeType             *string `json:"mime_type"`
}

type BlacklistBody struct {
	DeviceID    int64   `json:"device_id"`
	PhoneNumber *string `json:"phone_number"`
	Phrase      *string `json:"phrase"`
}

type ScheduledMessageBody struct {
	DeviceID  int64   `json:"device_id"`
	To        *string `json:"to"`
	Data      *string `json:"data"`
	MimeType  *string `json:"mime_type"`
	Timestamp int64   `json:"timestamp"`
	Title     *string `json:"title"`
	Repeat    int     `json:"repeat"`
}

type TemplateBody struct {
	DeviceID int64   `json:"device_id"`
	Text     *string `json:"text"`
}

type FolderBody struct {
	DeviceID    int64   `json:"device_id"`
	Name        *string `json:"name"`
	Color       int     `json:"color"`
	ColorDark   int     `json:"color_dark"`
	ColorLight  int     `json:"color_light"`
	ColorAccent int     `json:"color_accent"`
}

type AutoReplyBody struct {
	DeviceID  int64   `json:"device_id"`
	ReplyType string  `json:"type"`
	Pattern   *string `json:"pattern"`
	Response  *string `json:"response"`
}

// Entity names one relay collection.
type Entity string

const (
	Messages          Entity = "messages"
	Conversations     Entity = "conversations"
	Contacts          Entity = "contacts"
	Drafts            Entity = "drafts"
	Blacklists        Entity = "blacklists"
	ScheduledMessages Entity = "scheduled_messages"
	Templates         Entity = "templates"
	Folders           Entity = "folders"
	AutoReplies       Entity = "auto_replies"
	Accounts          Entity = "accounts"
)
