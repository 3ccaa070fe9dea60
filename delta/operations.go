package delta

import "smsrelay/models"

// Operation names as sent by the relay.
const (
	OpRemovedAccount = "removed_account"
	OpUpdatedAccount = "updated_account"
	OpCleanedAccount = "cleaned_account"

	OpAddedMessage                = "added_message"
	OpUpdateMessageType           = "update_message_type"
	OpUpdatedMessage              = "updated_message"
	OpRemovedMessage              = "removed_message"
	OpCleanupMessages             = "cleanup_messages"
	OpCleanupConversationMessages = "cleanup_conversation_messages"

	OpAddedContact       = "added_contact"
	OpUpdatedContact     = "updated_contact"
	OpRemovedContact     = "removed_contact"
	OpRemovedContactByID = "removed_contact_by_id"

	OpAddedConversation         = "added_conversation"
	OpUpdateConversationSnippet = "update_conversation_snippet"
	OpUpdateConversationTitle   = "update_conversation_title"
	OpUpdatedConversation       = "updated_conversation"
	OpRemovedConversation       = "removed_conversation"
	OpReadConversation          = "read_conversation"
	OpSeenConversation          = "seen_conversation"
	OpArchiveConversation       = "archive_conversation"
	OpSeenConversations         = "seen_conversations"

	OpAddedDraft     = "added_draft"
	OpReplacedDrafts = "replaced_drafts"
	OpRemovedDrafts  = "removed_drafts"

	OpAddedBlacklist   = "added_blacklist"
	OpRemovedBlacklist = "removed_blacklist"

	OpAddedScheduledMessage   = "added_scheduled_message"
	OpUpdatedScheduledMessage = "updated_scheduled_message"
	OpRemovedScheduledMessage = "removed_scheduled_message"

	OpAddedTemplate   = "added_template"
	OpUpdatedTemplate = "updated_template"
	OpRemovedTemplate = "removed_template"

	OpAddedAutoReply   = "added_auto_reply"
	OpUpdatedAutoReply = "updated_auto_reply"
	OpRemovedAutoReply = "removed_auto_reply"

	OpAddedFolder                  = "added_folder"
	OpAddConversationToFolder      = "add_conversation_to_folder"
	OpRemoveConversationFromFolder = "remove_conversation_from_folder"
	OpUpdatedFolder                = "updated_folder"
	OpRemovedFolder                = "removed_folder"

	OpUpdateSetting         = "update_setting"
	OpDismissedNotification = "dismissed_notification"
	OpUpdateSubscription    = "update_subscription"
	OpUpdatePrimaryDevice   = "update_primary_device"
	OpFeatureFlag           = "feature_flag"
	OpForwardToPhone        = "forward_to_phone"
)

// Operation is one decoded change notification. The set of implementations is closed;
// Processor.Handle switches over all of them.
type Operation interface {
	Name() string
	operation()
}

type op struct{}

func (op) operation() {}

// Account.

type RemovedAccount struct{ op }

type UpdatedAccount struct {
	op
	RealName    string
	PhoneNumber string
}

type CleanedAccount struct{ op }

// Messages.

type AddedMessage struct {
	op
	Message models.Message
}

type UpdateMessageType struct {
	op
	ID   int64
	Type models.MessageType
}

type UpdatedMessage struct {
	op
	ID        int64
	Type      models.MessageType
	Timestamp int64
	Read      bool
	Seen      bool
}

type RemovedMessage struct {
	op
	ID int64
}

type CleanupMessages struct {
	op
	Timestamp int64
}

type CleanupConversationMessages struct {
	op
	ConversationID int64
	Timestamp      int64
}

// Contacts.

type AddedContact struct {
	op
	Contact models.Contact
}

type UpdatedContact struct {
	op
	PhoneNumber string
	ContactName string
	Colors      models.ColorSet
}

type RemovedContact struct {
	op
	PhoneNumber string
}

type RemovedContactByID struct {
	op
	ID int64
}

// Conversations.

type AddedConversation struct {
	op
	Conversation models.Conversation
}

type UpdateConversationSnippet struct {
	op
	ID        int64
	Snippet   string
	Timestamp int64
	Read      bool
	Archive   bool
}

type UpdateConversationTitle struct {
	op
	ID    int64
	Title string
}

type UpdatedConversation struct {
	op
	Conversation models.Conversation
}

type RemovedConversation struct {
	op
	ID int64
}

type ReadConversation struct {
	op
	ID       int64
	DeviceID int64
}

type SeenConversation struct {
	op
	ID int64
}

type ArchiveConversation struct {
	op
	ID      int64
	Archive bool
}

type SeenConversations struct{ op }

// Drafts.

type AddedDraft struct {
	op
	Draft models.Draft
}

type ReplacedDrafts struct {
	op
	Draft models.Draft
}

type RemovedDrafts struct {
	op
	ConversationID int64
	DeviceID       int64
}

// Blacklist.

type AddedBlacklist struct {
	op
	Blacklist models.Blacklist
}

type RemovedBlacklist struct {
	op
	ID int64
}

// Scheduled messages.

type AddedScheduledMessage struct {
	op
	ScheduledMessage models.ScheduledMessage
}

type UpdatedScheduledMessage struct {
	op
	ScheduledMessage models.ScheduledMessage
}

type RemovedScheduledMessage struct {
	op
	ID int64
}

// Templates.

type AddedTemplate struct {
	op
	Template models.Template
}

type UpdatedTemplate struct {
	op
	Template models.Template
}

type RemovedTemplate struct {
	op
	ID int64
}

// Auto replies.

type AddedAutoReply struct {
	op
	AutoReply models.AutoReply
}

type UpdatedAutoReply struct {
	op
	AutoReply models.AutoReply
}

type RemovedAutoReply struct {
	op
	ID int64
}

// Folders.

type AddedFolder struct {
	op
	Folder models.Folder
}

type AddConversationToFolder struct {
	op
	ConversationID int64
	FolderID       int64
}

type RemoveConversationFromFolder struct {
	op
	ConversationID int64
}

type UpdatedFolder struct {
	op
	Folder models.Folder
}

type RemovedFolder struct {
	op
	ID int64
}

// Account-wide.

type UpdateSetting struct {
	op
	Setting models.Setting
}

type DismissedNotification struct {
	op
	ConversationID int64
	DeviceID       int64
}

type UpdateSubscription struct {
	op
	Type       int
	Expiration int64
}

type UpdatePrimaryDevice struct {
	op
	DeviceID int64
}

type FeatureFlag struct {
	op
	Identifier string
	Value      bool
	Rollout    int
}

// ForwardToPhone asks the primary device to send Text to the comma-separated To list.
type ForwardToPhone struct {
	op
	To         string
	Text       string
	MimeType   string
	SentDevice int64
}

func (RemovedAccount) Name() string               { return OpRemovedAccount }
func (UpdatedAccount) Name() string               { return OpUpdatedAccount }
func (CleanedAccount) Name() string               { return OpCleanedAccount }
func (AddedMessage) Name() string                 { return OpAddedMessage }
func (UpdateMessageType) Name() string            { return OpUpdateMessageType }
func (UpdatedMessage) Name() string               { return OpUpdatedMessage }
func (RemovedMessage) Name() string               { return OpRemovedMessage }
func (CleanupMessages) Name() string              { return OpCleanupMessages }
func (CleanupConversationMessages) Name() string  { return OpCleanupConversationMessages }
func (AddedContact) Name() string                 { return OpAddedContact }
func (UpdatedContact) Name() string               { return OpUpdatedContact }
func (RemovedContact) Name() string               { return OpRemovedContact }
func (RemovedContactByID) Name() string           { return OpRemovedContactByID }
func (AddedConversation) Name() string            { return OpAddedConversation }
func (UpdateConversationSnippet) Name() string    { return OpUpdateConversationSnippet }
func (UpdateConversationTitle) Name() string      { return OpUpdateConversationTitle }
func (UpdatedConversation) Name() string          { return OpUpdatedConversation }
func (RemovedConversation) Name() string          { return OpRemovedConversation }
func (ReadConversation) Name() string             { return OpReadConversation }
func (SeenConversation) Name() string             { return OpSeenConversation }
func (ArchiveConversation) Name() string          { return OpArchiveConversation }
func (SeenConversations) Name() string            { return OpSeenConversations }
func (AddedDraft) Name() string                   { return OpAddedDraft }
func (ReplacedDrafts) Name() string               { return OpReplacedDrafts }
func (RemovedDrafts) Name() string                { return OpRemovedDrafts }
func (AddedBlacklist) Name() string               { return OpAddedBlacklist }
func (RemovedBlacklist) Name() string             { return OpRemovedBlacklist }
func (AddedScheduledMessage) Name() string        { return OpAddedScheduledMessage }
func (UpdatedScheduledMessage) Name() string      { return OpUpdatedScheduledMessage }
func (RemovedScheduledMessage) Name() string      { return OpRemovedScheduledMessage }
func (AddedTemplate) Name() string                { return OpAddedTemplate }
func (UpdatedTemplate) Name() string              { return OpUpdatedTemplate }
func (RemovedTemplate) Name() string              { return OpRemovedTemplate }
func (AddedAutoReply) Name() string               { return OpAddedAutoReply }
func (UpdatedAutoReply) Name() string             { return OpUpdatedAutoReply }
func (RemovedAutoReply) Name() string             { return OpRemovedAutoReply }
func (AddedFolder) Name() string                  { return OpAddedFolder }
func (AddConversationToFolder) Name() string      { return OpAddConversationToFolder }
func (RemoveConversationFromFolder) Name() string { return OpRemoveConversationFromFolder }
func (UpdatedFolder) Name() string                { return OpUpdatedFolder }
func (RemovedFolder) Name() string                { return OpRemovedFolder }
func (UpdateSetting) Name() string                { return OpUpdateSetting }
func (DismissedNotification) Name() string        { return OpDismissedNotification }
func (UpdateSubscription) Name() string           { return OpUpdateSubscription }
func (UpdatePrimaryDevice) Name() string          { return OpUpdatePrimaryDevice }
func (FeatureFlag) Name() string                  { return OpFeatureFlag }
func (ForwardToPhone) Name() string               { return OpForwardToPhone }
