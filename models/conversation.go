package models

import "strings"

// ColorSet is the theme attached to conversations, contacts and folders.
type ColorSet struct {
	Color       int
	ColorDark   int
	ColorLight  int
	ColorAccent int
	LedColor    int
}

// Conversation is one thread with a fixed set of participants.
type Conversation struct {
	ID           int64
	Title        string
	PhoneNumbers string
	Snippet      string
	Ringtone     string
	IDMatcher    string
	ImageURI     string
	Colors       ColorSet
	Pinned       bool
	Read         bool
	Mute         bool
	Archived     bool
	Private      bool
	FolderID     *int64
	Timestamp    int64
}

// SnippetFor returns the conversation-list preview of a message.
func SnippetFor(m Message) string {
	if m.IsText() {
		return m.Data
	}

	switch {
	case strings.HasPrefix(m.MimeType, "image/"):
		return "Image"
	case strings.HasPrefix(m.MimeType, "video/"):
		return "Video"
	case strings.HasPrefix(m.MimeType, "audio/"):
		return "Audio"
	default:
		return "Media"
	}
}
