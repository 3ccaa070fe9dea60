package models

import "testing"

func TestNormalizePhoneNumbers(t *testing.T) {
	cases := map[string]string{
		"+1 (555) 010-2000":            "+15550102000",
		"5550102000, +1 555 010 2001":  "+15550102001, 5550102000",
		" 555-0100 ,555 0100, ":        "5550100",
		"someone@example.com, 5550100": "5550100, someone@example.com",
		"":                             "",
	}
	for input, want := range cases {
		if got := NormalizePhoneNumbers(input); got != want {
			t.Fatalf("NormalizePhoneNumbers(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestMessageMediaHelpers(t *testing.T) {
	text := Message{Data: "hi", MimeType: MimeTextPlain}
	if !text.IsText() || text.NeedsMediaDownload() {
		t.Fatalf("text message misclassified: %+v", text)
	}

	pending := Message{Data: MediaPlaceholder, MimeType: "image/jpeg"}
	if pending.IsText() || !pending.NeedsMediaDownload() {
		t.Fatalf("pending media message misclassified: %+v", pending)
	}
	if SnippetFor(pending) != "Image" {
		t.Fatalf("unexpected media snippet %q", SnippetFor(pending))
	}

	downloaded := Message{Data: "file:///media/1.jpg", MimeType: "image/jpeg"}
	if downloaded.NeedsMediaDownload() {
		t.Fatalf("downloaded media must not need download")
	}
}
