// ABOUTME: Renders a conversation transcript as markdown, plain text, JSON or HTML
// ABOUTME: HTML is the markdown rendering passed through goldmark

package export

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/paradiselabs-ai/AgentMix/internal/store"
)

// ErrUnknownFormat is returned for an unsupported export format.
var ErrUnknownFormat = errors.New("unknown export format")

// Format names a transcript rendering.
type Format string

const (
	Markdown Format = "markdown"
	Text     Format = "text"
	JSON     Format = "json"
	HTML     Format = "html"
)

// ParseFormat maps a query value to a Format. Empty means markdown.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "markdown", "md":
		return Markdown, nil
	case "text", "txt":
		return Text, nil
	case "json":
		return JSON, nil
	case "html":
		return HTML, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

// ContentType returns the MIME type served for f.
func (f Format) ContentType() string {
	switch f {
	case Text:
		return "text/plain; charset=utf-8"
	case JSON:
		return "application/json"
	case HTML:
		return "text/html; charset=utf-8"
	default:
		return "text/markdown; charset=utf-8"
	}
}

// Extension returns the file extension for f, without the dot.
func (f Format) Extension() string {
	switch f {
	case Text:
		return "txt"
	case JSON:
		return "json"
	case HTML:
		return "html"
	default:
		return "md"
	}
}

// Document is a transcript snapshot to render.
type Document struct {
	Conversation *store.Conversation
	Messages     []*store.Message
	ExportedAt   time.Time
}

var unsafeFileChars = regexp.MustCompile(`[^a-z0-9]+`)

// FileName returns a download name like "q3_budget_2026-10-19.md".
func (d *Document) FileName(f Format) string {
	name := unsafeFileChars.ReplaceAllString(strings.ToLower(d.Conversation.Name), "_")
	name = strings.Trim(name, "_")
	if name == "" {
		name = "conversation"
	}
	return fmt.Sprintf("%s_%s.%s", name, d.ExportedAt.UTC().Format(time.DateOnly), f.Extension())
}

// Write renders doc to w in format f.
func Write(w io.Writer, f Format, doc *Document) error {
	switch f {
	case Markdown:
		_, err := io.WriteString(w, markdown(doc))
		return err
	case Text:
		_, err := io.WriteString(w, plainText(doc))
		return err
	case JSON:
		return writeJSON(w, doc)
	case HTML:
		return writeHTML(w, doc)
	}
	return fmt.Errorf("%w: %q", ErrUnknownFormat, f)
}

func senderLabel(m *store.Message) string {
	if m.SenderName != "" {
		return m.SenderName
	}
	return "Unknown"
}

func kindLabel(k store.SenderKind) string {
	switch k {
	case store.SenderAgent:
		return "Agent"
	case store.SenderHuman:
		return "Human"
	case store.SenderSystem:
		return "System"
	}
	return "Sender"
}

func stamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func markdown(doc *Document) string {
	conv := doc.Conversation
	var b strings.Builder

	fmt.Fprintf(&b, "# %s\n\n", conv.Name)
	if conv.Description != "" {
		fmt.Fprintf(&b, "%s\n\n", conv.Description)
	}
	fmt.Fprintf(&b, "**Conversation ID:** %s\n", conv.ID)
	fmt.Fprintf(&b, "**Status:** %s\n", conv.Status)
	fmt.Fprintf(&b, "**Created:** %s\n", stamp(conv.CreatedAt))
	fmt.Fprintf(&b, "**Total Messages:** %d\n\n", len(doc.Messages))
	b.WriteString("---\n\n")

	for i, m := range doc.Messages {
		fmt.Fprintf(&b, "## Message %d\n\n", i+1)
		fmt.Fprintf(&b, "**%s:** %s\n", kindLabel(m.SenderKind), senderLabel(m))
		fmt.Fprintf(&b, "**Time:** %s\n\n", stamp(m.CreatedAt))
		fmt.Fprintf(&b, "%s\n\n", m.Content)
		b.WriteString("---\n\n")
	}

	return b.String()
}

func plainText(doc *Document) string {
	conv := doc.Conversation
	var b strings.Builder

	fmt.Fprintf(&b, "%s\n%s\n\n", conv.Name, strings.Repeat("=", len(conv.Name)))
	fmt.Fprintf(&b, "Conversation ID: %s\n", conv.ID)
	fmt.Fprintf(&b, "Status: %s\n", conv.Status)
	fmt.Fprintf(&b, "Created: %s\n", stamp(conv.CreatedAt))
	fmt.Fprintf(&b, "Total Messages: %d\n\n", len(doc.Messages))

	for _, m := range doc.Messages {
		fmt.Fprintf(&b, "[%s] %s:\n%s\n\n", stamp(m.CreatedAt), senderLabel(m), m.Content)
	}

	return b.String()
}

type jsonConversation struct {
	ID           string                   `json:"id"`
	Name         string                   `json:"name"`
	Description  string                   `json:"description,omitempty"`
	Status       store.ConversationStatus `json:"status"`
	Participants []string                 `json:"participants"`
	CreatedAt    time.Time                `json:"created_at"`
	ExportedAt   time.Time                `json:"exported_at"`
}

type jsonMessage struct {
	Index      int              `json:"index"`
	Seq        int64            `json:"seq"`
	SenderKind store.SenderKind `json:"sender_kind"`
	SenderName string           `json:"sender_name"`
	Content    string           `json:"content"`
	CreatedAt  time.Time        `json:"created_at"`
}

func writeJSON(w io.Writer, doc *Document) error {
	conv := doc.Conversation
	out := struct {
		Conversation jsonConversation `json:"conversation"`
		Messages     []jsonMessage    `json:"messages"`
	}{
		Conversation: jsonConversation{
			ID:           conv.ID,
			Name:         conv.Name,
			Description:  conv.Description,
			Status:       conv.Status,
			Participants: conv.Participants,
			CreatedAt:    conv.CreatedAt.UTC(),
			ExportedAt:   doc.ExportedAt.UTC(),
		},
		Messages: make([]jsonMessage, 0, len(doc.Messages)),
	}
	for i, m := range doc.Messages {
		out.Messages = append(out.Messages, jsonMessage{
			Index:      i + 1,
			Seq:        m.Seq,
			SenderKind: m.SenderKind,
			SenderName: senderLabel(m),
			Content:    m.Content,
			CreatedAt:  m.CreatedAt.UTC(),
		})
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("encoding transcript: %w", err)
	}
	return nil
}

var renderer = goldmark.New(goldmark.WithExtensions(extension.GFM))

func writeHTML(w io.Writer, doc *Document) error {
	var body bytes.Buffer
	if err := renderer.Convert([]byte(markdown(doc)), &body); err != nil {
		return fmt.Errorf("rendering markdown: %w", err)
	}

	_, err := fmt.Fprintf(w, `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>%s</title>
</head>
<body>
%s</body>
</html>
`, html.EscapeString(doc.Conversation.Name), body.String())
	return err
}
