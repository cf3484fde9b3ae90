// Package story renders and saves finished stories.
package story

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/DoyleJ11/taleforge-client/internal/engine"
	"github.com/DoyleJ11/taleforge-client/pkg/types"
)

// Document is everything a finished story is rendered from.
type Document struct {
	Room       types.Room
	Players    []types.Player
	Transcript []types.ChatMessage
}

var unsafeName = regexp.MustCompile(`[^a-z0-9]`)

// FileName is the download name for a story, derived from its title.
func FileName(room types.Room) string {
	if !room.HasTitle() {
		return "story_" + strings.ToLower(room.RoomCode) + ".md"
	}
	return unsafeName.ReplaceAllString(strings.ToLower(*room.Title), "_") + ".md"
}

// Markdown renders the story: title, description, characters, then the story
// lines in timestamp order without SYSTEM messages.
func Markdown(doc Document) []byte {
	var b strings.Builder

	title := "Untitled story"
	if doc.Room.HasTitle() {
		title = *doc.Room.Title
	}
	fmt.Fprintf(&b, "# %s\n\n", title)
	if doc.Room.Description != nil && *doc.Room.Description != "" {
		fmt.Fprintf(&b, "%s\n\n", *doc.Room.Description)
	}

	b.WriteString("## Characters\n\n")
	for _, p := range doc.Players {
		fmt.Fprintf(&b, "- **%s** (%s)\n", p.DisplayName(), roleLabel(p.Role))
	}
	b.WriteString("\n## Story\n\n")

	lines := engine.StoryLines(doc.Transcript)
	for i, m := range lines {
		if i > 0 {
			b.WriteString("\n\n")
		}
		sender := m.SenderName
		if m.MessageType == types.MessageTwist {
			sender += " (BIG TWIST)"
		}
		fmt.Fprintf(&b, "**%s**: %s", sender, m.Content)
	}

	b.WriteString("\n\n---\n")
	if completed, ok := completedAt(doc); ok {
		fmt.Fprintf(&b, "*Created with TaleForge on %s*\n", completed.Format("2006-01-02"))
	} else {
		b.WriteString("*Created with TaleForge*\n")
	}
	return []byte(b.String())
}

// completedAt prefers the room's completion time and falls back to the last
// transcript entry, so the same story always renders the same bytes.
func completedAt(doc Document) (time.Time, bool) {
	if doc.Room.CompletedAt != nil {
		return *doc.Room.CompletedAt, true
	}
	var last time.Time
	for _, m := range doc.Transcript {
		if m.Timestamp.After(last) {
			last = m.Timestamp
		}
	}
	return last, !last.IsZero()
}

func roleLabel(r *types.Role) string {
	if r == nil {
		return "unassigned"
	}
	return strings.ReplaceAll(string(*r), "_", " ")
}
