package story

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/taleforge-client/internal/engine"
	"github.com/DoyleJ11/taleforge-client/pkg/errs"
	"github.com/DoyleJ11/taleforge-client/pkg/types"
)

func strp(s string) *string { return &s }

func rolep(r types.Role) *types.Role { return &r }

func finished() Document {
	done := time.Date(2026, 3, 1, 21, 0, 0, 0, time.UTC)
	t0 := done.Add(-time.Hour)
	return Document{
		Room: types.Room{
			RoomCode:    "ABC123",
			Title:       strp("The Lost Keys!"),
			Description: strp("A small heist gone wrong."),
			Genre:       types.GenreMystery,
			Duration:    900,
			Status:      types.StatusCompleted,
			CompletedAt: &done,
		},
		Players: []types.Player{
			{ID: "p1", PlayerName: "Ana", IsTitleCreator: true, CharacterName: strp("Captain Vell"), Role: rolep(types.RoleSideCharacter)},
			{ID: "p2", PlayerName: "Bo", Role: rolep(types.RoleNarrator)},
		},
		Transcript: []types.ChatMessage{
			{ID: "m2", Content: "The vault was empty.", MessageType: types.MessageTwist, SenderName: "Bo", Timestamp: t0.Add(2 * time.Minute)},
			{ID: "s1", Content: "Storytelling has begun", MessageType: types.MessageSystem, Timestamp: t0},
			{ID: "m1", Content: "We crept inside.", MessageType: types.MessageRegular, SenderName: "Ana", Timestamp: t0.Add(time.Minute)},
		},
	}
}

func TestMarkdown(t *testing.T) {
	got := string(Markdown(finished()))

	want := "# The Lost Keys!\n\n" +
		"A small heist gone wrong.\n\n" +
		"## Characters\n\n" +
		"- **Captain Vell** (SIDE CHARACTER)\n" +
		"- **Bo** (NARRATOR)\n" +
		"\n## Story\n\n" +
		"**Ana**: We crept inside.\n\n" +
		"**Bo (BIG TWIST)**: The vault was empty." +
		"\n\n---\n*Created with TaleForge on 2026-03-01*\n"
	assert.Equal(t, want, got)
	assert.NotContains(t, got, "Storytelling has begun")
}

func TestMarkdown_FooterWithoutCompletionTime(t *testing.T) {
	doc := finished()
	doc.Room.CompletedAt = nil

	first := Markdown(doc)
	assert.Equal(t, first, Markdown(doc))
	assert.True(t, strings.HasSuffix(string(first), "*Created with TaleForge on 2026-03-01*\n"), string(first))

	doc.Transcript = nil
	assert.True(t, strings.HasSuffix(string(Markdown(doc)), "---\n*Created with TaleForge*\n"))
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "the_lost_keys_.md", FileName(finished().Room))
	assert.Equal(t, "story_abc123.md", FileName(types.Room{RoomCode: "ABC123"}))
}

type MockDownloader struct {
	mock.Mock
}

func (m *MockDownloader) DownloadStory(ctx context.Context, code string) ([]byte, error) {
	args := m.Called(ctx, code)
	b, _ := args.Get(0).([]byte)
	return b, args.Error(1)
}

type MockArchiver struct {
	mock.Mock
}

func (m *MockArchiver) Save(ctx context.Context, doc Document, markdown []byte) error {
	return m.Called(ctx, doc, markdown).Error(0)
}

func TestExporter_PrefersBackendCopy(t *testing.T) {
	dl := new(MockDownloader)
	dl.On("DownloadStory", mock.Anything, "ABC123").Return([]byte("# From the backend\n"), nil).Once()

	e := NewExporter(t.TempDir(), dl, nil, nil)
	body, err := e.Render(context.Background(), finished())
	require.NoError(t, err)
	assert.Equal(t, "# From the backend\n", string(body))
	dl.AssertExpectations(t)
}

func TestExporter_FallsBackToLocalRender(t *testing.T) {
	dl := new(MockDownloader)
	dl.On("DownloadStory", mock.Anything, "ABC123").Return(nil, fmt.Errorf("download story: %w", errs.ErrNetwork)).Once()

	e := NewExporter(t.TempDir(), dl, nil, nil)
	body, err := e.Render(context.Background(), finished())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(body), "# The Lost Keys!"))
}

func TestExporter_ExportWritesAndArchives(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "stories")
	doc := finished()
	want := Markdown(doc)

	arch := new(MockArchiver)
	arch.On("Save", mock.Anything, doc, want).Return(errors.New("db down")).Once()

	e := NewExporter(dir, nil, arch, nil)
	path, err := e.Export(context.Background(), doc)
	require.NoError(t, err, "archive failures must not fail the export")
	assert.Equal(t, filepath.Join(dir, "the_lost_keys_.md"), path)

	onDisk, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, want, onDisk)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
	arch.AssertExpectations(t)
}

func TestExporter_RefusesUnfinishedStory(t *testing.T) {
	doc := finished()
	doc.Room.Status = types.StatusStorytelling

	e := NewExporter(t.TempDir(), nil, nil, nil)
	_, err := e.Export(context.Background(), doc)
	assert.ErrorIs(t, err, engine.ErrWrongPhase)
	assert.True(t, IsUnavailable(err))
}
