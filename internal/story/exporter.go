package story

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/DoyleJ11/taleforge-client/internal/engine"
	"github.com/DoyleJ11/taleforge-client/pkg/errs"
	"github.com/DoyleJ11/taleforge-client/pkg/types"
)

type Downloader interface {
	DownloadStory(ctx context.Context, code string) ([]byte, error)
}

// Archiver keeps finished stories somewhere durable.
type Archiver interface {
	Save(ctx context.Context, doc Document, markdown []byte) error
}

type Exporter struct {
	dir     string
	dl      Downloader
	archive Archiver
	log     *slog.Logger
}

// NewExporter writes into dir. dl and archive may be nil.
func NewExporter(dir string, dl Downloader, archive Archiver, log *slog.Logger) *Exporter {
	if log == nil {
		log = slog.Default()
	}
	return &Exporter{dir: dir, dl: dl, archive: archive, log: log.With(slog.String("component", "story"))}
}

// Render returns the story text. The backend's copy wins when it has one;
// otherwise the story is rendered from the synchronized transcript.
func (e *Exporter) Render(ctx context.Context, doc Document) ([]byte, error) {
	if doc.Room.Status != types.StatusCompleted {
		return nil, engine.ErrWrongPhase
	}
	if e.dl != nil {
		body, err := e.dl.DownloadStory(ctx, doc.Room.RoomCode)
		switch {
		case err == nil && len(body) > 0:
			return body, nil
		case errors.Is(err, context.Canceled):
			return nil, err
		case err != nil:
			e.log.Debug("backend download unavailable, rendering locally",
				slog.String("room", doc.Room.RoomCode), slog.Any("err", err))
		}
	}
	return Markdown(doc), nil
}

// Export renders the story to a file under the export dir and archives it.
// Archive failures are logged, not returned.
func (e *Exporter) Export(ctx context.Context, doc Document) (string, error) {
	body, err := e.Render(ctx, doc)
	if err != nil {
		return "", err
	}

	path := filepath.Join(e.dir, FileName(doc.Room))
	if err := writeFile(e.dir, path, body); err != nil {
		return "", fmt.Errorf("export story: %w", err)
	}
	e.log.Info("story exported", slog.String("room", doc.Room.RoomCode), slog.String("path", path))

	if e.archive != nil {
		if err := e.archive.Save(ctx, doc, body); err != nil {
			e.log.Warn("story archive failed", slog.String("room", doc.Room.RoomCode), slog.Any("err", err))
		}
	}
	return path, nil
}

func writeFile(dir, path string, body []byte) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".story-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// IsUnavailable reports whether err means there is nothing to export yet.
func IsUnavailable(err error) bool {
	return errors.Is(err, engine.ErrWrongPhase) || errors.Is(err, errs.ErrNotFound)
}
