package storage

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
)

// EngineArtifactStore складывает рабочие файлы запусков движка жеребьёвки
// в объектное хранилище под ключом engine-runs/<runID>/<имя файла>.
// Реализует pairing.ArtifactArchiver.
type EngineArtifactStore struct {
	uploader FileUploader
	prefix   string
}

func NewEngineArtifactStore(uploader FileUploader, prefix string) *EngineArtifactStore {
	if prefix == "" {
		prefix = "engine-runs"
	}
	return &EngineArtifactStore{uploader: uploader, prefix: prefix}
}

// ArchiveRun загружает файлы по их путям. Отсутствующие файлы
// пропускаются: при падении движка выходного файла может не быть,
// а частичный архив всё ещё полезен для диагностики.
func (s *EngineArtifactStore) ArchiveRun(ctx context.Context, runID string, files map[string]string) error {
	var firstErr error
	for name, filePath := range files {
		data, err := os.ReadFile(filePath)
		if err != nil {
			continue
		}
		key := path.Join(s.prefix, runID, name)
		if _, err := s.uploader.Upload(ctx, key, "text/plain; charset=utf-8", bytes.NewReader(data)); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to archive %s: %w", name, err)
		}
	}
	return firstErr
}
