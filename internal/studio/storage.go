package studio

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"scene-gen/internal/common/apperr"

	"github.com/google/uuid"
)

// ============================================================
// File Storage
// ============================================================

// FilesPrefix: URL-префикс, под которым раздаются загруженные изображения.
const FilesPrefix = "/files"

var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".webp": true,
	".gif":  true,
	".svg":  true,
}

type FileStorage struct {
	root string
}

func NewFileStorage(root string) *FileStorage {
	return &FileStorage{root: root}
}

func (s *FileStorage) Root() string {
	return s.root
}

func (s *FileStorage) ProjectDir(projectID int64) string {
	return filepath.Join(s.root, strconv.FormatInt(projectID, 10))
}

func (s *FileStorage) EnsureProjectDir(projectID int64) error {
	if err := os.MkdirAll(s.ProjectDir(projectID), 0o755); err != nil {
		return fmt.Errorf("mkdir project dir: %w", err)
	}
	return nil
}

// SaveImage сохраняет изображение под случайным именем и возвращает ссылку /files/<project>/<name>.
func (s *FileStorage) SaveImage(projectID int64, filename string, data []byte) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if !imageExtensions[ext] {
		return "", apperr.InvalidInput(fmt.Sprintf("unsupported image type %q", ext))
	}
	if len(data) == 0 {
		return "", apperr.InvalidInput("empty file")
	}
	if err := s.EnsureProjectDir(projectID); err != nil {
		return "", err
	}

	name := uuid.NewString() + ext
	if err := os.WriteFile(filepath.Join(s.ProjectDir(projectID), name), data, 0o644); err != nil {
		return "", fmt.Errorf("write image: %w", err)
	}
	return path.Join(FilesPrefix, strconv.FormatInt(projectID, 10), name), nil
}

// Resolve переводит ссылку /files/... в путь на диске.
func (s *FileStorage) Resolve(ref string) (string, bool) {
	rel, ok := strings.CutPrefix(ref, FilesPrefix+"/")
	if !ok {
		return "", false
	}
	clean := filepath.Clean(filepath.FromSlash(rel))
	if clean == "." || strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", false
	}
	return filepath.Join(s.root, clean), true
}
