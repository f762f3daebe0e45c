package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
)

const (
	AudioDirName  = "music"
	MotionDirName = "motion"
	lockFileName  = ".lock"

	idLength    = 8
	maxAttempts = 16
)

var ErrRunLocked = errors.New("run directory is locked by another process")

// RunContext - изолированное рабочее пространство одного запуска пайплайна.
type RunContext struct {
	ID        string
	BaseDir   string
	AudioDir  string
	MotionDir string
}

// Manager выдает RunContext с уникальными идентификаторами. Каталоги не
// создаются при выделении: каждая стадия создает нужный ей каталог сама.
type Manager struct {
	root   string
	newID  func() string
	mu     sync.Mutex
	issued map[string]struct{}
}

func NewManager(root string) *Manager {
	return &Manager{
		root:   root,
		newID:  newRunID,
		issued: make(map[string]struct{}),
	}
}

func newRunID() string {
	return uuid.NewString()[:idLength]
}

// Allocate выделяет новый RunContext. Идентификатор не совпадает ни с одним
// выданным этим менеджером, ни с существующим каталогом под root.
func (m *Manager) Allocate() (*RunContext, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for attempt := 0; attempt < maxAttempts; attempt++ {
		id := m.newID()
		if _, dup := m.issued[id]; dup {
			continue
		}

		base := filepath.Join(m.root, id)
		if _, err := os.Lstat(base); err == nil {
			continue
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("проверка каталога запуска %s: %w", base, err)
		}

		m.issued[id] = struct{}{}
		return &RunContext{
			ID:        id,
			BaseDir:   base,
			AudioDir:  filepath.Join(base, AudioDirName),
			MotionDir: filepath.Join(base, MotionDirName),
		}, nil
	}

	return nil, fmt.Errorf("не удалось выделить уникальный идентификатор запуска за %d попыток", maxAttempts)
}

// EnsureDir создает каталог, если его нет. Повторный вызов - не ошибка.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("создание каталога %s: %w", dir, err)
	}
	return nil
}

// Lock берет advisory-блокировку каталога запуска на время работы пайплайна,
// чтобы reaper не удалил его. Возвращает функцию освобождения.
func (rc *RunContext) Lock() (func() error, error) {
	if err := EnsureDir(rc.BaseDir); err != nil {
		return nil, err
	}
	return tryLock(rc.BaseDir)
}

func tryLock(dir string) (func() error, error) {
	fl := flock.New(filepath.Join(dir, lockFileName))
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("блокировка %s: %w", dir, err)
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", dir, ErrRunLocked)
	}
	return fl.Unlock, nil
}
