package workspace

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// RunInfo describes a run directory found under the workspace root.
type RunInfo struct {
	ID       string
	Dir      string
	ModTime  time.Time
	Manifest *Manifest
}

// Created returns the manifest creation time, falling back to the directory mtime.
func (r RunInfo) Created() time.Time {
	if r.Manifest != nil && !r.Manifest.CreatedAt.IsZero() {
		return r.Manifest.CreatedAt
	}
	return r.ModTime
}

// List returns run directories under root, newest first.
func List(root string) ([]RunInfo, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var runs []RunInfo
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}

		dir := filepath.Join(root, entry.Name())
		run := RunInfo{ID: entry.Name(), Dir: dir, ModTime: info.ModTime()}

		m, err := ReadManifest(dir)
		switch {
		case err == nil:
			run.Manifest = m
		case !os.IsNotExist(err):
			log.Printf("[!] Не удалось прочитать манифест %s: %v", dir, err)
		}

		runs = append(runs, run)
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].Created().After(runs[j].Created())
	})

	return runs, nil
}

// Reap удаляет каталоги запусков старше olderThan. Каталоги, заблокированные
// активным пайплайном, пропускаются.
func Reap(root string, olderThan time.Duration, now time.Time) ([]string, error) {
	runs, err := List(root)
	if err != nil {
		return nil, err
	}

	var removed []string
	for _, run := range runs {
		if now.Sub(run.Created()) < olderThan {
			continue
		}

		unlock, err := tryLock(run.Dir)
		if err != nil {
			if errors.Is(err, ErrRunLocked) {
				log.Printf("[*] Запуск %s активен, пропускаем", run.ID)
				continue
			}
			return removed, err
		}

		rmErr := os.RemoveAll(run.Dir)
		unlock()
		if rmErr != nil {
			return removed, fmt.Errorf("удаление %s: %w", run.Dir, rmErr)
		}
		removed = append(removed, run.ID)
	}

	return removed, nil
}
