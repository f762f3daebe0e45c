// Package pose reads and writes pose-sequence artifacts produced by the
// motion model: T pose vectors of PoseWidth axis-angle components and an
// optional T×3 translation track.
package pose

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	// PoseWidth is 24 joints × 3 axis-angle components. The first three
	// components are the global orientation.
	PoseWidth        = 72
	TranslationWidth = 3
)

var ErrEmptySequence = errors.New("pose sequence has no frames")

// Sequence is a decoded pose artifact. Poses and Translations always have
// the same length once built through New.
type Sequence struct {
	Poses        [][]float64
	Translations [][]float64
	// HadTranslations reports whether the artifact carried a translation
	// track or zero vectors were substituted.
	HadTranslations bool
}

// New validates poses and translations and substitutes zero translations
// when trans is nil.
func New(poses, trans [][]float64) (*Sequence, error) {
	if len(poses) == 0 {
		return nil, ErrEmptySequence
	}
	for i, p := range poses {
		if len(p) != PoseWidth {
			return nil, fmt.Errorf("pose %d has %d components, want %d", i, len(p), PoseWidth)
		}
	}

	s := &Sequence{Poses: poses, HadTranslations: trans != nil}
	if trans == nil {
		trans = make([][]float64, len(poses))
		for i := range trans {
			trans[i] = make([]float64, TranslationWidth)
		}
	}
	if len(trans) != len(poses) {
		return nil, fmt.Errorf("%d translations for %d poses", len(trans), len(poses))
	}
	for i, t := range trans {
		if len(t) != TranslationWidth {
			return nil, fmt.Errorf("translation %d has %d components, want %d", i, len(t), TranslationWidth)
		}
	}
	s.Translations = trans
	return s, nil
}

// Len returns the number of frames T.
func (s *Sequence) Len() int { return len(s.Poses) }

// Frame splits frame i into global orientation, body joint rotations and
// translation.
func (s *Sequence) Frame(i int) (global, body, transl []float64) {
	p := s.Poses[i]
	return p[:3], p[3:], s.Translations[i]
}

// Load decodes the artifact at path, choosing the codec by extension.
func Load(path string) (*Sequence, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var poses, trans [][]float64
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".pkl", ".pickle":
		poses, trans, err = decodePickle(f)
	case ".json", ".yaml", ".yml":
		poses, trans, err = decodeDocument(f)
	default:
		return nil, fmt.Errorf("unsupported pose format %q", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}

	s, err := New(poses, trans)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return s, nil
}

// Save writes s as YAML or JSON depending on the extension of path.
// Translations are omitted when the source had none.
func Save(path string, s *Sequence) error {
	var (
		data []byte
		err  error
	)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		data, err = encodeJSON(s)
	case ".yaml", ".yml":
		data, err = encodeYAML(s)
	default:
		return fmt.Errorf("unsupported output format %q", ext)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// lookup returns the first present key of m.
func lookup(get func(string) (any, bool), keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := get(k); ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

var (
	poseKeys  = []string{"smpl_poses", "poses"}
	transKeys = []string{"smpl_trans", "translations", "trans"}
)
