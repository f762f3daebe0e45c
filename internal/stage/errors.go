package stage

import (
	"errors"
	"fmt"
	"strings"
)

const (
	StageAudio   = "audio"
	StageMotion  = "motion"
	StageRender  = "render"
	StagePublish = "publish"
)

var (
	ErrStageProcessFailure = errors.New("stage process failure")
	ErrArtifactNotFound    = errors.New("artifact not found")
	ErrRenderFailure       = errors.New("render failure")
	ErrStageTimeout        = errors.New("stage timeout")
)

// Error - ошибка стадии пайплайна. Kind - одна из sentinel-ошибок выше,
// Err - исходная причина. errors.Is работает для обеих.
type Error struct {
	Stage    string
	Kind     error
	Err      error
	ExitCode int
	Output   string
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %v", e.Stage, e.Kind)
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if out := strings.TrimSpace(e.Output); out != "" {
		fmt.Fprintf(&b, "\n%s", out)
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Wrap помечает err видом ошибки kind для стадии stage.
func Wrap(kind error, stage string, err error) error {
	return &Error{Stage: stage, Kind: kind, Err: err}
}

// Kind возвращает вид ошибки стадии или nil, если err не из пайплайна.
func Kind(err error) error {
	for _, kind := range []error{ErrStageTimeout, ErrStageProcessFailure, ErrArtifactNotFound, ErrRenderFailure} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
