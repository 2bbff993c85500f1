package dialog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"bookreader/backends"
	"bookreader/dispatch"
	"bookreader/document"
	"bookreader/metrics"
	"bookreader/params"
)

var (
	// ErrNoBackend is returned when no backend is selected or none is registered.
	ErrNoBackend = errors.New("no backend selected")
	// ErrNoSelection is returned when confirming without selected text.
	ErrNoSelection = errors.New("no text selected")
)

// Dispatcher runs generation jobs off the owning loop.
type Dispatcher interface {
	Dispatch(job dispatch.Job, deliver func(dispatch.Result)) *dispatch.Handle
}

// Session is one open generation dialog. Backends are constructed the first
// time they are selected and live until the session is closed; each gets its
// own parameter panel, built once.
type Session struct {
	mu            sync.Mutex
	factories     []backends.Factory
	instances     []backends.Backend
	panels        []*params.Collection
	active        int
	dispatcher    Dispatcher
	captionLength int
	log           zerolog.Logger
}

// NewSession opens a dialog over factories. Nothing is constructed until Select.
func NewSession(factories []backends.Factory, dispatcher Dispatcher, captionLength int, log zerolog.Logger) (*Session, error) {
	if len(factories) == 0 {
		return nil, fmt.Errorf("dialog: %w: no backends registered", ErrNoBackend)
	}
	return &Session{
		factories:     factories,
		instances:     make([]backends.Backend, len(factories)),
		panels:        make([]*params.Collection, len(factories)),
		active:        -1,
		dispatcher:    dispatcher,
		captionLength: captionLength,
		log:           log.With().Str("component", "dialog").Logger(),
	}, nil
}

// Names lists the backend display names, in slot order.
func (s *Session) Names() []string {
	names := make([]string, len(s.factories))
	for i, f := range s.factories {
		names[i] = f.Name
	}
	return names
}

// IndexOf returns the slot of the backend called name.
func (s *Session) IndexOf(name string) (int, bool) {
	for i, f := range s.factories {
		if strings.EqualFold(f.Name, name) {
			return i, true
		}
	}
	return -1, false
}

// Select makes the backend at index active, constructing it and its
// parameter panel on first use. A failed construction leaves the slot empty
// and the previous selection active.
func (s *Session) Select(ctx context.Context, index int) (backends.Backend, *params.Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if index < 0 || index >= len(s.factories) {
		return nil, nil, fmt.Errorf("dialog: backend index %d out of range", index)
	}
	if s.instances[index] == nil {
		f := s.factories[index]
		b, err := f.New(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("dialog: construct backend %q: %w", f.Name, err)
		}
		panel, err := params.NewCollectionFor(b.GenerationParams())
		if err != nil {
			return nil, nil, fmt.Errorf("dialog: build parameters for %q: %w", f.Name, err)
		}
		s.instances[index] = b
		s.panels[index] = panel
		s.log.Debug().Str("backend", f.Name).Msg("backend constructed")
	}
	s.active = index
	return s.instances[index], s.panels[index], nil
}

// Active returns the selected backend and its panel.
func (s *Session) Active() (backends.Backend, *params.Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeLocked()
}

func (s *Session) activeLocked() (backends.Backend, *params.Collection, error) {
	if s.active < 0 {
		return nil, nil, ErrNoBackend
	}
	return s.instances[s.active], s.panels[s.active], nil
}

// Snapshot is the active backend of a session and its parameter values keyed by label.
type Snapshot struct {
	Backend               backends.Backend
	Index                 int
	NegativePromptEnabled bool
	Values                map[string]any
}

// Snapshot reads the active backend and every panel value under the session
// lock, so it never observes a SetValue half-applied.
func (s *Session) Snapshot() (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, panel, err := s.activeLocked()
	if err != nil {
		return Snapshot{Index: -1}, err
	}
	values := make(map[string]any)
	for _, label := range panel.Labels() {
		values[label], _ = panel.ValueForLabel(label)
	}
	return Snapshot{
		Backend:               b,
		Index:                 s.active,
		NegativePromptEnabled: b.SupportsNegativePrompt(),
		Values:                values,
	}, nil
}

// NegativePromptEnabled reports whether the negative prompt input should be enabled.
func (s *Session) NegativePromptEnabled() bool {
	b, _, err := s.Active()
	return err == nil && b.SupportsNegativePrompt()
}

// SetValue sets a parameter of the active backend by its display label.
func (s *Session) SetValue(label string, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, panel, err := s.activeLocked()
	if err != nil {
		return err
	}
	return panel.SetValue(label, v)
}

// BuildRequest assembles a request from the active panel. The negative
// prompt is dropped when the backend does not support one.
func (s *Session) BuildRequest(positive, negative string) (backends.Backend, backends.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, panel, err := s.activeLocked()
	if err != nil {
		return nil, backends.Request{}, err
	}
	values, err := panel.Values(b.GenerationParams())
	if err != nil {
		return nil, backends.Request{}, fmt.Errorf("dialog: %s: %w", b.Name(), err)
	}
	if !b.SupportsNegativePrompt() {
		negative = ""
	}
	req, err := backends.RequestFromValues(values, positive, negative)
	if err != nil {
		return nil, backends.Request{}, fmt.Errorf("dialog: %s: %w", b.Name(), err)
	}
	return b, req, nil
}

// Confirm dispatches a generation for sel. The target block and caption are
// fixed here, before the job runs. An empty positive prompt uses the
// selected text. deliver is invoked exactly once on the owning loop.
func (s *Session) Confirm(sel document.Selection, positive, negative string, deliver func(dispatch.Result)) (*dispatch.Handle, error) {
	if strings.TrimSpace(sel.Text) == "" {
		return nil, ErrNoSelection
	}
	if strings.TrimSpace(positive) == "" {
		positive = sel.Text
	}
	b, req, err := s.BuildRequest(positive, negative)
	if err != nil {
		return nil, err
	}

	target := sel.EndBlock
	caption := document.Caption(sel.Text, s.captionLength)
	name := b.Name()

	s.log.Info().
		Str("backend", name).
		Str("model", req.Model).
		Int("width", req.Width).
		Int("height", req.Height).
		Int("target_block", target).
		Msg("generation requested")

	job := func(ctx context.Context) (document.Illustration, error) {
		start := time.Now()
		data, err := b.GenerateImage(ctx, req)
		metrics.GenerationDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.GenerationsTotal.WithLabelValues(name, "error").Inc()
			return document.Illustration{}, err
		}
		metrics.GenerationsTotal.WithLabelValues(name, "ok").Inc()
		return document.Illustration{ImageData: data, TargetBlock: target, Caption: caption}, nil
	}
	return s.dispatcher.Dispatch(job, deliver), nil
}

// Close discards every constructed backend and panel.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.instances {
		s.instances[i] = nil
		s.panels[i] = nil
	}
	s.active = -1
}
