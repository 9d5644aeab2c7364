package capture

import (
	"fmt"
	"sync"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"

	"ledgerlens/internal/cache"
	"ledgerlens/internal/core"
)

const (
	DefaultPreviewTTL = time.Hour
	maxPreviews       = 64
)

// Preview is a pending batch of candidates awaiting confirm or cancel.
type Preview struct {
	ID         string      `json:"id"`
	Source     core.Source `json:"source"`
	Filename   string      `json:"filename,omitempty"`
	Candidates []Candidate `json:"candidates"`
	Degraded   bool        `json:"degraded,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
}

func (p *Preview) clone() Preview {
	out := *p
	out.Candidates = make([]Candidate, len(p.Candidates))
	for i, c := range p.Candidates {
		out.Candidates[i] = c.clone()
	}
	return out
}

// Previews holds pending previews. A preview expires once it has been left
// untouched for the TTL; reading or editing it restarts the clock.
type Previews struct {
	mu        sync.Mutex
	items     *cache.LRUCache[*Preview]
	onDiscard func(Preview, cache.EvictReason)
}

func NewPreviews(ttl time.Duration) *Previews {
	if ttl <= 0 {
		ttl = DefaultPreviewTTL
	}
	s := &Previews{}
	s.items = cache.NewLRUCache[*Preview](maxPreviews, ttl,
		cache.WithSlidingExpiry[*Preview](),
		cache.WithEvictHook(s.discarded))
	return s
}

// OnDiscard registers fn for previews dropped without confirm or cancel,
// either expired or displaced by newer imports. Register before first use.
func (s *Previews) OnDiscard(fn func(Preview, cache.EvictReason)) {
	s.onDiscard = fn
}

func (s *Previews) discarded(_ string, p *Preview, reason cache.EvictReason) {
	if s.onDiscard != nil {
		s.onDiscard(p.clone(), reason)
	}
}

// Cleaner exposes the store to the cache manager.
func (s *Previews) Cleaner() cache.Cleaner {
	return s.items
}

func (s *Previews) Create(source core.Source, filename string, ext Extraction) Preview {
	p := &Preview{
		ID:         uuid.NewString(),
		Source:     source,
		Filename:   filename,
		Candidates: ext.Candidates,
		Degraded:   ext.Degraded,
		CreatedAt:  time.Now().UTC(),
	}
	if p.Candidates == nil {
		p.Candidates = []Candidate{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items.Set(p.ID, p)
	return p.clone()
}

func (s *Previews) Get(id string) (Preview, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.items.Get(id)
	if !ok {
		return Preview{}, fmt.Errorf("preview %s: %w", id, core.ErrNotFound)
	}
	return p.clone(), nil
}

func (s *Previews) candidate(p *Preview, index int) error {
	if index < 0 || index >= len(p.Candidates) {
		return fmt.Errorf("candidate %d: %w", index, core.ErrNotFound)
	}
	return nil
}

// Edit merges e into one candidate.
func (s *Previews) Edit(id string, index int, e Edit) (Preview, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.items.Get(id)
	if !ok {
		return Preview{}, fmt.Errorf("preview %s: %w", id, core.ErrNotFound)
	}
	if err := s.candidate(p, index); err != nil {
		return Preview{}, err
	}
	c, err := p.Candidates[index].Apply(e)
	if err != nil {
		return Preview{}, err
	}
	p.Candidates[index] = c
	return p.clone(), nil
}

// Drop removes one candidate from the preview.
func (s *Previews) Drop(id string, index int) (Preview, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.items.Get(id)
	if !ok {
		return Preview{}, fmt.Errorf("preview %s: %w", id, core.ErrNotFound)
	}
	if err := s.candidate(p, index); err != nil {
		return Preview{}, err
	}
	p.Candidates = append(p.Candidates[:index], p.Candidates[index+1:]...)
	return p.clone(), nil
}

// Commit hands the preview to fn while holding the store lock, so a preview
// is committed at most once. The preview is removed only if fn succeeds.
func (s *Previews) Commit(id string, fn func(Preview) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.items.Get(id)
	if !ok {
		return fmt.Errorf("preview %s: %w", id, core.ErrNotFound)
	}
	if err := fn(p.clone()); err != nil {
		return err
	}
	s.items.Delete(id)
	return nil
}

// Cancel discards the preview.
func (s *Previews) Cancel(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items.Take(id); !ok {
		return fmt.Errorf("preview %s: %w", id, core.ErrNotFound)
	}
	return nil
}

// Expenses validates every candidate and converts them, all or nothing.
// Validation errors are keyed by candidate position, "candidates[i]".
func (p Preview) Expenses(newID func() string) ([]core.Expense, error) {
	out := make([]core.Expense, 0, len(p.Candidates))
	errs := validation.Errors{}
	for i, c := range p.Candidates {
		if err := c.Validate(); err != nil {
			errs[fmt.Sprintf("candidates[%d]", i)] = err
			continue
		}
		out = append(out, c.Expense(newID()))
	}
	if len(errs) > 0 {
		return nil, errs
	}
	return out, nil
}
