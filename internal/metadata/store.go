package metadata

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"

	"video-autopost/internal/model"
	"video-autopost/internal/storage"
)

// DefaultHookID is used when the index defines no hooks.
const DefaultHookID = "default"

// Store reads and appends to the hook index document.
type Store struct {
	js  storage.JSONStore
	key string
	now func() time.Time
	mu  sync.Mutex
}

func NewStore(js storage.JSONStore, key string) *Store {
	if key == "" {
		key = "metadata.json"
	}
	return &Store{js: js, key: key, now: time.Now}
}

// Load returns the index; a missing document is an empty index.
func (s *Store) Load(ctx context.Context) (*model.MetadataIndex, error) {
	var idx model.MetadataIndex
	if _, err := s.js.ReadJSON(ctx, s.key, &idx); err != nil {
		return nil, fmt.Errorf("load %s: %w", s.key, err)
	}
	if idx.Hooks == nil {
		idx.Hooks = map[string]*model.Hook{}
	}
	// a hand-edited index may carry "hook": null
	for id, h := range idx.Hooks {
		if h == nil {
			idx.Hooks[id] = &model.Hook{}
		}
	}
	return &idx, nil
}

// ChooseHook picks the hook with the fewest recorded videos, breaking ties by
// id, so templates rotate across runs.
func (s *Store) ChooseHook(ctx context.Context) (string, model.Hook, error) {
	idx, err := s.Load(ctx)
	if err != nil {
		return "", model.Hook{}, err
	}
	if len(idx.Hooks) == 0 {
		return DefaultHookID, model.Hook{}, nil
	}

	ids := lo.Keys(idx.Hooks)
	sort.Strings(ids)
	best := lo.MinBy(ids, func(a, b string) bool {
		return len(idx.Hooks[a].Videos) < len(idx.Hooks[b].Videos)
	})
	h := idx.Hooks[best]
	return best, model.Hook{Title: h.Title, Description: h.Description, Tags: h.Tags}, nil
}

// Record appends v to hookID, creating the hook when needed.
func (s *Store) Record(ctx context.Context, hookID string, v model.HookVideo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, err := s.Load(ctx)
	if err != nil {
		return err
	}
	if v.PostedAt.IsZero() {
		v.PostedAt = s.now().UTC()
	}
	h, ok := idx.Hooks[hookID]
	if !ok {
		h = &model.Hook{}
		idx.Hooks[hookID] = h
	}
	h.Videos = append(h.Videos, v)
	idx.UpdatedAt = s.now().UTC()

	if err := s.js.WriteJSON(ctx, s.key, idx); err != nil {
		return fmt.Errorf("write %s: %w", s.key, err)
	}
	return nil
}

// FindByFile returns the most recent record for a file name.
func (s *Store) FindByFile(ctx context.Context, file string) (string, *model.HookVideo, error) {
	idx, err := s.Load(ctx)
	if err != nil {
		return "", nil, err
	}
	var (
		foundHook string
		found     *model.HookVideo
	)
	for id, h := range idx.Hooks {
		for i := range h.Videos {
			v := &h.Videos[i]
			if v.File != file {
				continue
			}
			if found == nil || v.PostedAt.After(found.PostedAt) {
				foundHook, found = id, v
			}
		}
	}
	return foundHook, found, nil
}

// RemoteIDs lists every remote ID recorded for platform, oldest first.
func (s *Store) RemoteIDs(ctx context.Context, platform string) ([]string, error) {
	idx, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	videos := lo.FlatMap(lo.Values(idx.Hooks), func(h *model.Hook, _ int) []model.HookVideo { return h.Videos })
	sort.SliceStable(videos, func(i, j int) bool { return videos[i].PostedAt.Before(videos[j].PostedAt) })

	ids := lo.FilterMap(videos, func(v model.HookVideo, _ int) (string, bool) {
		id := v.IDs[platform]
		return id, id != ""
	})
	return lo.Uniq(ids), nil
}
