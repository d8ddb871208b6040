package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/seanblong/contractlens/pkg/models"
)

// Sweeper finds storage whose owning session is gone and wipes it.
type Sweeper struct {
	Manager *Manager
}

func NewSweeper(m *Manager) *Sweeper {
	return &Sweeper{Manager: m}
}

// Sweep collects session ids from the index, the file area and dependent
// keys, and wipes every one without a live record. It returns the ids wiped.
func (s *Sweeper) Sweep(ctx context.Context) ([]string, error) {
	w := s.Manager.Wiper
	seen := map[string]struct{}{}
	var errs []error

	ids, err := w.Index.Sessions(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("list index sessions: %w", err))
	}
	for _, id := range ids {
		seen[id] = struct{}{}
	}

	dirs, err := w.Files.Sessions()
	if err != nil {
		errs = append(errs, err)
	}
	for _, id := range dirs {
		seen[id] = struct{}{}
	}

	keys, err := s.Manager.KV.Keys(ctx, keyPrefix+"*:*")
	if err != nil {
		errs = append(errs, fmt.Errorf("list session keys: %w", err))
	}
	for _, k := range keys {
		seen[ownerOf(k)] = struct{}{}
	}

	candidates := make([]string, 0, len(seen))
	for id := range seen {
		candidates = append(candidates, id)
	}
	sort.Strings(candidates)

	var wiped []string
	for _, id := range candidates {
		if err := ctx.Err(); err != nil {
			return wiped, err
		}
		alive, err := s.Manager.Alive(ctx, id)
		if err != nil {
			errs = append(errs, fmt.Errorf("check %s: %w", models.ShortID(id), err))
			continue
		}
		if alive {
			continue
		}
		if _, err := w.Wipe(ctx, id); err != nil {
			errs = append(errs, err)
			continue
		}
		wiped = append(wiped, id)
	}

	log.Info().Int("candidates", len(candidates)).Int("wiped", len(wiped)).Msg("sweep complete")
	return wiped, errors.Join(errs...)
}

// Run sweeps every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
				log.Warn().Err(err).Msg("sweep failed")
			}
		}
	}
}
