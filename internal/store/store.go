// Package store is the single source of truth for campaign state. It pairs
// a repository with an arena of per-campaign locks so transitions on one
// campaign are serialized while unrelated campaigns never contend.
package store

import (
	"context"
	"sync"

	"github.com/unclebandit/campaign-consent/internal/model"
	"github.com/unclebandit/campaign-consent/internal/repository"
)

// entry is one slot in the lock arena. sem has capacity 1; refs counts
// holders and waiters so idle entries can be reclaimed.
type entry struct {
	sem  chan struct{}
	refs int
}

type CampaignStore struct {
	repo repository.CampaignRepositoryInterface

	mu      sync.Mutex
	entries map[string]*entry
}

func New(repo repository.CampaignRepositoryInterface) *CampaignStore {
	return &CampaignStore{
		repo:    repo,
		entries: make(map[string]*entry),
	}
}

// Lock takes exclusive access to the campaign id. It gives up when ctx is
// done. The returned unlock must be called exactly once.
func (s *CampaignStore) Lock(ctx context.Context, id string) (func(), error) {
	e := s.acquire(id)

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		s.release(id, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.sem
			s.release(id, e)
		})
	}, nil
}

func (s *CampaignStore) acquire(id string) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		s.entries[id] = e
	}
	e.refs++
	return e
}

func (s *CampaignStore) release(id string, e *entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e.refs--
	if e.refs == 0 {
		delete(s.entries, id)
	}
}

// activeLocks reports arena size; used by tests.
func (s *CampaignStore) activeLocks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *CampaignStore) Get(ctx context.Context, id string) (*model.Campaign, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *CampaignStore) Insert(ctx context.Context, c *model.Campaign) error {
	return s.repo.Create(ctx, c)
}

func (s *CampaignStore) Save(ctx context.Context, c *model.Campaign) error {
	return s.repo.Update(ctx, c)
}

func (s *CampaignStore) Remove(ctx context.Context, id string) error {
	return s.repo.Delete(ctx, id)
}

func (s *CampaignStore) List(ctx context.Context, offset, limit int, state string) ([]*model.Campaign, int, error) {
	return s.repo.ListCampaigns(ctx, offset, limit, state)
}

func (s *CampaignStore) RecordSendResult(ctx context.Context, r model.SendResult) (bool, error) {
	return s.repo.RecordSendResult(ctx, r)
}
