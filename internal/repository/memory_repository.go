package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	appErrors "github.com/unclebandit/campaign-consent/internal/errors"
	"github.com/unclebandit/campaign-consent/internal/model"
)

// MemoryCampaignRepository keeps campaigns in process memory. Every value
// crossing its boundary is cloned.
type MemoryCampaignRepository struct {
	mu        sync.RWMutex
	campaigns map[string]*model.Campaign
	results   map[string][]model.SendResult
}

func NewMemoryCampaignRepository() *MemoryCampaignRepository {
	return &MemoryCampaignRepository{
		campaigns: make(map[string]*model.Campaign),
		results:   make(map[string][]model.SendResult),
	}
}

func (r *MemoryCampaignRepository) Create(_ context.Context, c *model.Campaign) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.campaigns[c.ID]; ok {
		return ErrCampaignExists
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	stored := c.Clone()
	stored.SendResults = nil
	r.campaigns[c.ID] = stored
	return nil
}

func (r *MemoryCampaignRepository) GetByID(_ context.Context, id string) (*model.Campaign, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.campaigns[id]
	if !ok {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	out := c.Clone()
	if res := r.results[id]; len(res) > 0 {
		out.SendResults = make(map[string]model.SendResult, len(res))
		for _, sr := range res {
			out.SendResults[sr.Email] = sr
		}
	}
	return out, nil
}

func (r *MemoryCampaignRepository) Update(_ context.Context, c *model.Campaign) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.campaigns[c.ID]
	if !ok {
		return appErrors.NewCampaignNotFound(c.ID)
	}
	now := time.Now().UTC()
	stored.State = c.State
	stored.SubjectTemplate = c.SubjectTemplate
	stored.BodyTemplate = c.BodyTemplate
	stored.Revision = c.Revision
	stored.FailureKind = c.FailureKind
	stored.FailureReason = c.FailureReason
	stored.UpdatedAt = &now

	c.UpdatedAt = &now
	return nil
}

func (r *MemoryCampaignRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.campaigns, id)
	delete(r.results, id)
	return nil
}

func (r *MemoryCampaignRepository) ListCampaigns(_ context.Context, offset, limit int, state string) ([]*model.Campaign, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	filtered := []*model.Campaign{}
	for _, c := range r.campaigns {
		if state != "" && string(c.State) != state {
			continue
		}
		filtered = append(filtered, c)
	}
	sort.Slice(filtered, func(i, j int) bool {
		if filtered[i].CreatedAt.Equal(filtered[j].CreatedAt) {
			return filtered[i].ID > filtered[j].ID
		}
		return filtered[i].CreatedAt.After(filtered[j].CreatedAt)
	})

	total := len(filtered)
	if offset >= total {
		return []*model.Campaign{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}

	page := make([]*model.Campaign, 0, end-offset)
	for _, c := range filtered[offset:end] {
		page = append(page, c.Clone())
	}
	return page, total, nil
}

func (r *MemoryCampaignRepository) RecordSendResult(_ context.Context, res model.SendResult) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.campaigns[res.CampaignID]; !ok {
		return false, appErrors.NewCampaignNotFound(res.CampaignID)
	}
	for _, existing := range r.results[res.CampaignID] {
		if existing.Email == res.Email {
			return false, nil
		}
	}
	if res.RecordedAt.IsZero() {
		res.RecordedAt = time.Now().UTC()
	}
	r.results[res.CampaignID] = append(r.results[res.CampaignID], res)
	return true, nil
}

func (r *MemoryCampaignRepository) ListSendResults(_ context.Context, campaignID string) ([]model.SendResult, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]model.SendResult{}, r.results[campaignID]...), nil
}

var _ CampaignRepositoryInterface = (*MemoryCampaignRepository)(nil)
