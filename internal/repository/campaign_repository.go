package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	appErrors "github.com/unclebandit/campaign-consent/internal/errors"
	"github.com/unclebandit/campaign-consent/internal/model"
)

// ErrCampaignExists is returned by Create when the identifier is taken.
var ErrCampaignExists = errors.New("campaign already exists")

type CampaignRepositoryInterface interface {
	// Campaign CRUD
	Create(ctx context.Context, c *model.Campaign) error
	GetByID(ctx context.Context, id string) (*model.Campaign, error)
	Update(ctx context.Context, c *model.Campaign) error
	Delete(ctx context.Context, id string) error
	ListCampaigns(ctx context.Context, offset, limit int, state string) ([]*model.Campaign, int, error)

	// Send results are append-only: RecordSendResult reports false when the
	// recipient already has an outcome and leaves it untouched.
	RecordSendResult(ctx context.Context, r model.SendResult) (bool, error)
	ListSendResults(ctx context.Context, campaignID string) ([]model.SendResult, error)
}

type CampaignRepository struct {
	DB *sql.DB
}

func NewCampaignRepository(db *sql.DB) *CampaignRepository {
	return &CampaignRepository{DB: db}
}

// ====================== Campaign CRUD ======================

func (r *CampaignRepository) Create(ctx context.Context, c *model.Campaign) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	cohort, err := json.Marshal(c.Cohort)
	if err != nil {
		return fmt.Errorf("encode cohort: %w", err)
	}

	query := `
        INSERT INTO campaigns (id, idempotency_key, state, intent, subject_template, body_template,
            creator_user_id, scope, revision, cohort, failure_kind, failure_reason, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
    `
	_, err = r.DB.ExecContext(ctx, query,
		c.ID, nullString(c.IdempotencyKey), string(c.State), c.Intent, c.SubjectTemplate, c.BodyTemplate,
		c.CreatorUserID, c.Scope, c.Revision, cohort, c.FailureKind, c.FailureReason, c.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrCampaignExists
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// Update persists state and content. The cohort is fixed at creation and
// send results have their own append-only path, so neither is written here.
func (r *CampaignRepository) Update(ctx context.Context, c *model.Campaign) error {
	now := time.Now().UTC()
	query := `
        UPDATE campaigns
        SET state=$1, subject_template=$2, body_template=$3, revision=$4,
            failure_kind=$5, failure_reason=$6, updated_at=$7
        WHERE id=$8
    `
	res, err := r.DB.ExecContext(ctx, query,
		string(c.State), c.SubjectTemplate, c.BodyTemplate, c.Revision,
		c.FailureKind, c.FailureReason, now, c.ID,
	)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return appErrors.NewCampaignNotFound(c.ID)
	}
	c.UpdatedAt = &now
	return nil
}

func (r *CampaignRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.DB.ExecContext(ctx, `DELETE FROM campaigns WHERE id=$1`, id); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

const campaignColumns = `id, COALESCE(idempotency_key, ''), state, intent, subject_template, body_template,
            creator_user_id, scope, revision, cohort, failure_kind, failure_reason, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCampaign(row rowScanner) (*model.Campaign, error) {
	var (
		c      model.Campaign
		state  string
		cohort []byte
	)
	err := row.Scan(&c.ID, &c.IdempotencyKey, &state, &c.Intent, &c.SubjectTemplate, &c.BodyTemplate,
		&c.CreatorUserID, &c.Scope, &c.Revision, &cohort, &c.FailureKind, &c.FailureReason, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.State = model.CampaignState(state)
	if len(cohort) > 0 {
		if err := json.Unmarshal(cohort, &c.Cohort); err != nil {
			return nil, fmt.Errorf("decode cohort: %w", err)
		}
	}
	return &c, nil
}

func (r *CampaignRepository) GetByID(ctx context.Context, id string) (*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id=$1`

	c, err := scanCampaign(r.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewCampaignNotFound(id)
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	results, err := r.ListSendResults(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(results) > 0 {
		c.SendResults = make(map[string]model.SendResult, len(results))
		for _, res := range results {
			c.SendResults[res.Email] = res
		}
	}
	return c, nil
}

func (r *CampaignRepository) ListCampaigns(ctx context.Context, offset, limit int, state string) ([]*model.Campaign, int, error) {
	campaigns := []*model.Campaign{}
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM campaigns WHERE 1=1`
	args := []any{}
	argPos := 1

	if state != "" {
		filter := fmt.Sprintf(" AND state=$%d", argPos)
		query += filter
		countQuery += filter
		args = append(args, state)
		argPos++
	}
	countArgs := append([]any{}, args...)

	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d", argPos, argPos+1)
	args = append(args, limit, offset)

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("db error: %w", err)
		}
		campaigns = append(campaigns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("db error: %w", err)
	}

	var total int
	if err := r.DB.QueryRowContext(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("db error: %w", err)
	}

	return campaigns, total, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

var _ CampaignRepositoryInterface = (*CampaignRepository)(nil)
