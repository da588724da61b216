package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/unclebandit/campaign-consent/internal/model"
)

// ====================== Send results ======================

// RecordSendResult inserts the outcome unless the recipient already has one.
func (r *CampaignRepository) RecordSendResult(ctx context.Context, res model.SendResult) (bool, error) {
	if res.RecordedAt.IsZero() {
		res.RecordedAt = time.Now().UTC()
	}
	query := `
        INSERT INTO send_results (campaign_id, email, status, message_id, reason, recorded_at)
        VALUES ($1, $2, $3, $4, $5, $6)
        ON CONFLICT (campaign_id, email) DO NOTHING
    `
	out, err := r.DB.ExecContext(ctx, query,
		res.CampaignID, res.Email, string(res.Status), res.MessageID, res.Reason, res.RecordedAt)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := out.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return n > 0, nil
}

func (r *CampaignRepository) ListSendResults(ctx context.Context, campaignID string) ([]model.SendResult, error) {
	query := `
        SELECT campaign_id, email, status, message_id, reason, recorded_at
        FROM send_results
        WHERE campaign_id=$1
        ORDER BY recorded_at, email
    `
	rows, err := r.DB.QueryContext(ctx, query, campaignID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	results := []model.SendResult{}
	for rows.Next() {
		var (
			res    model.SendResult
			status string
		)
		if err := rows.Scan(&res.CampaignID, &res.Email, &status, &res.MessageID, &res.Reason, &res.RecordedAt); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		res.Status = model.SendStatus(status)
		results = append(results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return results, nil
}
