// Package store is the durable audit trail: issued payment requests,
// minted receipts and job rows. The payment core itself stays stateless;
// nothing here sits on the verification hot path.
package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"assetgate/internal/models"
)

type Store struct {
	Pool *pgxpool.Pool
}

func Connect(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Store{Pool: pool}, nil
}

func (s *Store) Close() {
	if s != nil && s.Pool != nil {
		s.Pool.Close()
	}
}

func (s *Store) InsertPaymentRequest(ctx context.Context, r *models.IssuedRequest) error {
	if s == nil {
		return nil
	}
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO payment_requests (request_id, job_id, kind, amount, expires_at)
		VALUES ($1,$2,$3,$4,$5)
	`, r.RequestID, r.JobID, r.Kind, r.Amount, r.ExpiresAt)
	return err
}

// InsertReceipt is idempotent on the transaction signature.
func (s *Store) InsertReceipt(ctx context.Context, r *models.Receipt) error {
	if s == nil {
		return nil
	}
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO receipts (signature, job_id, payer_did, option_id, issued_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (signature) DO NOTHING
	`, r.Signature, r.JobID, r.PayerDID, r.PaymentOptionID, r.IssuedAt)
	return err
}

func (s *Store) UpsertJob(ctx context.Context, job *models.Job) error {
	if s == nil {
		return nil
	}
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO jobs (request_id, job_id, kind, state, result_url, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
		ON CONFLICT (request_id) DO UPDATE
		SET state=EXCLUDED.state, result_url=EXCLUDED.result_url, updated_at=now()
	`, job.RequestID, job.JobID, job.Kind, job.State, job.ResultURL)
	return err
}

func (s *Store) GetJob(ctx context.Context, requestID string) (*models.Job, error) {
	if s == nil {
		return nil, sql.ErrNoRows
	}
	row := s.Pool.QueryRow(ctx, `
		SELECT request_id, job_id, kind, state, result_url, created_at, updated_at
		FROM jobs WHERE request_id=$1
	`, requestID)

	var job models.Job
	var resultURL sql.NullString
	var createdAt, updatedAt time.Time
	if err := row.Scan(
		&job.RequestID,
		&job.JobID,
		&job.Kind,
		&job.State,
		&resultURL,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}
	if resultURL.Valid {
		job.ResultURL = &resultURL.String
	}
	job.CreatedAt = createdAt
	job.UpdatedAt = updatedAt
	return &job, nil
}
