package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"circle_go/internal/domain"
)

type ProfileRepo struct {
	db *sql.DB
}

func NewProfileRepo(db *sql.DB) *ProfileRepo {
	return &ProfileRepo{db: db}
}

var _ domain.ProfileStore = (*ProfileRepo)(nil)

func (r *ProfileRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Profile, error) {
	p := &domain.Profile{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, full_name, current_status, last_seen FROM profiles WHERE id = $1
	`, id).Scan(&p.ID, &p.FullName, &p.CurrentStatus, &p.LastSeen)
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", classify(err))
	}
	return p, nil
}

func (r *ProfileRepo) Upsert(ctx context.Context, p *domain.Profile) error {
	if p.LastSeen.IsZero() {
		p.LastSeen = time.Now()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO profiles (id, full_name, current_status, last_seen)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET full_name = EXCLUDED.full_name,
		    current_status = EXCLUDED.current_status,
		    last_seen = EXCLUDED.last_seen
	`, p.ID, p.FullName, p.CurrentStatus, p.LastSeen.UTC())
	if err != nil {
		return fmt.Errorf("upsert profile: %w", classify(err))
	}
	return nil
}

func (r *ProfileRepo) Touch(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.update(ctx, "touch profile", `UPDATE profiles SET last_seen = $1 WHERE id = $2`, at.UTC(), id)
}

func (r *ProfileRepo) SetStatus(ctx context.Context, id uuid.UUID, status *string, at time.Time) error {
	return r.update(ctx, "set status",
		`UPDATE profiles SET current_status = $1, last_seen = $2 WHERE id = $3`, status, at.UTC(), id)
}

func (r *ProfileRepo) ListSeenSince(ctx context.Context, ids []uuid.UUID, since time.Time) ([]*domain.Profile, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	strIDs := make([]string, len(ids))
	for i, id := range ids {
		strIDs[i] = id.String()
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, full_name, current_status, last_seen
		FROM profiles
		WHERE id = ANY($1::uuid[]) AND last_seen >= $2
		ORDER BY last_seen DESC
	`, strIDs, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("list seen profiles: %w", classify(err))
	}
	defer rows.Close()

	var res []*domain.Profile
	for rows.Next() {
		p := &domain.Profile{}
		if err := rows.Scan(&p.ID, &p.FullName, &p.CurrentStatus, &p.LastSeen); err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r *ProfileRepo) update(ctx context.Context, op, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, classify(err))
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%s: %w", op, domain.ErrNotFound)
	}
	return nil
}
