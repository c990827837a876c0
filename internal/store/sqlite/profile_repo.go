package sqlite

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
	row := r.db.QueryRowContext(ctx, `
		SELECT id, full_name, current_status, last_seen FROM profiles WHERE id = ?
	`, id.String())
	p, err := scanProfile(row)
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", classify(err))
	}
	return p, nil
}

func (r *ProfileRepo) Upsert(ctx context.Context, p *domain.Profile) error {
	if p.LastSeen.IsZero() {
		p.LastSeen = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO profiles (id, full_name, current_status, last_seen)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE
		SET full_name = excluded.full_name,
		    current_status = excluded.current_status,
		    last_seen = excluded.last_seen
	`, p.ID.String(), p.FullName, p.CurrentStatus, toNanos(p.LastSeen))
	if err != nil {
		return fmt.Errorf("upsert profile: %w", classify(err))
	}
	return nil
}

func (r *ProfileRepo) Touch(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.update(ctx, "touch profile", `UPDATE profiles SET last_seen = ? WHERE id = ?`, toNanos(at), id.String())
}

func (r *ProfileRepo) SetStatus(ctx context.Context, id uuid.UUID, status *string, at time.Time) error {
	return r.update(ctx, "set status",
		`UPDATE profiles SET current_status = ?, last_seen = ? WHERE id = ?`, status, toNanos(at), id.String())
}

func (r *ProfileRepo) ListSeenSince(ctx context.Context, ids []uuid.UUID, since time.Time) ([]*domain.Profile, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := append(idArgs(ids), toNanos(since))
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, full_name, current_status, last_seen
		FROM profiles
		WHERE id IN (`+placeholders(len(ids))+`) AND last_seen >= ?
		ORDER BY last_seen DESC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("list seen profiles: %w", classify(err))
	}
	defer rows.Close()

	var res []*domain.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
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

func scanProfile(s rowScanner) (*domain.Profile, error) {
	p := &domain.Profile{}
	var lastSeen int64
	if err := s.Scan(&p.ID, &p.FullName, &p.CurrentStatus, &lastSeen); err != nil {
		return nil, err
	}
	p.LastSeen = fromNanos(lastSeen)
	return p, nil
}
