package composite

import (
	"context"

	"tradepulse/internal/application/port"
	"tradepulse/internal/domain"
)

// Repo 将写入扇出到多个后端，读取走第一个后端（主存储）。
type Repo struct {
	repos []port.Repository
}

func New(repos ...port.Repository) *Repo {
	// nil repos are allowed; filter in constructor for safety
	out := make([]port.Repository, 0, len(repos))
	for _, r := range repos {
		if r != nil {
			out = append(out, r)
		}
	}
	return &Repo{repos: out}
}

func (r *Repo) UpsertOrderEvent(ctx context.Context, event *domain.OrderEvent) error {
	var firstErr error
	for _, repo := range r.repos {
		if err := repo.UpsertOrderEvent(ctx, event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Repo) InsertTradeRecord(ctx context.Context, record *domain.TradeRecord) error {
	var firstErr error
	for _, repo := range r.repos {
		if err := repo.InsertTradeRecord(ctx, record); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Repo) UpsertPositionSnapshot(ctx context.Context, snapshot *domain.PositionSnapshot) error {
	var firstErr error
	for _, repo := range r.repos {
		if err := repo.UpsertPositionSnapshot(ctx, snapshot); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Repo) OpenPositionSnapshots(ctx context.Context, instIDs []string) ([]*domain.PositionSnapshot, error) {
	if len(r.repos) == 0 {
		return nil, nil
	}
	return r.repos[0].OpenPositionSnapshots(ctx, instIDs)
}

func (r *Repo) MarkPositionClosed(ctx context.Context, instID, posSide string) error {
	var firstErr error
	for _, repo := range r.repos {
		if err := repo.MarkPositionClosed(ctx, instID, posSide); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Repo) InsertStrategyMessage(ctx context.Context, summary string) error {
	var firstErr error
	for _, repo := range r.repos {
		if err := repo.InsertStrategyMessage(ctx, summary); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Repo) Close() error {
	var firstErr error
	for _, repo := range r.repos {
		if err := repo.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

var _ port.Repository = (*Repo)(nil)
