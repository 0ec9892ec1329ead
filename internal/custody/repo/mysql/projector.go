package mysql

import (
	"context"

	"gopherheir.com/internal/custody"
)

// Projector 把 Repo 适配成 outbox.Sink
type Projector struct {
	repo *Repo
}

func NewProjector(r *Repo) *Projector { return &Projector{repo: r} }

func (p *Projector) Name() string { return "mysql" }

func (p *Projector) Handle(ctx context.Context, ev custody.Event) error {
	return p.repo.Project(ctx, ev)
}
