package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/navi-mailroom/internal/core/domain"
	"github.com/kirillkom/navi-mailroom/internal/core/ports"
	"github.com/kirillkom/navi-mailroom/internal/core/routing"
)

const trashDir = "archive/trash"

type DecisionOutcome struct {
	Filename    string `json:"filename"`
	Action      string `json:"action"`
	Route       string `json:"route,omitempty"`
	Storage     string `json:"storage,omitempty"`
	OfficeInbox string `json:"office_inbox,omitempty"`
	Note        string `json:"note,omitempty"`
	Applied     bool   `json:"applied"`
	Destination string `json:"destination,omitempty"`
	OfficeCopy  string `json:"office_copy,omitempty"`
	Error       string `json:"error,omitempty"`
}

type DecisionReport struct {
	BatchID  string            `json:"batch_id"`
	Reviewer string            `json:"reviewer"`
	DryRun   bool              `json:"dry_run"`
	Outcomes []DecisionOutcome `json:"outcomes"`
	Counts   map[string]int    `json:"counts"`
}

// DecisionApplier replays a reviewer's decisions file against the tree.
// Without apply it only reports what would happen.
type DecisionApplier struct {
	tree     ports.DocumentTree
	sidecars ports.SidecarStore
	lock     ports.BatchLock
	cfg      routing.Config
	logger   *slog.Logger
	now      func() time.Time
	rel      func(string) string
}

func NewDecisionApplier(tree ports.DocumentTree, sidecars ports.SidecarStore, lock ports.BatchLock, cfg routing.Config, logger *slog.Logger, rel func(string) string) *DecisionApplier {
	if logger == nil {
		logger = slog.Default()
	}
	if rel == nil {
		rel = func(p string) string { return p }
	}
	return &DecisionApplier{tree: tree, sidecars: sidecars, lock: lock, cfg: cfg, logger: logger, now: time.Now, rel: rel}
}

func (a *DecisionApplier) Apply(ctx context.Context, file domain.ReviewDecisions, apply, force bool) (*DecisionReport, error) {
	if apply && !force {
		return nil, fmt.Errorf("%w: applying decisions requires force", domain.ErrInvalidInput)
	}
	if apply {
		release, err := a.lock.TryAcquire()
		if err != nil {
			return nil, err
		}
		defer release()
	}

	report := &DecisionReport{
		BatchID:  file.BatchID,
		Reviewer: file.Reviewer,
		DryRun:   !apply,
		Outcomes: make([]DecisionOutcome, 0, len(file.Decisions)),
		Counts:   map[string]int{},
	}
	for _, d := range file.Decisions {
		out := a.plan(d)
		report.Counts[out.Action]++
		if apply && (out.Action == domain.DecisionActionTrash || out.Action == domain.DecisionActionRoute) {
			a.execute(ctx, file.Reviewer, d, &out)
		}
		report.Outcomes = append(report.Outcomes, out)
	}
	return report, nil
}

func (a *DecisionApplier) plan(d domain.ReviewDecision) DecisionOutcome {
	out := DecisionOutcome{Filename: d.Filename, Action: d.Action(), Note: d.HumanReason}
	switch out.Action {
	case domain.DecisionActionTrash:
		out.Storage = trashDir
	case domain.DecisionActionRoute:
		target := a.cfg.PathsForRoute(d.FinalRoute)
		out.Route = d.FinalRoute
		out.Storage = target.StorageRel
		out.OfficeInbox = target.OfficeInboxRel
	}
	return out
}

func (a *DecisionApplier) execute(ctx context.Context, reviewer string, d domain.ReviewDecision, out *DecisionOutcome) {
	src, err := a.tree.Find(ctx, d.Filename)
	if err != nil {
		out.Error = err.Error()
		return
	}
	if src == "" {
		out.Error = "source not found"
		return
	}

	final := domain.StateMoved
	if out.Action == domain.DecisionActionTrash {
		final = domain.StateTrashed
	}
	sc, _ := a.sidecars.Read(ctx, src)
	if sc == nil {
		sc = &domain.Sidecar{Filename: d.Filename}
	}
	if _, err := humanDecide(sc.State, final); err != nil {
		out.Error = err.Error()
		return
	}

	dest := src
	if out.Storage != "" {
		moved, err := a.tree.MoveInto(ctx, src, out.Storage)
		if err != nil && moved == "" {
			out.Error = err.Error()
			return
		}
		dest = moved
		out.Destination = a.rel(moved)
	}
	var officeCopy string
	if out.OfficeInbox != "" {
		copied, created, err := a.tree.CopyInto(ctx, dest, out.OfficeInbox)
		switch {
		case err != nil:
			out.Error = err.Error()
		case created:
			officeCopy = copied
			fallthrough
		default:
			out.OfficeCopy = a.rel(copied)
		}
	}

	sc.State = final
	if out.Route != "" {
		sc.Route = out.Route
	}
	sc.HumanDecision = &domain.HumanDecision{
		Reviewer:  reviewer,
		Decision:  out.Action,
		Route:     out.Route,
		Reason:    d.HumanReason,
		DecidedAt: a.now().UTC(),
	}
	for _, path := range []string{dest, officeCopy} {
		if path == "" {
			continue
		}
		if err := a.sidecars.Write(ctx, path, *sc); err != nil {
			a.logger.Warn("decision_sidecar_write_failed", "file", path, "error", err)
		}
	}
	out.Applied = out.Error == ""
	a.logger.Info("decision_applied", "file", d.Filename, "action", out.Action, "destination", out.Destination)
}
