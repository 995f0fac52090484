package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"milestonetracker/api/internal/app"
	"milestonetracker/api/internal/authpw"
	"milestonetracker/api/internal/store"
)

const seedPassword = "password123"

type seedUser struct {
	username string
	role     string
}

var seedUsers = []seedUser{
	{"pm1user", "owner"},
	{"pm1user2", "owner"},
	{"pm2user", "tracker"},
	{"pm2user2", "tracker"},
}

var seedMilestones = []struct {
	owner       string
	name        string
	description string
	progress    int
	days        int
}{
	{"pm1user", "Requirements Analysis", "Gather and document stakeholder requirements", 100, 14},
	{"pm1user", "System Design", "Architecture and interface design", 60, 30},
	{"pm1user", "Development", "Implement the core feature set", 20, 60},
	{"pm1user2", "Testing", "Integration and acceptance testing", 0, 75},
	{"pm1user2", "Deployment", "Production rollout and handover", 0, 90},
}

// seedTracking lists which milestones each tracker follows, by name.
var seedTracking = map[string][]string{
	"pm2user":  {"System Design", "Development"},
	"pm2user2": {"System Design", "Testing"},
}

func runSeed(ctx context.Context, configPath string) error {
	rt, err := setup(ctx, configPath)
	if err != nil {
		return err
	}
	defer rt.close()

	count, err := rt.store.CountUsers(ctx)
	if err != nil {
		return fmt.Errorf("count users: %w", err)
	}
	if count > 0 {
		rt.logger.Info("seed skipped, users already exist", zap.Int("users", count))
		return nil
	}

	service := app.New(rt.cfg, app.Deps{
		Store:  rt.store,
		Engine: rt.engine(),
		Auth:   authpw.NewService(rt.store, rt.cfg.Defaults.DailyLimit),
		Logger: rt.logger,
	})

	sessions := make(map[string]app.Session, len(seedUsers))
	for _, u := range seedUsers {
		session, _, err := service.Register(ctx, authpw.RegisterRequest{
			Username: u.username,
			Email:    u.username + "@example.com",
			Password: seedPassword,
			Role:     u.role,
		})
		if err != nil {
			return fmt.Errorf("seed user %s: %w", u.username, err)
		}
		sessions[u.username] = session
	}

	milestoneIDs := make(map[string]string, len(seedMilestones))
	for _, m := range seedMilestones {
		end := time.Now().UTC().AddDate(0, 0, m.days)
		created, err := service.CreateMilestone(ctx, sessions[m.owner], app.CreateMilestoneInput{
			Name:        m.name,
			Description: m.description,
			EndDate:     &end,
		})
		if err != nil {
			return fmt.Errorf("seed milestone %s: %w", m.name, err)
		}
		milestoneIDs[m.name] = created.ID
	}

	for tracker, names := range seedTracking {
		for _, name := range names {
			if _, err := service.TrackMilestone(ctx, sessions[tracker], milestoneIDs[name]); err != nil {
				return fmt.Errorf("seed tracking %s -> %s: %w", tracker, name, err)
			}
		}
	}

	// Progress goes last so completed milestones notify their trackers.
	for _, m := range seedMilestones {
		if m.progress == 0 {
			continue
		}
		if _, err := service.UpdateProgress(ctx, sessions[m.owner], milestoneIDs[m.name], m.progress); err != nil {
			return fmt.Errorf("seed progress %s: %w", m.name, err)
		}
	}

	rt.logger.Info("seed complete", zap.Int("users", len(seedUsers)), zap.Int("milestones", len(seedMilestones)))
	return nil
}

// drift is a milestone whose stored counter disagrees with its relationship rows.
type drift struct {
	milestone store.Milestone
	rows      int
}

func runVerify(ctx context.Context, configPath string, out io.Writer) error {
	rt, err := setup(ctx, configPath)
	if err != nil {
		return err
	}
	defer rt.close()

	drifts, checked, err := findDrift(ctx, rt.store)
	if err != nil {
		return err
	}
	for _, d := range drifts {
		fmt.Fprintf(out, "drift %s %q: tracking_count=%d rows=%d\n", d.milestone.ID, d.milestone.Name, d.milestone.TrackingCount, d.rows)
	}
	if len(drifts) > 0 {
		return fmt.Errorf("%d of %d milestones have drifted counters", len(drifts), checked)
	}
	fmt.Fprintf(out, "ok: %d milestones consistent\n", checked)
	return nil
}

type counterSource interface {
	ListMilestones(ctx context.Context) ([]store.Milestone, error)
	CountByMilestone(ctx context.Context, milestoneID string) (int, error)
}

func findDrift(ctx context.Context, src counterSource) ([]drift, int, error) {
	milestones, err := src.ListMilestones(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("list milestones: %w", err)
	}
	var drifts []drift
	for _, m := range milestones {
		rows, err := src.CountByMilestone(ctx, m.ID)
		if err != nil {
			return nil, 0, fmt.Errorf("count trackings for %s: %w", m.ID, err)
		}
		if rows != m.TrackingCount {
			drifts = append(drifts, drift{milestone: m, rows: rows})
		}
	}
	return drifts, len(milestones), nil
}
