// Package dashboard builds read-only projections of verification activity for
// operator consoles: live sessions, recent outcomes and aggregate statistics.
// Everything here is derived data; the feed never mutates a session.
package dashboard

import (
	"context"
	"fmt"
	"sort"
	"time"

	"verigate/internal/verification/models"
	"verigate/internal/verification/store/session"
	"verigate/pkg/requestcontext"
)

const (
	recentLimit  = 20
	statsWindow  = 500
	statsPercent = 100
)

// SourceStats aggregates one credential source's recent results.
type SourceStats struct {
	SourceID    string  `json:"source_id"`
	Total       int     `json:"total"`
	Success     int     `json:"success"`
	Partial     int     `json:"partial"`
	Failed      int     `json:"failed"`
	Unavailable int     `json:"unavailable"`
	SuccessRate float64 `json:"success_rate"`
}

// Stats is the aggregate block of the dashboard.
type Stats struct {
	TodayTotal    int                              `json:"today_total"`
	TodayVerified int                              `json:"today_verified"`
	SuccessRate   float64                          `json:"success_rate"`
	SourceStats   []SourceStats                    `json:"source_stats"`
	SecurityFlags map[models.FlagType]int          `json:"security_flags"`
	ActiveCount   int                              `json:"active_count"`
	LevelCounts   map[models.VerificationLevel]int `json:"level_counts"`
}

// Overview is one dashboard snapshot.
type Overview struct {
	Active      []*models.VerificationSession `json:"active_sessions"`
	Recent      []*models.VerificationSession `json:"recent_completions"`
	Stats       Stats                         `json:"stats"`
	GeneratedAt time.Time                     `json:"generated_at"`
}

// Feed assembles dashboard snapshots from the session store, optionally
// backed by the durable archive for day counters that survive restarts.
type Feed struct {
	sessions session.Store
	archive  session.Archive
}

// NewFeed constructs a dashboard feed. archive may be nil.
func NewFeed(sessions session.Store, archive session.Archive) *Feed {
	return &Feed{sessions: sessions, archive: archive}
}

// Snapshot assembles the current dashboard view.
func (f *Feed) Snapshot(ctx context.Context) (*Overview, error) {
	now := requestcontext.Now(ctx)

	active, err := f.sessions.Active(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active sessions: %w", err)
	}
	history, err := f.sessions.History(ctx, statsWindow)
	if err != nil {
		return nil, fmt.Errorf("list session history: %w", err)
	}

	recent := history
	if len(recent) > recentLimit {
		recent = recent[:recentLimit]
	}

	stats := f.buildStats(ctx, history, now)
	stats.ActiveCount = len(active)

	return &Overview{
		Active:      active,
		Recent:      recent,
		Stats:       stats,
		GeneratedAt: now,
	}, nil
}

func (f *Feed) buildStats(ctx context.Context, history []*models.VerificationSession, now time.Time) Stats {
	stats := Stats{
		SecurityFlags: make(map[models.FlagType]int),
		LevelCounts:   make(map[models.VerificationLevel]int),
	}

	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	perSource := make(map[string]*SourceStats)

	for _, sess := range history {
		completedAt := sess.StartedAt
		if sess.CompletedAt != nil {
			completedAt = *sess.CompletedAt
		}
		if !completedAt.Before(dayStart) {
			stats.TodayTotal++
			if sess.Final != nil && sess.Final.Status == models.OverallVerified {
				stats.TodayVerified++
			}
		}

		if sess.Final != nil {
			stats.LevelCounts[sess.Final.Identity.Level]++
			for _, flag := range sess.Final.Flags {
				stats.SecurityFlags[flag.Type]++
			}
		}

		for _, result := range sess.WalletResults {
			entry, ok := perSource[result.SourceID]
			if !ok {
				entry = &SourceStats{SourceID: result.SourceID}
				perSource[result.SourceID] = entry
			}
			entry.Total++
			switch result.Status {
			case models.WalletSuccess:
				entry.Success++
			case models.WalletPartial:
				entry.Partial++
			case models.WalletFailed:
				entry.Failed++
			case models.WalletUnavailable:
				entry.Unavailable++
			}
		}
	}

	// The durable archive, when configured, is authoritative for the day
	// counters: the in-memory window may have aged sessions out.
	if f.archive != nil {
		if total, verified, err := f.archive.CountBetween(ctx, dayStart, now); err == nil {
			stats.TodayTotal = total
			stats.TodayVerified = verified
		}
	}

	if stats.TodayTotal > 0 {
		stats.SuccessRate = float64(stats.TodayVerified) / float64(stats.TodayTotal) * statsPercent
	}

	stats.SourceStats = make([]SourceStats, 0, len(perSource))
	for _, entry := range perSource {
		if entry.Total > 0 {
			entry.SuccessRate = float64(entry.Success) / float64(entry.Total) * statsPercent
		}
		stats.SourceStats = append(stats.SourceStats, *entry)
	}
	sort.Slice(stats.SourceStats, func(i, j int) bool {
		return stats.SourceStats[i].SourceID < stats.SourceStats[j].SourceID
	})
	return stats
}
