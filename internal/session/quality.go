// Package session computes the episode quality score and drives the
// optional message-relevance-bucketing pass described in spec.md §4.5.
// The state-machine transitions and storage themselves live on
// store.SessionRepository; this package owns the scoring formula that
// decides what CompleteEpisode persists.
package session

import (
	"context"
	"fmt"
	"math"

	"github.com/coccobas/agent-memory/internal/apperr"
	"github.com/coccobas/agent-memory/internal/store"
)

// Quality factor weights, per spec.md §4.5. They sum to 1.0.
const (
	weightHasEvents        = 0.25
	weightHasSemanticEvents = 0.25
	weightNameEnriched      = 0.15
	weightMessagesLinked    = 0.10
	weightMessagesScored    = 0.10
	weightHasExperiences    = 0.15
)

// Relevance bucket thresholds, per spec.md §4.5's message-relevance pass.
const (
	RelevanceHighThreshold   = 0.8
	RelevanceMediumThreshold = 0.5
)

// RelevanceBucket is the label a message-relevance-scoring pass assigns.
type RelevanceBucket string

const (
	RelevanceHigh   RelevanceBucket = "high"
	RelevanceMedium RelevanceBucket = "medium"
	RelevanceLow    RelevanceBucket = "low"
)

// Bucket classifies a relevance score per the configured thresholds.
func Bucket(score float64) RelevanceBucket {
	switch {
	case score >= RelevanceHighThreshold:
		return RelevanceHigh
	case score >= RelevanceMediumThreshold:
		return RelevanceMedium
	default:
		return RelevanceLow
	}
}

// Completion carries the caller-supplied inputs to Score and Complete.
// HasExperiences reports whether at least one experience entry references
// the episode, used by the hasExperiences factor. Callers pass in an
// already-computed answer rather than this package re-querying the
// experience repository, since "references this episode" depends on where
// the experience content stores the backlink (spec.md leaves the field
// unspecified; the experience's Trajectory/Content free text is assumed to
// carry it, which internal/capture and the librarian are responsible for
// writing).
type Completion struct {
	EpisodeID        string
	Outcome          string
	Status           store.EpisodeStatus
	HasExperiences   bool
	NameEnriched     bool
}

// Score computes the weighted quality score (0-100) for an episode, given
// its events and linked messages. It returns the rounded integer score
// plus the per-factor contribution, for CompleteEpisode's audit trail.
func Score(events []*store.Event, messages []*store.ConversationMessage, c Completion) (int, map[string]float64) {
	factors := map[string]float64{}

	hasEvents := len(events) > 0
	factors["hasEvents"] = boolShare(hasEvents, weightHasEvents)

	hasSemanticEvents := false
	for _, e := range events {
		if e.SemanticSummary != "" {
			hasSemanticEvents = true
			break
		}
	}
	factors["hasSemanticEvents"] = boolShare(hasSemanticEvents, weightHasSemanticEvents)

	factors["nameEnriched"] = boolShare(c.NameEnriched, weightNameEnriched)

	messagesLinked := len(messages) > 0
	factors["messagesLinked"] = boolShare(messagesLinked, weightMessagesLinked)

	messagesScored := false
	for _, m := range messages {
		if m.RelevanceScore != nil {
			messagesScored = true
			break
		}
	}
	factors["messagesScored"] = boolShare(messagesScored, weightMessagesScored)

	factors["hasExperiences"] = boolShare(c.HasExperiences, weightHasExperiences)

	total := 0.0
	for _, v := range factors {
		total += v
	}
	return int(math.Round(total * 100)), factors
}

func boolShare(b bool, weight float64) float64 {
	if b {
		return weight
	}
	return 0
}

// Complete computes the quality score for a running episode and persists
// it via the CompleteEpisode transition, failing VALIDATION if the
// episode isn't running.
func Complete(ctx context.Context, repo *store.SessionRepository, c Completion) error {
	events, err := repo.ListEvents(ctx, c.EpisodeID)
	if err != nil {
		return fmt.Errorf("session: list events for scoring: %w", err)
	}
	messages, err := repo.MessagesForEpisode(ctx, c.EpisodeID)
	if err != nil {
		return fmt.Errorf("session: list messages for scoring: %w", err)
	}
	score, factors := Score(events, messages, c)

	status := store.EpisodeCompleted
	if c.Status != "" {
		status = c.Status
	}
	if err := repo.CompleteEpisode(ctx, c.EpisodeID, c.Outcome, status, score, factors); err != nil {
		return err
	}
	return nil
}

// Scorer scores one message's relevance. The implementing classifier is
// pluggable; ScoreSessionMessages owns only the write-back and bucketing
// contract.
type Scorer interface {
	Score(ctx context.Context, m *store.ConversationMessage) (float64, error)
}

// ScoreSessionMessages runs scorer over every message in sessionID that
// doesn't already carry a relevance score, writing results back and
// returning a bucket count for the maintenance task's result summary.
func ScoreSessionMessages(ctx context.Context, repo *store.SessionRepository, scorer Scorer, sessionID string) (map[RelevanceBucket]int, error) {
	messages, err := repo.MessagesForSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	counts := map[RelevanceBucket]int{}
	for _, m := range messages {
		if m.RelevanceScore != nil {
			counts[Bucket(*m.RelevanceScore)]++
			continue
		}
		score, err := scorer.Score(ctx, m)
		if err != nil {
			return counts, apperr.New(apperr.CodeInternal, "score message").Wrap(err).WithIdentifier(m.ID)
		}
		if err := repo.SetMessageRelevance(ctx, m.ID, score); err != nil {
			return counts, err
		}
		counts[Bucket(score)]++
	}
	return counts, nil
}
