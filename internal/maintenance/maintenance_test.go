package maintenance

import (
	"testing"
	"time"

	"github.com/coccobas/agent-memory/internal/config"
	"github.com/coccobas/agent-memory/internal/store"
)

func TestParseCronDefaultSchedule(t *testing.T) {
	sched, err := parseCron("0 5 * * *")
	if err != nil {
		t.Fatalf("parseCron: %v", err)
	}
	fireTime := time.Date(2026, 7, 30, 5, 0, 0, 0, time.UTC)
	if !sched.matches(fireTime) {
		t.Fatalf("expected 5:00am to match default schedule")
	}
	if sched.matches(fireTime.Add(time.Minute)) {
		t.Fatalf("expected 5:01am not to match")
	}
}

func TestParseCronNextFireAfter(t *testing.T) {
	sched, err := parseCron("30 14 * * *")
	if err != nil {
		t.Fatalf("parseCron: %v", err)
	}
	from := time.Date(2026, 7, 30, 10, 0, 0, 0, time.UTC)
	next, ok := sched.nextFireAfter(from)
	if !ok {
		t.Fatalf("expected a next fire time")
	}
	if next.Hour() != 14 || next.Minute() != 30 {
		t.Fatalf("expected 14:30, got %v", next)
	}
}

func TestCosineSimilarityIdentical(t *testing.T) {
	v := []float32{1, 0, 0}
	if sim := cosineSimilarity(v, v); sim < 0.999 {
		t.Fatalf("expected identical vectors to have similarity ~1, got %f", sim)
	}
}

func TestTrajectorySimilarityIdenticalSequences(t *testing.T) {
	steps := []store.TrajectoryStep{{Action: "search", Tool: "grep"}, {Action: "edit", Tool: "editor"}}
	sim := trajectorySimilarity(steps, steps)
	if sim != 1.0 {
		t.Fatalf("expected identical trajectories to score 1.0, got %f", sim)
	}
}

func TestTrajectorySimilarityDisjointSequences(t *testing.T) {
	a := []store.TrajectoryStep{{Action: "search", Tool: "grep"}}
	b := []store.TrajectoryStep{{Action: "deploy", Tool: "kubectl"}}
	if sim := trajectorySimilarity(a, b); sim != 0 {
		t.Fatalf("expected disjoint trajectories to score 0, got %f", sim)
	}
}

func TestQualityGateDisposition(t *testing.T) {
	task := &LibrarianTask{
		Deps: Deps{Config: config.MaintenanceConfig{
			AutoPromoteThreshold: 0.9, ReviewThreshold: 0.7, MinPatternSize: 2,
		}},
		MaxExperiences: 10,
	}
	g := PatternGroup{
		Experiences:          []*store.Entry{{}, {}},
		EmbeddingSimilarity:  0.95,
		TrajectorySimilarity: 0.95,
		SuccessRate:          1.0,
	}
	_, disposition := task.qualityGate(g)
	if disposition != "auto_promote" && disposition != "review" {
		t.Fatalf("expected a high-similarity, high-success group to clear review at minimum, got %s", disposition)
	}
}
