package reconciler

import (
	"github.com/0x0BSoD/feedRelay/internal/model"
)

type Action int

const (
	ActionSkip Action = iota
	ActionCreate
	ActionUpdate
	ActionRepair
	// ActionRejected is an update the platform refused but whose bookkeeping was advanced anyway.
	ActionRejected
)

func (a Action) String() string {
	switch a {
	case ActionSkip:
		return "skip"
	case ActionCreate:
		return "create"
	case ActionUpdate:
		return "update"
	case ActionRepair:
		return "repair"
	case ActionRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Decide picks what to do with entry given the article stored under its link (nil if none).
// Only entries strictly newer than the stored article cause any work.
func Decide(article *model.Article, entry model.Entry) Action {
	switch {
	case article == nil:
		return ActionCreate
	case entry.UpdatedAt.Unix() <= article.Updated:
		return ActionSkip
	case !article.IsPublished():
		return ActionRepair
	default:
		return ActionUpdate
	}
}

// Report summarizes one cycle.
type Report struct {
	NotModified bool
	Seeded      int
	Created     int
	Updated     int
	Rejected    int
	Repaired    int
	Skipped     int
	Failed      int
	Malformed   int
}

func (r *Report) count(a Action) {
	switch a {
	case ActionCreate:
		r.Created++
	case ActionUpdate:
		r.Updated++
	case ActionRejected:
		r.Rejected++
	case ActionRepair:
		r.Repaired++
	default:
		r.Skipped++
	}
}

// Counts returns the per-action entry counts, keyed by the names used in logs and metrics.
func (r Report) Counts() map[string]int {
	return map[string]int{
		"seed":      r.Seeded,
		"create":    r.Created,
		"update":    r.Updated,
		"rejected":  r.Rejected,
		"repair":    r.Repaired,
		"skip":      r.Skipped,
		"failed":    r.Failed,
		"malformed": r.Malformed,
	}
}
