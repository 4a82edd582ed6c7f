package restore

// Outcome is the per-record result of a restore attempt.
type Outcome int

const (
	OutcomeFailed Outcome = iota
	OutcomeCreated
	OutcomeUpdated
	OutcomeSkipped
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCreated:
		return "created"
	case OutcomeUpdated:
		return "updated"
	case OutcomeSkipped:
		return "skipped"
	default:
		return "failed"
	}
}

func (o Outcome) Succeeded() bool {
	return o == OutcomeCreated || o == OutcomeUpdated
}

// Tally aggregates outcomes for one stage.
type Tally struct {
	Attempted int `json:"attempted"`
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

func (t *Tally) Add(o Outcome) {
	t.Attempted++
	switch o {
	case OutcomeCreated:
		t.Created++
	case OutcomeUpdated:
		t.Updated++
	case OutcomeSkipped:
		t.Skipped++
	default:
		t.Failed++
	}
}

// FailAll counts n records that failed without being attempted remotely.
func (t *Tally) FailAll(n int) {
	t.Attempted += n
	t.Failed += n
}

func (t *Tally) Merge(o Tally) {
	t.Attempted += o.Attempted
	t.Created += o.Created
	t.Updated += o.Updated
	t.Skipped += o.Skipped
	t.Failed += o.Failed
}

func (t Tally) Succeeded() int {
	return t.Created + t.Updated
}
