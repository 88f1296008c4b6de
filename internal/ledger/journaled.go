package ledger

// Journaled is anything that can checkpoint its state and roll back to it.
// Snapshot ids are stack positions: reverting or committing id discards every
// later snapshot as well.
type Journaled interface {
	Snapshot() int
	RevertToSnapshot(id int)
	Commit(id int)
}

type checkpoint struct {
	j  Journaled
	id int
}

// Checkpoints is a set of snapshots taken together.
type Checkpoints []checkpoint

// Checkpoint snapshots every participant in order.
func Checkpoint(participants ...Journaled) Checkpoints {
	cps := make(Checkpoints, 0, len(participants))
	for _, j := range participants {
		cps = append(cps, checkpoint{j: j, id: j.Snapshot()})
	}
	return cps
}

// Revert rolls participants back in reverse order.
func (c Checkpoints) Revert() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i].j.RevertToSnapshot(c[i].id)
	}
}

func (c Checkpoints) Commit() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i].j.Commit(c[i].id)
	}
}
