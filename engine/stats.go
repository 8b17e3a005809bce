package engine

import "fmt"

// Stats is a point-in-time summary of the engine's state, returned by the
// operator stats command.
type Stats struct {
	CommittedTx int64
	RowCount    int
}

func (e *Engine) Stats() Stats {
	return Stats{
		CommittedTx: int64(e.CommittedTx()),
		RowCount:    e.RowCount(),
	}
}

func (s Stats) String() string {
	return fmt.Sprintf("committed_tx=%d rows=%d", s.CommittedTx, s.RowCount)
}
