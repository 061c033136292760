package flurry

// RunStats holds the pool counters. Only the pool mutates it; callers get
// copies.
type RunStats struct {
	Attempted   uint64
	Established uint64
	Failed      uint64
	Reclaimed   uint64
	Total       uint64
}

// Done reports whether the established target has been reached.
func (s RunStats) Done() bool {
	return s.Established >= s.Total
}

// BudgetLeft reports whether another attempt may be issued.
func (s RunStats) BudgetLeft() bool {
	return s.Attempted < s.Total
}
