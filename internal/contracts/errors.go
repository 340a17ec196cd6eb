package contracts

import "errors"

// Domain error taxonomy. Failures are isolated per ticker or per index and
// aggregated into run reports; none of these aborts a whole batch run.
var (
	// ErrInsufficientHistory: the benchmark series needed for beta is
	// entirely absent. Short per-ticker histories are not errors; they
	// produce partial snapshots with nil fields.
	ErrInsufficientHistory = errors.New("insufficient history")

	// ErrNoEligibleConstituents: a rule set filtered the universe to
	// nothing. Reported, never swallowed: an empty index is a data
	// quality signal. The prior snapshot stays in force.
	ErrNoEligibleConstituents = errors.New("no eligible constituents")

	// ErrWeightCapInfeasible: the per-name cap cannot be satisfied for
	// the number of selected names (cap * n < 1). The normalizer still
	// returns its best-effort capped weights alongside this error.
	ErrWeightCapInfeasible = errors.New("weight cap infeasible")

	// ErrFetchFailed: the external source exhausted its retry budget for
	// a ticker batch. The affected range is skipped for the run.
	ErrFetchFailed = errors.New("fetch failed")
)
