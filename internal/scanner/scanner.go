// Package scanner runs the pre-session and scheduled market scanners that
// promote and demote symbols through the coordinator's provisioning path.
package scanner

import (
	"context"

	"github.com/aristath/marketsession/internal/bar"
)

// Result is what one scan produced: the symbols the scanner wants tracked
// and the intervals it needs on them. Symbols enter the session as adhoc
// entries; a strategy or the session config can upgrade them later.
type Result struct {
	Symbols   []string
	Intervals []bar.Interval
}

// Scanner is one scanner module: set up resources, produce a scan result,
// release resources. Implementations are registered at compile time under a
// module name the session config refers to.
type Scanner interface {
	Setup(ctx context.Context) error
	Scan(ctx context.Context) (Result, error)
	Teardown(ctx context.Context) error
}

// Factory constructs a scanner from its config map.
type Factory func(config map[string]any) (Scanner, error)
