// Package stage describes readiness of the collaborators a pipeline run
// depends on.
package stage

import "context"

// Health summarizes the readiness of a pipeline collaborator.
type Health struct {
	Name     string
	Ready    bool
	Optional bool
	Detail   string
}

// Healthy constructs a ready Health record.
func Healthy(name string) Health {
	return Health{Name: name, Ready: true}
}

// Unhealthy constructs an unhealthy Health record with context detail.
func Unhealthy(name, detail string) Health {
	return Health{Name: name, Ready: false, Detail: detail}
}

// Checker reports the health of one collaborator.
type Checker interface {
	HealthCheck(ctx context.Context) Health
}

// CheckFunc adapts a function to the Checker interface.
type CheckFunc func(ctx context.Context) Health

// HealthCheck calls f.
func (f CheckFunc) HealthCheck(ctx context.Context) Health {
	return f(ctx)
}

// Optional marks a Checker's results as not required for a run.
func Optional(c Checker) Checker {
	return CheckFunc(func(ctx context.Context) Health {
		h := c.HealthCheck(ctx)
		h.Optional = true
		return h
	})
}

// Collect runs every checker in order.
func Collect(ctx context.Context, checkers ...Checker) []Health {
	out := make([]Health, 0, len(checkers))
	for _, c := range checkers {
		if c == nil {
			continue
		}
		out = append(out, c.HealthCheck(ctx))
	}
	return out
}

// Ready reports whether every required check passed.
func Ready(results []Health) bool {
	for _, h := range results {
		if !h.Ready && !h.Optional {
			return false
		}
	}
	return true
}
