// Package health provides the preflight checks behind `vocabctl doctor`.
// Components register Check functions, and the Checker runs them in parallel
// to produce an aggregate Report.
package health

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"sync"
	"text/tabwriter"
	"time"
)

// Status represents the health state of a component or the system overall.
type Status string

const (
	StatusUp       Status = "up"
	StatusDown     Status = "down"
	StatusDegraded Status = "degraded"
)

// Check is a function that probes a single dependency and returns its status.
type Check func(ctx context.Context) ComponentHealth

// ComponentHealth holds the result of a single component check.
type ComponentHealth struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// Report is the aggregated result of all component checks.
type Report struct {
	Status     Status                     `json:"status"`
	Components map[string]ComponentHealth `json:"components"`
	Timestamp  string                     `json:"timestamp"`
}

// Checker manages registered health checks and runs them concurrently.
type Checker struct {
	checks map[string]Check
	mu     sync.RWMutex
	logger *slog.Logger
}

// NewChecker creates an empty Checker.
func NewChecker() *Checker {
	return &Checker{
		checks: make(map[string]Check),
		logger: slog.Default().With("component", "health"),
	}
}

// Register adds a named health check.
func (c *Checker) Register(name string, check Check) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
}

// Run executes all registered checks concurrently and returns an aggregated
// Report. The overall status is the worst status among all components.
func (c *Checker) Run(ctx context.Context) Report {
	c.mu.RLock()
	checks := make(map[string]Check, len(c.checks))
	for name, check := range c.checks {
		checks[name] = check
	}
	c.mu.RUnlock()
	report := Report{
		Status:     StatusUp,
		Components: make(map[string]ComponentHealth, len(checks)),
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}

	var wg sync.WaitGroup
	var mu sync.Mutex

	for name, check := range checks {
		wg.Add(1)
		go func(n string, ch Check) {
			defer wg.Done()
			start := time.Now()
			result := ch(ctx)
			result.Latency = time.Since(start).Round(time.Millisecond).String()
			mu.Lock()
			report.Components[n] = result
			mu.Unlock()
		}(name, check)
	}
	wg.Wait()
	for name, comp := range report.Components {
		if comp.Status != StatusUp {
			c.logger.Warn("check not up", "check", name, "status", comp.Status, "message", comp.Message)
		}
		switch comp.Status {
		case StatusDown:
			report.Status = StatusDown
		case StatusDegraded:
			if report.Status != StatusDown {
				report.Status = StatusDegraded
			}
		}
	}
	return report
}

// Print writes the report as an aligned table, components sorted by name.
func (r Report) Print(w io.Writer) error {
	names := make([]string, 0, len(r.Components))
	for name := range r.Components {
		names = append(names, name)
	}
	sort.Strings(names)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CHECK\tSTATUS\tLATENCY\tMESSAGE")
	for _, name := range names {
		c := r.Components[name]
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", name, c.Status, c.Latency, c.Message)
	}
	fmt.Fprintf(tw, "overall\t%s\t\t\n", r.Status)
	return tw.Flush()
}

// Up and Down build results for simple checks.
func Up(msg string) ComponentHealth { return ComponentHealth{Status: StatusUp, Message: msg} }

func Down(msg string) ComponentHealth { return ComponentHealth{Status: StatusDown, Message: msg} }

// PingCheck wraps a dependency ping. Optional dependencies report degraded
// instead of down when unreachable.
func PingCheck(ping func(ctx context.Context) error, optional bool) Check {
	return func(ctx context.Context) ComponentHealth {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := ping(ctx); err != nil {
			if optional {
				return ComponentHealth{Status: StatusDegraded, Message: err.Error()}
			}
			return Down(err.Error())
		}
		return Up("reachable")
	}
}

// FileCheck reports whether path exists and is readable.
func FileCheck(path string) Check {
	return func(context.Context) ComponentHealth {
		f, err := os.Open(path)
		if err != nil {
			return Down(err.Error())
		}
		defer f.Close()
		info, err := f.Stat()
		if err != nil {
			return Down(err.Error())
		}
		return Up(fmt.Sprintf("%s (%d bytes)", path, info.Size()))
	}
}

// EnvCheck reports whether a credential variable carries a value, without
// echoing it.
func EnvCheck(name, value string) Check {
	return func(context.Context) ComponentHealth {
		if value == "" {
			return Down(name + " is not set")
		}
		return Up(name + " is set")
	}
}
