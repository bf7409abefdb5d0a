package preflight

import (
	"context"
	"fmt"
	"strings"

	"speakerline/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// Role selects which process the checks are evaluated for.
type Role string

const (
	RoleServer Role = "server"
	RoleWorker Role = "worker"
)

// RunAll executes all preflight checks applicable to role.
func RunAll(ctx context.Context, cfg *config.Config, role Role) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result
	if role == RoleServer {
		results = append(results,
			CheckDirectoryAccess("Job directory", cfg.Paths.TempRoot),
			CheckDiskSpace("Job directory free space", cfg.Paths.TempRoot, minFreeBytes(cfg)),
		)
	}
	results = append(results, CheckDirectoryAccess("Queue directory", queueDir(cfg)))

	for _, status := range CheckSystemDeps(ctx, cfg, role) {
		result := Result{Name: status.Name, Passed: status.Available || status.Optional}
		switch {
		case status.Available:
			result.Detail = status.Path
		default:
			result.Detail = status.Detail
		}
		results = append(results, result)
	}
	return results
}

// Failed returns an error listing failed checks, or nil when all passed.
func Failed(results []Result) error {
	var failed []string
	for _, result := range results {
		if !result.Passed {
			failed = append(failed, fmt.Sprintf("%s: %s", result.Name, result.Detail))
		}
	}
	if len(failed) == 0 {
		return nil
	}
	return fmt.Errorf("preflight failed: %s", strings.Join(failed, "; "))
}

func minFreeBytes(cfg *config.Config) uint64 {
	if cfg.Server.MinFreeGiB <= 0 {
		return 0
	}
	return uint64(cfg.Server.MinFreeGiB) << 30
}
