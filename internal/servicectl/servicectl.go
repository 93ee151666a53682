// Package servicectl delegates POST /api/service/{name}/{action} (spec.md
// §4.8) to the host service manager. Grounded on internal/health/probe.go's
// exec.CommandContext("systemctl", ...) pattern, narrowed from a read-only
// liveness probe to the three mutating verbs the API exposes, each gated
// by the same allow-list contract health's probes already assume: only a
// name the operator configured as a managed unit may be touched.
package servicectl

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"time"

	"github.com/piwardrive/piwardrive/internal/domain"
)

// Action is one of the three control verbs the API accepts.
type Action string

const (
	Start   Action = "start"
	Stop    Action = "stop"
	Restart Action = "restart"
)

func (a Action) valid() bool {
	switch a {
	case Start, Stop, Restart:
		return true
	default:
		return false
	}
}

// Controller runs systemctl against an allow-listed set of unit names.
type Controller struct {
	AllowList map[string]bool
	Timeout   time.Duration
}

// New builds a Controller restricted to units. A nil/empty units slice
// allows nothing -- every call returns a ValidationError.
func New(units []string) *Controller {
	allow := make(map[string]bool, len(units))
	for _, u := range units {
		allow[u] = true
	}
	return &Controller{AllowList: allow, Timeout: 5 * time.Second}
}

// Do runs action against unit and reports the resulting liveness
// ("systemctl is-active" immediately after the mutating call). Unknown
// units and actions return a *domain.Error{Kind: KindValidation} and
// never reach exec.Command.
func (c *Controller) Do(ctx context.Context, unit string, action Action) (active bool, err error) {
	if !action.valid() {
		return false, domain.ValidationError("unknown service action %q", action)
	}
	if !c.AllowList[unit] {
		return false, domain.ValidationError("unit %q is not in the allow-list", unit)
	}

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "systemctl", string(action), unit)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return false, domain.Wrap(domain.KindStorage, "systemctl "+string(action)+" "+unit, err)
	}

	return c.isActive(runCtx, unit)
}

func (c *Controller) isActive(ctx context.Context, unit string) (bool, error) {
	cmd := exec.CommandContext(ctx, "systemctl", "is-active", unit)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	_ = cmd.Run() // "is-active" exits non-zero for an inactive unit; stdout still valid
	return strings.TrimSpace(stdout.String()) == "active", nil
}
