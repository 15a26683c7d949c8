package actuator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/OCAP2/conveyor/pkg/core"
)

// Runner executes a command and returns its standard output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// GzConfig configures the gz CLI actuator.
type GzConfig struct {
	Binary string // defaults to "gz"
	World  string // world name as used in /world/<name>/...
}

// Gz drives a Gazebo world through the gz command line tool.
type Gz struct {
	cfg GzConfig
	run Runner
}

// NewGz creates a gz CLI actuator. A nil runner uses os/exec.
func NewGz(cfg GzConfig, run Runner) *Gz {
	if cfg.Binary == "" {
		cfg.Binary = "gz"
	}
	if run == nil {
		run = execRunner
	}
	return &Gz{cfg: cfg, run: run}
}

func (g *Gz) Spawn(ctx context.Context, id string, variant core.Variant, pos core.Position3D) error {
	req := fmt.Sprintf(`sdf_filename: "model://%s", name: "%s", pose: {position: %s}`,
		variant.ModelName(), id, formatPosition(pos))

	out, err := g.service(ctx, "create", "gz.msgs.EntityFactory", "2000", req)
	if err != nil {
		return fmt.Errorf("spawn %s: %w", id, err)
	}
	if !strings.Contains(strings.ToLower(string(out)), "true") {
		return fmt.Errorf("spawn %s: %w: %s", id, ErrRejected, strings.TrimSpace(string(out)))
	}
	return nil
}

func (g *Gz) Move(ctx context.Context, id string, pos core.Position3D) error {
	req := fmt.Sprintf(`name: "%s", position: %s`, id, formatPosition(pos))
	if _, err := g.service(ctx, "set_pose/blocking", "gz.msgs.Pose", "200", req); err != nil {
		return fmt.Errorf("move %s: %w", id, err)
	}
	return nil
}

func (g *Gz) Delete(ctx context.Context, id string) error {
	// type 2 is MODEL in gz.msgs.Entity
	req := fmt.Sprintf(`name: "%s", type: 2`, id)
	if _, err := g.service(ctx, "remove", "gz.msgs.Entity", "1000", req); err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	return nil
}

func (g *Gz) service(ctx context.Context, endpoint, reqType, timeoutMs, req string) ([]byte, error) {
	return g.run(ctx, g.cfg.Binary,
		"service",
		"-s", fmt.Sprintf("/world/%s/%s", g.cfg.World, endpoint),
		"--reqtype", reqType,
		"--reptype", "gz.msgs.Boolean",
		"--timeout", timeoutMs,
		"--req", req,
	)
}

func formatPosition(p core.Position3D) string {
	return fmt.Sprintf("{x: %s, y: %s, z: %s}", formatFloat(p.X), formatFloat(p.Y), formatFloat(p.Z))
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s", err, msg)
	}
	return stdout.Bytes(), nil
}
