package worker

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/OCAP2/conveyor/internal/cache"
	"github.com/OCAP2/conveyor/pkg/core"
)

const instrumentationName = "github.com/OCAP2/conveyor/internal/worker"

func meter() metric.Meter {
	return otel.Meter(instrumentationName)
}

type instruments struct {
	spawned        metric.Int64Counter
	spawnFailures  metric.Int64Counter
	moves          metric.Int64Counter
	moveFailures   metric.Int64Counter
	removed        metric.Int64Counter
	deleteFailures metric.Int64Counter
	pauseEpisodes  metric.Int64Counter
	tracked        metric.Int64ObservableGauge
}

func reasonAttr(r core.RemovalReason) metric.AddOption {
	return metric.WithAttributes(attribute.String("reason", string(r)))
}

// newInstruments uses the global meter provider (no-op if not configured).
func newInstruments(table *cache.EntityTable) (*instruments, error) {
	m := meter()
	inst := &instruments{}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&inst.spawned, "conveyor.entities.spawned", "Entities spawned successfully"},
		{&inst.spawnFailures, "conveyor.entities.spawn_failures", "Failed spawn attempts"},
		{&inst.moves, "conveyor.entities.moves", "Successful move commands"},
		{&inst.moveFailures, "conveyor.entities.move_failures", "Failed move commands"},
		{&inst.removed, "conveyor.entities.removed", "Entities removed from tracking"},
		{&inst.deleteFailures, "conveyor.entities.delete_failures", "Failed delete commands"},
		{&inst.pauseEpisodes, "conveyor.pause.episodes", "Times spawning was paused"},
	}

	var err error
	for _, c := range counters {
		*c.dst, err = m.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, fmt.Errorf("creating %s counter: %w", c.name, err)
		}
	}

	inst.tracked, err = m.Int64ObservableGauge(
		"conveyor.entities.tracked",
		metric.WithDescription("Entities currently tracked"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating tracked gauge: %w", err)
	}

	_, err = m.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			o.ObserveInt64(inst.tracked, int64(table.Count()))
			return nil
		},
		inst.tracked,
	)
	if err != nil {
		return nil, fmt.Errorf("registering tracked callback: %w", err)
	}

	return inst, nil
}
