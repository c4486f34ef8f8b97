// pkg/orchestrator/ping.go
package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/CodeMonkeyCybersecurity/fuzzfleet/pkg/store"
	"github.com/hashicorp/go-multierror"
)

// HostState is the probe outcome for one host.
type HostState struct {
	Kind      string `yaml:"kind"`
	ID        uint   `yaml:"id"`
	Address   string `yaml:"address"`
	Reachable bool   `yaml:"reachable"`
}

// PingAll probes every node and the shared storage target and writes the
// result back to their records.
func (o *Orchestrator) PingAll(ctx context.Context) ([]HostState, error) {
	nodes, err := o.records.Nodes.List(ctx)
	if err != nil {
		return nil, err
	}

	var (
		result *multierror.Error
		states []HostState
	)
	for i := range nodes {
		n := &nodes[i]
		ok := o.prober.Probe(ctx, n.Credentials())
		now := time.Now().UTC()
		n.Connected, n.CheckedAt = &ok, &now
		if err := o.records.Nodes.Save(ctx, n); err != nil {
			result = multierror.Append(result, err)
		}
		states = append(states, HostState{Kind: store.KindNode, ID: n.ID, Address: n.Address, Reachable: ok})
	}

	target, err := store.SharedStorage(ctx, o.records.Storage)
	switch {
	case errors.Is(err, store.ErrNotFound):
		o.logger.Warn("No shared storage target configured")
	case err != nil:
		result = multierror.Append(result, err)
	default:
		ok := o.prober.Probe(ctx, target.Credentials())
		now := time.Now().UTC()
		target.LastState, target.CheckedAt = &ok, &now
		if err := o.records.Storage.Save(ctx, target); err != nil {
			result = multierror.Append(result, err)
		}
		states = append(states, HostState{Kind: store.KindStorage, ID: target.ID, Address: target.Address, Reachable: ok})
	}

	return states, result.ErrorOrNil()
}
