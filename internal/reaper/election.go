// Package reaper runs the optional heartbeat reaper (§4.5, §9): a
// leader-elected sweep that marks running contracts whose commitment has
// gone heartbeat-silent past the configured expiry as `error`, since
// nothing else in the system ever reclaims a worker that died mid-contract.
// Adapted from the teacher's pkg/coordination (etcd leader election) and
// pkg/scheduler's Run/Reconcile ticker loop (pkg/scheduler/core.go),
// repurposed from cron-node liveness to contract-commitment liveness.
package reaper

import (
	"context"
	"fmt"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
)

// Elector wins and holds a single, cluster-wide leadership slot so that only
// one reaperd replica sweeps at a time, mirroring the teacher's
// coordination.Coordinator/Election split.
type Elector interface {
	// Campaign blocks until this process becomes leader or ctx is cancelled.
	Campaign(ctx context.Context, value string) error
	// Resign releases leadership.
	Resign(ctx context.Context) error
	// IsLeader reports whether this process currently holds leadership.
	IsLeader() bool
	Close() error
}

// EtcdElector implements Elector over go.etcd.io/etcd/client/v3/concurrency,
// the same election primitive the teacher used for scheduler leadership.
type EtcdElector struct {
	client   *clientv3.Client
	session  *concurrency.Session
	election *concurrency.Election
	leader   bool
}

// NewEtcdElector connects to etcd and prepares a campaign under the
// "/contractsd/reaper" election prefix. ttl is the session lease in seconds.
func NewEtcdElector(endpoints []string, ttl int) (*EtcdElector, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("reaper: connect to etcd: %w", err)
	}

	sess, err := concurrency.NewSession(cli, concurrency.WithTTL(ttl))
	if err != nil {
		cli.Close()
		return nil, fmt.Errorf("reaper: create etcd session: %w", err)
	}

	return &EtcdElector{
		client:   cli,
		session:  sess,
		election: concurrency.NewElection(sess, "/contractsd/reaper"),
	}, nil
}

func (e *EtcdElector) Campaign(ctx context.Context, value string) error {
	if err := e.election.Campaign(ctx, value); err != nil {
		return err
	}
	e.leader = true
	return nil
}

func (e *EtcdElector) Resign(ctx context.Context) error {
	e.leader = false
	return e.election.Resign(ctx)
}

func (e *EtcdElector) IsLeader() bool {
	return e.leader
}

func (e *EtcdElector) Close() error {
	if e.session != nil {
		e.session.Close()
	}
	return e.client.Close()
}
