// Package oracle is the engine's optional client to a hash oracle: a
// service that remembers which content digest a given remote path has
// resolved to in the past, across jobs and hosts. It is consulted
// after the verification pool is built (a digest that disagrees with the
// pool's is logged as a warning) and updated after a job succeeds (to publish a confirmation), but it is never on
// the critical path for correctness — a job proceeds with or without it.
package oracle

import "context"

// Oracle looks up and publishes known-good digests for a remote path.
type Oracle interface {
	// Lookup returns the previously-published digest for path, if any.
	// ok is false when the oracle has no opinion, which is not an error.
	Lookup(ctx context.Context, path string) (digest string, ok bool, err error)

	// Publish records that path resolved to digest after a
	// successfully verified and assembled job.
	Publish(ctx context.Context, path, digest string) error
}

// Nil is a no-op Oracle: every Lookup misses and every Publish
// succeeds trivially. It is the default when no oracle endpoint is
// configured, playing the same role the teacher's audit.Logger plays
// when audit logging is disabled — present everywhere in the call
// graph, inert by construction.
type Nil struct{}

func (Nil) Lookup(_ context.Context, _ string) (string, bool, error) {
	return "", false, nil
}

func (Nil) Publish(_ context.Context, _, _ string) error {
	return nil
}

var _ Oracle = Nil{}
