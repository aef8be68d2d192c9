package verifypool

import (
	"context"
	"errors"
	"sync"

	"github.com/snapetech/slskdn-sub000/internal/transport"
)

// ErrInsufficientVerifiedSources is returned when fewer than the
// configured minimum number of sources agree on a digest.
var ErrInsufficientVerifiedSources = errors.New("verifypool: insufficient verified sources")

// Result is one candidate's digest outcome.
type Result struct {
	Ref    transport.SourceRef
	Digest string
	Err    error
}

// Pool is the set of sources that agreed on the majority digest, ready
// to be handed to the Scheduler.
type Pool struct {
	Digest  string
	Sources []transport.SourceRef
}

// Build fetches a content-prefix digest from every candidate with
// bounded parallelism, groups candidates by digest, and returns the
// largest group as the verified pool. Ties are broken by the candidate
// order in refs (first-seen group wins), so the result is deterministic
// given deterministic input order.
//
// Sources whose digest fetch errors are dropped silently from
// consideration — they simply don't contribute a vote — unless that
// leaves zero groups, in which case Build returns
// ErrInsufficientVerifiedSources.
func Build(ctx context.Context, adapter transport.Adapter, refs []transport.SourceRef, prefixSize int64, minVerified, maxParallel int) (*Pool, error) {
	if len(refs) == 0 {
		return nil, ErrInsufficientVerifiedSources
	}
	if maxParallel <= 0 {
		maxParallel = 1
	}

	results := make([]Result, len(refs))
	sem := make(chan struct{}, maxParallel)
	var wg sync.WaitGroup

	for i, ref := range refs {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, ref transport.SourceRef) {
			defer wg.Done()
			defer func() { <-sem }()

			digest, err := Digest(ctx, adapter, ref, prefixSize)
			results[i] = Result{Ref: ref, Digest: digest, Err: err}
		}(i, ref)
	}
	wg.Wait()

	var order []string
	groups := make(map[string][]transport.SourceRef)
	for _, r := range results {
		if r.Err != nil {
			continue
		}
		if _, seen := groups[r.Digest]; !seen {
			order = append(order, r.Digest)
		}
		groups[r.Digest] = append(groups[r.Digest], r.Ref)
	}

	var best string
	bestLen := -1
	for _, digest := range order {
		if n := len(groups[digest]); n > bestLen {
			bestLen = n
			best = digest
		}
	}

	if bestLen < minVerified {
		return nil, ErrInsufficientVerifiedSources
	}

	return &Pool{Digest: best, Sources: groups[best]}, nil
}
