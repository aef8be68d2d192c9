// Package verifypool builds the set of sources that may participate in
// a swarm download by fetching a content prefix from each candidate and
// grouping them by digest, so sources disagreeing with the majority are
// excluded before a single byte of the real transfer happens.
package verifypool

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/snapetech/slskdn-sub000/internal/retry"
	"github.com/snapetech/slskdn-sub000/internal/transport"
)

// Digest fetches the first prefixSize bytes of ref's content through
// adapter and returns their SHA-256 digest, hex-encoded. It performs no
// semantic validation of the bytes — the Prefix Digester's contract is
// purely "what did this source actually hand back".
func Digest(ctx context.Context, adapter transport.Adapter, ref transport.SourceRef, prefixSize int64) (string, error) {
	fetch := func() ([]byte, error) {
		var buf bytes.Buffer
		sink := transport.NewBoundedSink(&buf, prefixSize)
		if _, err := adapter.Download(ctx, ref, 0, sink); err != nil {
			if err == transport.ErrPeerRejected || err == transport.ErrOther {
				// Not worth retrying: a rejected ranged request or an
				// internal transport fault won't resolve itself across
				// attempts against the same source.
				return nil, retry.NonRetryable(err)
			}
			return nil, err
		}
		return buf.Bytes(), nil
	}

	data, err := retry.Do(ctx, retry.PrefixDigestConfig(), fetch)
	if err != nil {
		return "", fmt.Errorf("verifypool: digest %s: %w", ref.RemotePath, err)
	}

	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
