package oracle

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNil_AlwaysMisses(t *testing.T) {
	var o Nil
	digest, ok, err := o.Lookup(context.Background(), "/some/path")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, digest)
}

func TestNil_PublishAlwaysSucceeds(t *testing.T) {
	var o Nil
	err := o.Publish(context.Background(), "/some/path", "deadbeef")
	assert.NoError(t, err)
}
