package auditctx

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWithActorRoundTrip(t *testing.T) {
	ctx := WithActor(context.Background(), Actor{UserID: "D1", Role: "doctor", IPAddress: "10.0.0.1", UserAgent: "curl"})

	actor, ok := FromContext(ctx)
	require.True(t, ok)
	require.Equal(t, "D1", actor.UserID)
	require.Equal(t, "10.0.0.1", actor.IPAddress)
}

func TestFromContextWithoutActor(t *testing.T) {
	_, ok := FromContext(context.Background())
	require.False(t, ok)

	//nolint:staticcheck // nil context is tolerated
	_, ok = FromContext(nil)
	require.False(t, ok)
}

func TestWithActorNilContext(t *testing.T) {
	//nolint:staticcheck // nil context is tolerated
	ctx := WithActor(nil, Actor{UserID: "P1"})
	actor, ok := FromContext(ctx)
	require.True(t, ok)
	require.Equal(t, "P1", actor.UserID)
}
