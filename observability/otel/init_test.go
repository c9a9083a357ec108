package otel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseHeaders(t *testing.T) {
	headers, err := ParseHeaders(" authorization = Bearer abc , x-tenant=bridge,,")
	require.NoError(t, err)
	require.Equal(t, map[string]string{
		"authorization": "Bearer abc",
		"x-tenant":      "bridge",
	}, headers)

	empty, err := ParseHeaders("")
	require.NoError(t, err)
	require.Empty(t, empty)

	_, err = ParseHeaders("novalue")
	require.Error(t, err)
	_, err = ParseHeaders("=orphan")
	require.Error(t, err)
}

func TestInitDisabledIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestInitRequiresServiceName(t *testing.T) {
	_, err := Init(context.Background(), Config{Traces: true})
	require.Error(t, err)
}
