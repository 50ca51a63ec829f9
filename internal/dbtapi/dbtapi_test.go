package dbtapi_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/retrojit/dbtjit/internal/dbtapi"
)

func TestPool_AllocateReusesResetValues(t *testing.T) {
	builds := 0
	p := dbtapi.NewPool(func() *int {
		builds++
		v := 0
		return &v
	})

	a := p.Allocate()
	require.Equal(t, 1, builds)

	p.Reset(a)
	b := p.Allocate()
	require.Equal(t, 1, builds, "a reset value must be reused instead of rebuilt")
	require.True(t, a == b)

	p.Allocate()
	require.Equal(t, 2, builds, "an empty free list must fall back to new()")
}

func TestPool_FreshPoolIsEmpty(t *testing.T) {
	p := dbtapi.NewPool(func() *string {
		s := "fresh"
		return &s
	})
	v := p.Allocate()
	require.Equal(t, "fresh", *v)
}
