package registry

import (
	"errors"
	"testing"

	"github.com/cuemby/sdpcontroller/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pool = []string{"m000", "m001", "m002", "m003"}

func TestLoadRegistry(t *testing.T) {
	reg, err := Load(pool, []SubarraySpec{
		{Name: "subarray2", Namespace: "sdparray2", Receptors: []string{"m002", "m003"}, Template: "small"},
		{Name: "subarray1", Namespace: "sdparray1", Receptors: []string{"m000", "m001"}},
	})
	require.NoError(t, err)

	sub, err := reg.Lookup("subarray1")
	require.NoError(t, err)
	assert.Equal(t, "sdparray1", sub.Namespace)
	assert.Equal(t, []string{"m000", "m001"}, sub.Receptors)
	assert.Equal(t, DefaultTemplate, sub.Template)

	sub, err = reg.Lookup("subarray2")
	require.NoError(t, err)
	assert.Equal(t, "small", sub.Template)

	names := []string{}
	for _, s := range reg.Subarrays() {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"subarray1", "subarray2"}, names)
	assert.Equal(t, pool, reg.Receptors())
}

func TestLookupUnknown(t *testing.T) {
	reg, err := Load(pool, nil)
	require.NoError(t, err)

	_, err = reg.Lookup("subarray9")
	assert.True(t, errors.Is(err, types.ErrNotFound))
}

func TestOverlappingSubarraysAreAllowed(t *testing.T) {
	// Exclusivity is enforced at activation time, not in configuration
	_, err := Load(pool, []SubarraySpec{
		{Name: "subarray1", Namespace: "sdparray1", Receptors: []string{"m000"}},
		{Name: "subarray2", Namespace: "sdparray2", Receptors: []string{"m000", "m001"}},
	})
	assert.NoError(t, err)
}

func TestLoadRegistryValidation(t *testing.T) {
	tests := []struct {
		name  string
		pool  []string
		specs []SubarraySpec
		field string
	}{
		{
			name: "duplicate subarray name",
			pool: pool,
			specs: []SubarraySpec{
				{Name: "subarray1", Namespace: "sdparray1", Receptors: []string{"m000"}},
				{Name: "subarray1", Namespace: "sdparray2", Receptors: []string{"m001"}},
			},
			field: "name",
		},
		{
			name: "duplicate namespace",
			pool: pool,
			specs: []SubarraySpec{
				{Name: "subarray1", Namespace: "sdparray1", Receptors: []string{"m000"}},
				{Name: "subarray2", Namespace: "sdparray1", Receptors: []string{"m001"}},
			},
			field: "namespace",
		},
		{
			name:  "duplicate receptor in pool",
			pool:  []string{"m000", "m001", "m000"},
			field: "receptors",
		},
		{
			name: "receptor outside pool",
			pool: pool,
			specs: []SubarraySpec{
				{Name: "subarray1", Namespace: "sdparray1", Receptors: []string{"m063"}},
			},
			field: "receptors",
		},
		{
			name: "invalid namespace",
			pool: pool,
			specs: []SubarraySpec{
				{Name: "subarray1", Namespace: "SDP_Array", Receptors: []string{"m000"}},
			},
			field: "namespace",
		},
		{
			name: "no receptors",
			pool: pool,
			specs: []SubarraySpec{
				{Name: "subarray1", Namespace: "sdparray1"},
			},
			field: "receptors",
		},
		{
			name: "empty name",
			pool: pool,
			specs: []SubarraySpec{
				{Namespace: "sdparray1", Receptors: []string{"m000"}},
			},
			field: "name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg, err := Load(tt.pool, tt.specs)
			assert.Nil(t, reg)
			var verr *types.ValidationError
			require.True(t, errors.As(err, &verr), "expected ValidationError, got %v", err)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}
