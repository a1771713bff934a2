// https://github.com/tech2077/litepcie-go
//
// Copyright (c) The litepcie-go Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package dmabuf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegionRejectsInvalidSize(t *testing.T) {
	_, err := NewRegion(0, 16, nil)
	require.Error(t, err)

	_, err = NewRegion(4, 0, nil)
	require.Error(t, err)
}

func TestRegionSlicesAreDistinctAndContiguous(t *testing.T) {
	r, err := NewRegion(4, 32, nil)
	require.NoError(t, err)
	defer r.Free()

	assert.Equal(t, 4, r.Count())
	assert.Equal(t, 32, r.BufferSize())

	full := r.Full()
	require.Len(t, full, 128)

	for i := 0; i < r.Count(); i++ {
		s := r.Slice(i)
		require.Len(t, s, 32)
		s[0] = byte(i + 1)
	}

	for i := 0; i < r.Count(); i++ {
		assert.Equal(t, byte(i+1), full[i*32])
	}
}

func TestIdentityResolverRejectsEmptyBuffer(t *testing.T) {
	_, err := IdentityResolver(nil)
	require.Error(t, err)
}

func TestRegionAddressUsesResolver(t *testing.T) {
	calls := 0
	r, err := NewRegion(2, 16, func(buf []byte) (uint64, error) {
		calls++
		return 0xABCD, nil
	})
	require.NoError(t, err)
	defer r.Free()

	addr, err := r.Address(1)
	require.NoError(t, err)
	assert.Equal(t, uint64(0xABCD), addr)
	assert.Equal(t, 1, calls)
}

func TestRegionFreeIsIdempotent(t *testing.T) {
	r, err := NewRegion(2, 16, nil)
	require.NoError(t, err)

	require.NoError(t, r.Free())
	require.NoError(t, r.Free())
}
