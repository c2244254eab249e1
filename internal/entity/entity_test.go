package entity

import (
	"testing"

	"github.com/stretchr/testify/require"

	"wtproto/pkg/bundle"
)

func TestDispatchByRange(t *testing.T) {
	d := NewDispatcher()
	var got []int
	err := d.Register(10, 12, []Descriptor{
		{Name: "moveTo", Length: bundle.LengthFixed, FixedBytes: 12},
		{Name: "stop", Length: bundle.LengthFixed, FixedBytes: 0},
		{Name: "say", Length: bundle.LengthVar8},
	}, func(idx int, body []byte) error {
		got = append(got, idx)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, d.Dispatch(10, nil))
	require.NoError(t, d.Dispatch(12, []byte("hi")))
	require.Equal(t, []int{0, 2}, got)

	desc, idx, err := d.Descriptor(11)
	require.NoError(t, err)
	require.Equal(t, "stop", desc.Name)
	require.Equal(t, 1, idx)
}

func TestDispatchOutsideRangeErrors(t *testing.T) {
	d := NewDispatcher()
	require.NoError(t, d.Register(10, 12, make([]Descriptor, 3), func(int, []byte) error { return nil }))

	err := d.Dispatch(5, nil)
	require.ErrorIs(t, err, ErrNoRange)

	err = d.Dispatch(20, nil)
	require.ErrorIs(t, err, ErrNoRange)
}

func TestRegisterRejectsOverlap(t *testing.T) {
	d := NewDispatcher()
	require.NoError(t, d.Register(10, 12, make([]Descriptor, 3), func(int, []byte) error { return nil }))
	err := d.Register(12, 14, make([]Descriptor, 3), func(int, []byte) error { return nil })
	require.Error(t, err)
}

func TestRegisterRejectsTooManyDescriptors(t *testing.T) {
	d := NewDispatcher()
	err := d.Register(10, 12, make([]Descriptor, 4), func(int, []byte) error { return nil })
	require.Error(t, err)
}

func TestSparseRangeYieldsUnknownMethod(t *testing.T) {
	d := NewDispatcher()
	err := d.Register(10, 14, []Descriptor{
		{Name: "moveTo"},
		{Name: "stop"},
	}, func(int, []byte) error { return nil })
	require.NoError(t, err)

	require.NoError(t, d.Dispatch(10, nil))
	require.NoError(t, d.Dispatch(11, nil))

	err = d.Dispatch(12, nil)
	require.ErrorIs(t, err, ErrUnknownMethod)

	err = d.Dispatch(14, nil)
	require.ErrorIs(t, err, ErrUnknownMethod)

	err = d.Dispatch(15, nil)
	require.ErrorIs(t, err, ErrNoRange)
}

func TestMultipleRangesResolveIndependently(t *testing.T) {
	d := NewDispatcher()
	var calledCell, calledBase bool
	require.NoError(t, d.Register(0, 9, make([]Descriptor, 10), func(int, []byte) error {
		calledCell = true
		return nil
	}))
	require.NoError(t, d.Register(20, 29, make([]Descriptor, 10), func(int, []byte) error {
		calledBase = true
		return nil
	}))

	require.NoError(t, d.Dispatch(3, nil))
	require.True(t, calledCell)
	require.NoError(t, d.Dispatch(25, nil))
	require.True(t, calledBase)

	err := d.Dispatch(15, nil)
	require.ErrorIs(t, err, ErrNoRange)
}
