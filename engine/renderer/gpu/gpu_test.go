package gpu

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDriver struct {
	name   string
	opened int
}

func (d *fakeDriver) Open() (Device, error) {
	d.opened++
	return nil, ErrNoDevice
}

func (d *fakeDriver) Name() string { return d.name }

func (d *fakeDriver) Close() {}

func TestRegisterReplacesByName(t *testing.T) {
	first := &fakeDriver{name: "fake-register"}
	second := &fakeDriver{name: "fake-register"}
	Register(first)
	Register(second)

	count := 0
	for _, d := range Drivers() {
		if d.Name() == "fake-register" {
			count++
			assert.Same(t, second, d)
		}
	}
	assert.Equal(t, 1, count)

	_, _, err := Open("fake-register")
	assert.ErrorIs(t, err, ErrNoDevice)
	assert.Equal(t, 1, second.opened)
	assert.Zero(t, first.opened)

	_, _, err = Open("does-not-exist")
	assert.True(t, errors.Is(err, ErrNotInstalled))
}

func TestInstanceDescLayout(t *testing.T) {
	d := InstanceDesc{
		Transform:                           [12]float32{1, 0, 0, 5, 0, 1, 0, 6, 0, 0, 1, 7},
		InstanceID:                          3,
		InstanceMask:                        0xff,
		InstanceContributionToHitGroupIndex: 3,
		AccelerationStructure:               0x1234_0000_0100,
	}
	b := make([]byte, InstanceDescSize)
	d.Encode(b)

	// mask and hit group contribution share words with the 24 bit fields
	assert.Equal(t, []byte{3, 0, 0, 0xff}, b[48:52])
	assert.Equal(t, []byte{3, 0, 0, 0}, b[52:56])
	require.Equal(t, d, DecodeInstanceDesc(b))
}

func TestResourceStateString(t *testing.T) {
	assert.Equal(t, "COMMON|PRESENT", ResourceStatePresent.String())
	assert.Equal(t, "GENERIC_READ", ResourceStateGenericRead.String())
	assert.Equal(t, "VERTEX_AND_CONSTANT_BUFFER|NON_PIXEL_SHADER_RESOURCE",
		(ResourceStateVertexAndConstantBuffer | ResourceStateNonPixelShaderResource).String())
}

func TestRootParameterTableSize(t *testing.T) {
	p := RootParameter{
		Kind: RootParameterDescriptorTable,
		Ranges: []DescriptorRange{
			{Kind: DescriptorRangeCBV, Count: 1},
			{Kind: DescriptorRangeSRV, Count: 4, OffsetInTable: 1},
		},
	}
	assert.Equal(t, uint32(5), p.TableSize())
	assert.Equal(t, uint32(16), FormatRGBA32Float.Size())
	assert.True(t, FormatD32Float.IsDepth())
}
