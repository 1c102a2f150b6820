package kbase

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/kbase/kbase/internal/abi"
)

func TestTLVProps(t *testing.T) {
	var buf []byte
	buf = binary.LittleEndian.AppendUint32(buf, abi.GPUPropKey(5, 0))
	buf = append(buf, 0x7f)
	buf = binary.LittleEndian.AppendUint32(buf, abi.GPUPropKey(7, 1))
	buf = binary.LittleEndian.AppendUint16(buf, 0x1234)
	buf = binary.LittleEndian.AppendUint32(buf, abi.GPUPropKey(9, 3))
	buf = binary.LittleEndian.AppendUint64(buf, 0x1122334455667788)
	buf = binary.LittleEndian.AppendUint32(buf, abi.GPUPropKey(2, 2))
	buf = binary.LittleEndian.AppendUint32(buf, 0xdeadbeef)

	props := tlvProps(buf)

	testCases := []struct {
		name  uint32
		value uint64
	}{
		{5, 0x7f},
		{7, 0x1234},
		{9, 0x1122334455667788},
		{2, 0xdeadbeef},
	}
	for _, testCase := range testCases {
		value, ok := props.Prop(testCase.name)
		require.True(t, ok)
		require.Equal(t, testCase.value, value)
	}

	_, ok := props.Prop(11)
	require.False(t, ok)

	// A value cut short ends the walk
	_, ok = tlvProps(buf[:len(buf)-2]).Prop(2)
	require.False(t, ok)
}

func TestRegDumpProps(t *testing.T) {
	dump := abi.OldGPUPropsRegDump{}
	dump.Core.ProductID = 0x6956
	dump.Raw.ShaderPresent = 0xf
	dump.Raw.TilerFeatures = 0x809
	dump.Raw.TextureFeatures[0] = 0xfe
	dump.Raw.GPUID = 0x69560010

	props := (*regDumpProps)(&dump)

	value, ok := props.Prop(abi.GPUPropProductID)
	require.True(t, ok)
	require.Equal(t, uint64(0x6956), value)

	value, ok = props.Prop(abi.GPUPropRawShaderPresent)
	require.True(t, ok)
	require.Equal(t, uint64(0xf), value)

	value, ok = props.Prop(abi.GPUPropRawTextureFeatures0)
	require.True(t, ok)
	require.Equal(t, uint64(0xfe), value)

	_, ok = props.Prop(abi.GPUPropTLSAlloc)
	require.False(t, ok)
}

func TestPanGPUParam(t *testing.T) {
	d, _ := openNoop(t, CreateOptions{})

	value, ok := d.PanGPUParam(abi.PanParamGPUProdID)
	require.True(t, ok)
	require.Equal(t, uint64(0xa867), value)

	value, ok = d.PanGPUParam(abi.PanParamGPURevision)
	require.True(t, ok)
	require.Equal(t, uint64(0), value)

	value, ok = d.PanGPUParam(abi.PanParamShaderPresent)
	require.True(t, ok)
	require.Equal(t, uint64(0x50005), value)

	value, ok = d.PanGPUParam(abi.PanParamThreadTLSAlloc)
	require.True(t, ok)
	require.Equal(t, uint64(0x800), value)

	value, ok = d.PanGPUParam(abi.PanParamAFBCFeatures)
	require.True(t, ok)
	require.Zero(t, value)

	// Not in the simulated property table
	_, ok = d.PanGPUParam(abi.PanParamL2Present)
	require.False(t, ok)

	_, ok = d.PanGPUParam(1000)
	require.False(t, ok)

	value, ok = d.MaliGPUProp(abi.GPUPropRawTilerFeatures)
	require.True(t, ok)
	require.Equal(t, uint64(0x809), value)
}
