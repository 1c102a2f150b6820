package kbase

import (
	"encoding/binary"

	"github.com/vkngwrapper/kbase/kbase/internal/abi"
)

// GPUProps answers kbase GPU property queries by property id
type GPUProps interface {
	Prop(name uint32) (uint64, bool)
}

// tlvProps is the GET_GPUPROPS buffer: a stream of little endian u32 keys,
// each followed by a value of 1<<(key&3) bytes
type tlvProps []byte

func (p tlvProps) Prop(name uint32) (uint64, bool) {
	buf := []byte(p)
	for len(buf) >= 4 {
		key := binary.LittleEndian.Uint32(buf)
		buf = buf[4:]

		size := 1 << (key & 3)
		if len(buf) < size {
			return 0, false
		}

		var value uint64
		switch size {
		case 1:
			value = uint64(buf[0])
		case 2:
			value = uint64(binary.LittleEndian.Uint16(buf))
		case 4:
			value = uint64(binary.LittleEndian.Uint32(buf))
		case 8:
			value = binary.LittleEndian.Uint64(buf)
		}
		buf = buf[size:]

		if key>>2 == name {
			return value, true
		}
	}

	return 0, false
}

// regDumpProps are the UK 10 register dump, mapped onto property ids. Only
// the properties panfrost asks of old kernels are answered.
type regDumpProps abi.OldGPUPropsRegDump

func (p *regDumpProps) Prop(name uint32) (uint64, bool) {
	switch name {
	case abi.GPUPropProductID:
		return uint64(p.Core.ProductID), true
	case abi.GPUPropRawShaderPresent:
		return p.Raw.ShaderPresent, true
	case abi.GPUPropRawTextureFeatures0:
		return uint64(p.Raw.TextureFeatures[0]), true
	case abi.GPUPropRawTilerFeatures:
		return uint64(p.Raw.TilerFeatures), true
	case abi.GPUPropRawGPUID:
		return uint64(p.Raw.GPUID), true
	}
	return 0, false
}

// MaliGPUProp looks up a kbase property read at Open
func (d *Device) MaliGPUProp(name uint32) (uint64, bool) {
	if d.gpuProps == nil {
		return 0, false
	}
	return d.gpuProps.Prop(name)
}

var panParamProps = map[uint32]uint32{
	abi.PanParamGPUProdID:        abi.GPUPropProductID,
	abi.PanParamShaderPresent:    abi.GPUPropRawShaderPresent,
	abi.PanParamTilerPresent:     abi.GPUPropRawTilerPresent,
	abi.PanParamL2Present:        abi.GPUPropRawL2Present,
	abi.PanParamStackPresent:     abi.GPUPropRawStackPresent,
	abi.PanParamASPresent:        abi.GPUPropRawASPresent,
	abi.PanParamJSPresent:        abi.GPUPropRawJSPresent,
	abi.PanParamL2Features:       abi.GPUPropRawL2Features,
	abi.PanParamCoreFeatures:     abi.GPUPropRawCoreFeatures,
	abi.PanParamTilerFeatures:    abi.GPUPropRawTilerFeatures,
	abi.PanParamMemFeatures:      abi.GPUPropRawMemFeatures,
	abi.PanParamMMUFeatures:      abi.GPUPropRawMMUFeatures,
	abi.PanParamThreadFeatures:   abi.GPUPropRawThreadFeatures,
	abi.PanParamMaxThreads:       abi.GPUPropRawThreadMaxThreads,
	abi.PanParamTextureFeatures0: abi.GPUPropRawTextureFeatures0,
	abi.PanParamThreadTLSAlloc:   abi.GPUPropTLSAlloc,
}

// PanGPUParam answers a panfrost DRM GET_PARAM query from kbase properties
func (d *Device) PanGPUParam(param uint32) (uint64, bool) {
	switch param {
	case abi.PanParamAFBCFeatures:
		return 0, true
	case abi.PanParamGPURevision:
		id, ok := d.MaliGPUProp(abi.GPUPropRawGPUID)
		return id & 0xffff, ok
	}

	name, ok := panParamProps[param]
	if !ok {
		return 0, false
	}
	return d.MaliGPUProp(name)
}
