package abi

// GPU property ids in the GET_GPUPROPS key/value stream
const (
	GPUPropProductID              uint32 = 1
	GPUPropVersionStatus          uint32 = 2
	GPUPropMinorRevision          uint32 = 3
	GPUPropMajorRevision          uint32 = 4
	GPUPropGPUFreqKHzMax          uint32 = 6
	GPUPropLog2ProgramCounterSize uint32 = 8
	GPUPropTextureFeatures0       uint32 = 9
	GPUPropGPUAvailableMemorySize uint32 = 12
	GPUPropL2Log2LineSize         uint32 = 13
	GPUPropL2Log2CacheSize        uint32 = 14
	GPUPropL2NumL2Slices          uint32 = 15
	GPUPropTilerBinSizeBytes      uint32 = 16
	GPUPropTilerMaxActiveLevels   uint32 = 17
	GPUPropMaxThreads             uint32 = 18
	GPUPropMaxWorkgroupSize       uint32 = 19
	GPUPropMaxBarrierSize         uint32 = 20
	GPUPropMaxRegisters           uint32 = 21
	GPUPropRawShaderPresent       uint32 = 25
	GPUPropRawTilerPresent        uint32 = 26
	GPUPropRawL2Present           uint32 = 27
	GPUPropRawStackPresent        uint32 = 28
	GPUPropRawL2Features          uint32 = 29
	GPUPropRawCoreFeatures        uint32 = 30
	GPUPropRawMemFeatures         uint32 = 31
	GPUPropRawMMUFeatures         uint32 = 32
	GPUPropRawASPresent           uint32 = 33
	GPUPropRawJSPresent           uint32 = 34
	GPUPropRawTilerFeatures       uint32 = 51
	GPUPropRawTextureFeatures0    uint32 = 52
	GPUPropRawGPUID               uint32 = 55
	GPUPropRawThreadMaxThreads    uint32 = 56
	GPUPropRawThreadFeatures      uint32 = 59
	GPUPropCoherencyNumGroups     uint32 = 61
	GPUPropTLSAlloc               uint32 = 84
)

// GPUPropKey packs a property id with the log2 of its value size
func GPUPropKey(name uint32, sizeLog2 uint32) uint32 {
	return name<<2 | sizeLog2&3
}

// Panfrost DRM GET_PARAM ids, answered from kbase properties
const (
	PanParamGPUProdID        uint32 = 0
	PanParamGPURevision      uint32 = 1
	PanParamShaderPresent    uint32 = 2
	PanParamTilerPresent     uint32 = 3
	PanParamL2Present        uint32 = 4
	PanParamStackPresent     uint32 = 5
	PanParamASPresent        uint32 = 6
	PanParamJSPresent        uint32 = 7
	PanParamL2Features       uint32 = 8
	PanParamCoreFeatures     uint32 = 9
	PanParamTilerFeatures    uint32 = 10
	PanParamMemFeatures      uint32 = 11
	PanParamMMUFeatures      uint32 = 12
	PanParamThreadFeatures   uint32 = 13
	PanParamMaxThreads       uint32 = 14
	PanParamTextureFeatures0 uint32 = 18
	PanParamThreadTLSAlloc   uint32 = 39
	PanParamAFBCFeatures     uint32 = 40
)
