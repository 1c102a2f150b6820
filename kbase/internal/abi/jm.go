package abi

// Job chain core requirements
const (
	JDReqFS                uint32 = 1 << 0
	JDReqCS                uint32 = 1 << 1
	JDReqT                 uint32 = 1 << 2
	JDReqExternalResources uint32 = 1 << 8
)

const (
	JDDepTypeInvalid uint8 = 0
	JDDepTypeData    uint8 = 1
	JDDepTypeOrder   uint8 = 2
)

// JDEventDone is the event code of a successfully completed atom
const JDEventDone uint32 = 1

type JDDependency struct {
	AtomID         uint8
	DependencyType uint8
}

// JDAtomV2 is base_jd_atom_v2
type JDAtomV2 struct {
	JC            uint64
	UData         [2]uint64
	ExtresList    uint64
	NrExtres      uint16
	CompatCoreReq uint16
	PreDep        [2]JDDependency
	AtomNumber    uint8
	Prio          uint8
	DeviceNr      uint8
	_             uint8
	CoreReq       uint32
}

// JDEventV2 is base_jd_event_v2, the record read back from the kbase file on JM
type JDEventV2 struct {
	EventCode  uint32
	AtomNumber uint8
	_          [3]uint8
	UData      [2]uint64
}
