package abi

// ioctl request encoding, as in the Linux _IOC macros
const (
	iocNone  = 0
	iocWrite = 1
	iocRead  = 2

	iocNRBits   = 8
	iocTypeBits = 8
	iocSizeBits = 14

	iocNRShift   = 0
	iocTypeShift = iocNRShift + iocNRBits
	iocSizeShift = iocTypeShift + iocTypeBits
	iocDirShift  = iocSizeShift + iocSizeBits
)

// IOC builds an ioctl request number
func IOC(dir, typ, nr, size uint32) uint32 {
	return dir<<iocDirShift | typ<<iocTypeShift | nr<<iocNRShift | size<<iocSizeShift
}

// IO is _IO
func IO(typ, nr uint32) uint32 {
	return IOC(iocNone, typ, nr, 0)
}

// IOR is _IOR
func IOR(typ, nr, size uint32) uint32 {
	return IOC(iocRead, typ, nr, size)
}

// IOW is _IOW
func IOW(typ, nr, size uint32) uint32 {
	return IOC(iocWrite, typ, nr, size)
}

// IOWR is _IOWR
func IOWR(typ, nr, size uint32) uint32 {
	return IOC(iocRead|iocWrite, typ, nr, size)
}

// IOCType extracts the type field of a request number
func IOCType(request uint32) uint32 {
	return (request >> iocTypeShift) & (1<<iocTypeBits - 1)
}

// IOCNR extracts the command number of a request number
func IOCNR(request uint32) uint32 {
	return (request >> iocNRShift) & (1<<iocNRBits - 1)
}

// IOCSize extracts the argument size of a request number
func IOCSize(request uint32) uint32 {
	return (request >> iocSizeShift) & (1<<iocSizeBits - 1)
}
