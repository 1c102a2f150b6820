package bo

import (
	"github.com/vkngwrapper/kbase/kbase"
	"golang.org/x/exp/slices"
)

// Usage is a pending GPU access: work Seqnum on event slot Queue reads the
// buffer, or writes it when Write is set
type Usage struct {
	Queue  uint32
	Write  bool
	Seqnum uint64
}

// AddUsageAfter merges u into list, which is sorted by queue and holds at
// most one entry per queue. The search starts at index, and the index u
// landed at is returned so a caller walking another sorted list can resume
// from it. An entry for the same queue absorbs u, keeping the newer seqnum.
func AddUsageAfter(list []Usage, u Usage, index int) ([]Usage, int) {
	for i := index; i < len(list); i++ {
		d := &list[i]

		if d.Queue == u.Queue {
			d.Write = d.Write || u.Write
			if u.Seqnum > d.Seqnum {
				d.Seqnum = u.Seqnum
			}
			return list, i
		}

		if d.Queue > u.Queue {
			return slices.Insert(list, i, u), i
		}
	}

	end := len(list)
	return append(list, u), end
}

// UpdateDeps adds the usages of b that an access of the given kind must wait
// for to deps. Reads never wait for reads. The caller must hold the usage
// lock.
func UpdateDeps(deps []Usage, b *BO, write bool) []Usage {
	index := 0
	for _, u := range b.usage {
		if !write && !u.Write {
			continue
		}

		deps, index = AddUsageAfter(deps, u, index)
	}
	return deps
}

// submittedSeqnum maps a recorded seqnum onto what was actually submitted
// on a slot. A usage can name the batch that is being submitted right now;
// it then depends on the one before. Usages past that were never submitted
// and are dropped.
func submittedSeqnum(seqnum, lastSubmit uint64) (uint64, bool) {
	if lastSubmit == seqnum {
		return seqnum - 1, true
	}
	if lastSubmit < seqnum {
		return 0, false
	}
	return seqnum, true
}

// CleanDeps drops the dependencies that cannot be waited on, in place. The
// caller must hold the device's queue lock.
func CleanDeps(dev *kbase.Device, deps []Usage) []Usage {
	slots := dev.EventSlotUsage()

	clean := deps[:0]
	for _, u := range deps {
		// Sorted by queue, so everything after this is unbound too
		if int(u.Queue) >= slots {
			break
		}

		_, lastSubmit := dev.SlotStateLocked(int(u.Queue))
		seqnum, ok := submittedSeqnum(u.Seqnum, lastSubmit)
		if !ok {
			continue
		}

		u.Seqnum = seqnum
		clean = append(clean, u)
	}
	return clean
}
