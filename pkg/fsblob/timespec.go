package fsblob

import "encoding/binary"

// timespecLen is the encoded size of a Timespec: sec(8) + nsec(4).
const timespecLen = 12

// Timespec is a POSIX-style access/modification/change timestamp,
// carried at nanosecond precision like struct timespec.
type Timespec struct {
	Sec  int64
	Nsec uint32
}

func (t Timespec) encode(buf []byte) {
	binary.LittleEndian.PutUint64(buf[0:8], uint64(t.Sec))
	binary.LittleEndian.PutUint32(buf[8:12], t.Nsec)
}

func decodeTimespec(buf []byte) Timespec {
	return Timespec{
		Sec:  int64(binary.LittleEndian.Uint64(buf[0:8])),
		Nsec: binary.LittleEndian.Uint32(buf[8:12]),
	}
}

// Before reports whether t is strictly earlier than other.
func (t Timespec) Before(other Timespec) bool {
	if t.Sec != other.Sec {
		return t.Sec < other.Sec
	}
	return t.Nsec < other.Nsec
}

// AddSeconds returns t shifted by n seconds, used by atime policy
// checks ("older than 24h") without pulling in a wall-clock source.
func (t Timespec) AddSeconds(n int64) Timespec {
	return Timespec{Sec: t.Sec + n, Nsec: t.Nsec}
}
