package doc

import (
	"os"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
)

// machineID is derived once at process start by hashing the hostname with
// xxhash and folding in the pid, giving every process on a host a
// (very-probably) distinct 5-byte identifier for ObjectID generation
// without touching the network stack.
var machineID = computeMachineID()

var counter = newCounter()

func computeMachineID() [5]byte {
	host, err := os.Hostname()
	if err != nil {
		host = "tinydb"
	}
	h := xxhash.Sum64String(host)

	var id [5]byte
	id[0] = byte(h)
	id[1] = byte(h >> 8)
	id[2] = byte(h >> 16)

	pid := os.Getpid()
	id[3] = byte(pid)
	id[4] = byte(pid >> 8)
	return id
}

type objCounter struct{ v uint32 }

func newCounter() *objCounter {
	// Seed from the machine id hash so counters started in the same
	// second on different processes don't collide deterministically.
	h := xxhash.Sum64(machineID[:])
	return &objCounter{v: uint32(h)}
}

func (c *objCounter) next() uint32 {
	return atomic.AddUint32(&c.v, 1) & 0x00FFFFFF
}

// NewObjectIDValue generates a fresh ObjectID: 4-byte unix-seconds
// big-endian, the process's 5-byte machine+pid identifier, and a 3-byte
// counter (spec.md §3.1).
func NewObjectIDValue() ObjectID {
	var id ObjectID
	sec := uint32(time.Now().Unix())
	id[0] = byte(sec >> 24)
	id[1] = byte(sec >> 16)
	id[2] = byte(sec >> 8)
	id[3] = byte(sec)

	copy(id[4:9], machineID[:])

	c := counter.next()
	id[9] = byte(c >> 16)
	id[10] = byte(c >> 8)
	id[11] = byte(c)
	return id
}
