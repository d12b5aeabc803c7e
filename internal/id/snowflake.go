package id

import (
	"fmt"
	"hash/fnv"
	"sync"
	"time"
)

const (
	machineIDBits = 10
	sequenceBits  = 12

	maxMachineID = (1 << machineIDBits) - 1 // 1023
	maxSequence  = (1 << sequenceBits) - 1  // 4095

	machineIDShift = sequenceBits
	timestampShift = sequenceBits + machineIDBits
)

// DefaultEpoch is 2024-01-01T00:00:00Z in unix milliseconds.
const DefaultEpoch = int64(1704067200000)

// Generator produces globally ordered, collision-free 64-bit message ids
// without coordination: 41 bits of milliseconds since a custom epoch, 10
// bits of machine id, 12 bits of per-millisecond sequence.
type Generator struct {
	mu        sync.Mutex
	epoch     int64
	machineID int64
	sequence  int64
	lastTime  int64
}

// NewGenerator creates a Generator. machineID must be in [0, 1023].
func NewGenerator(machineID int64, epoch int64) (*Generator, error) {
	if machineID < 0 || machineID > maxMachineID {
		return nil, fmt.Errorf("machine_id must be between 0 and %d, got %d", maxMachineID, machineID)
	}
	return &Generator{
		epoch:     epoch,
		machineID: machineID,
	}, nil
}

// MachineIDFromAddress derives a stable machine id from a node's
// advertise address, for deployments that do not assign ids explicitly.
func MachineIDFromAddress(addr string) int64 {
	h := fnv.New32a()
	h.Write([]byte(addr))
	return int64(h.Sum32()) & maxMachineID
}

// Next returns the next id. Ids from one generator are strictly
// increasing; ids across nodes are ordered by timestamp.
func (g *Generator) Next() (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now().UnixMilli()
	if now < g.lastTime {
		return 0, fmt.Errorf("clock moved backwards: current=%d, last=%d", now, g.lastTime)
	}

	if now == g.lastTime {
		g.sequence = (g.sequence + 1) & maxSequence
		if g.sequence == 0 {
			// Sequence exhausted, wait for next millisecond
			for now <= g.lastTime {
				now = time.Now().UnixMilli()
			}
		}
	} else {
		g.sequence = 0
	}

	ts := now - g.epoch
	if ts < 0 {
		return 0, fmt.Errorf("current time is before custom epoch")
	}

	g.lastTime = now

	return (ts << timestampShift) | (g.machineID << machineIDShift) | g.sequence, nil
}

// Timestamp extracts the creation time encoded in an id.
func (g *Generator) Timestamp(id int64) time.Time {
	ms := (id >> timestampShift) + g.epoch
	return time.UnixMilli(ms)
}
