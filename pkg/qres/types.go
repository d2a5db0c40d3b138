// Package qres tracks an agent's host capacity and the reservations held by
// the jobs it is running.
package qres

import "sort"

// Host is the static inventory of the machine an agent runs on.
type Host struct {
	CPUs       int
	MemBytes   int64
	GPUIndices []int
}

// Capacity is a point-in-time view of what is left after reservations.
// CPU and memory go negative when the agent is oversubscribed.
type Capacity struct {
	CPUFree      int
	MemFreeBytes int64
	GPUFree      int
	GPUAvailable []int
}

// MemFreeMB reports free memory in whole megabytes, the unit used on the wire.
func (c Capacity) MemFreeMB() int64 {
	return c.MemFreeBytes >> 20
}

// Fits reports whether the request can be satisfied by this capacity.
func (c Capacity) Fits(req Request) bool {
	return c.CPUFree >= req.CPU &&
		c.MemFreeBytes >= req.MemBytes() &&
		c.GPUFree >= req.GPU
}

// Request is the declared resource need of a job. Memory is in MB.
type Request struct {
	CPU      int
	MemoryMB int
	GPU      int
}

// MemBytes converts the declared memory to bytes.
func (r Request) MemBytes() int64 {
	return int64(r.MemoryMB) << 20
}

// Reservation is the bookkeeping entry held while a job runs.
type Reservation struct {
	JobID      string
	CPU        int
	MemBytes   int64
	GPUIndices []int
}

func sortedCopy(in []int) []int {
	out := make([]int, len(in))
	copy(out, in)
	sort.Ints(out)
	return out
}
