// Package topology enumerates the NUMA layout of the host - the ordered set
// of nodes and the CPUs that belong to each - and provides the thread-pinning
// and memory-binding primitives the scheduler and buffer manager rely on.
//
// On Linux the layout is read from /sys/devices/system/node. On other
// platforms, or when sysfs is unavailable, the package falls back to a single
// node holding every CPU the runtime reports.
package topology

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
)

// Cpu identifies a single logical CPU.
type Cpu struct {
	CpuID int
}

// Node is one NUMA node with its ordered list of CPUs.
type Node struct {
	NodeID int
	Cpus   []Cpu
}

// Topology is the immutable NUMA layout used for worker placement. Construct
// it with Detect, FromSysfs or Fake; it must not be mutated afterwards.
type Topology struct {
	nodes   []Node
	numCpus int
	cpuNode map[int]int
}

// Nodes returns the ordered list of NUMA nodes.
func (t *Topology) Nodes() []Node { return t.nodes }

// NumNodes returns the number of NUMA nodes.
func (t *Topology) NumNodes() int { return len(t.nodes) }

// NumCpus returns the total CPU count across all nodes.
func (t *Topology) NumCpus() int { return t.numCpus }

// NodeOfCpu returns the node a CPU belongs to, or 0 when unknown.
func (t *Topology) NodeOfCpu(cpuID int) int {
	if node, ok := t.cpuNode[cpuID]; ok {
		return node
	}
	return 0
}

// Detect returns the host topology. When sysfs enumeration fails the result
// is a single node spanning runtime.NumCPU CPUs, so callers never observe an
// empty topology.
func Detect() *Topology {
	if topo, err := FromSysfs(); err == nil {
		return topo
	}
	return Fake(runtime.NumCPU())
}

const sysfsNodePath = "/sys/devices/system/node"

// FromSysfs reads the NUMA layout from the Linux sysfs tree.
func FromSysfs() (*Topology, error) {
	entries, err := os.ReadDir(sysfsNodePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read NUMA sysfs: %w", err)
	}

	topo := &Topology{cpuNode: make(map[int]int)}
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), "node") {
			continue
		}
		nodeID, err := strconv.Atoi(strings.TrimPrefix(entry.Name(), "node"))
		if err != nil {
			continue
		}
		cpuData, err := os.ReadFile(filepath.Join(sysfsNodePath, entry.Name(), "cpulist"))
		if err != nil {
			continue
		}
		node := Node{NodeID: nodeID}
		for _, cpuID := range parseCpuList(strings.TrimSpace(string(cpuData))) {
			node.Cpus = append(node.Cpus, Cpu{CpuID: cpuID})
			topo.cpuNode[cpuID] = nodeID
			topo.numCpus++
		}
		topo.nodes = append(topo.nodes, node)
	}
	if len(topo.nodes) == 0 {
		return nil, errors.New("no NUMA nodes found")
	}
	sortNodes(topo.nodes)
	return topo, nil
}

// Fake builds a synthetic topology with the given CPU count per node. CPU ids
// are assigned densely in node order. Intended for tests and for hosts
// without NUMA support.
func Fake(cpusPerNode ...int) *Topology {
	topo := &Topology{cpuNode: make(map[int]int)}
	cpuID := 0
	for nodeID, count := range cpusPerNode {
		node := Node{NodeID: nodeID}
		for i := 0; i < count; i++ {
			node.Cpus = append(node.Cpus, Cpu{CpuID: cpuID})
			topo.cpuNode[cpuID] = nodeID
			topo.numCpus++
			cpuID++
		}
		topo.nodes = append(topo.nodes, node)
	}
	return topo
}

func sortNodes(nodes []Node) {
	for i := 1; i < len(nodes); i++ {
		for j := i; j > 0 && nodes[j].NodeID < nodes[j-1].NodeID; j-- {
			nodes[j], nodes[j-1] = nodes[j-1], nodes[j]
		}
	}
}

// parseCpuList expands a sysfs cpulist expression such as "0-3,8,10-11".
func parseCpuList(cpuList string) []int {
	var cpus []int
	if cpuList == "" {
		return cpus
	}
	for _, part := range strings.Split(cpuList, ",") {
		part = strings.TrimSpace(part)
		if strings.Contains(part, "-") {
			bounds := strings.Split(part, "-")
			if len(bounds) == 2 {
				start, _ := strconv.Atoi(bounds[0])
				end, _ := strconv.Atoi(bounds[1])
				for i := start; i <= end; i++ {
					cpus = append(cpus, i)
				}
			}
		} else {
			cpu, _ := strconv.Atoi(part)
			cpus = append(cpus, cpu)
		}
	}
	return cpus
}
