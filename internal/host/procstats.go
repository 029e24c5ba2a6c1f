package host

import (
	"strconv"
	"strings"
)

// procInfo is one row of the process table.
type procInfo struct {
	pid   int
	ppid  int
	cpu   float64
	rssKB float64
}

// parseProcessTable parses `ps -o pid=,ppid=,%cpu=,rss=` output.
// Malformed rows are skipped.
func parseProcessTable(out string) []procInfo {
	var procs []procInfo
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 4 {
			continue
		}
		pid, err1 := strconv.Atoi(fields[0])
		ppid, err2 := strconv.Atoi(fields[1])
		cpu, err3 := strconv.ParseFloat(fields[2], 64)
		rss, err4 := strconv.ParseFloat(fields[3], 64)
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
			continue
		}
		procs = append(procs, procInfo{pid: pid, ppid: ppid, cpu: cpu, rssKB: rss})
	}
	return procs
}

// sumProcessTree sums usage over the given roots and all their descendants.
func sumProcessTree(procs []procInfo, roots []int) ProcessStats {
	children := make(map[int][]procInfo)
	byPID := make(map[int]procInfo, len(procs))
	for _, p := range procs {
		children[p.ppid] = append(children[p.ppid], p)
		byPID[p.pid] = p
	}

	var stats ProcessStats
	seen := make(map[int]bool)
	queue := append([]int(nil), roots...)
	for len(queue) > 0 {
		pid := queue[0]
		queue = queue[1:]
		if seen[pid] {
			continue
		}
		seen[pid] = true

		if p, ok := byPID[pid]; ok {
			stats.CPU += p.cpu
			stats.MemoryMB += p.rssKB / 1024
			stats.Processes++
		}
		for _, c := range children[pid] {
			queue = append(queue, c.pid)
		}
	}
	return stats
}
