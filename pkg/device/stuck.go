package device

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// StuckProcessScanner finds processes holding an accelerator in an
// uninterruptible-wait state (Linux process state "D") by walking /proc.
// The base path is overridable so tests can point it at a fixture tree
// instead of the real /proc.
type StuckProcessScanner struct {
	procRoot string
	// nameFilter restricts matches to processes whose cmdline mentions one
	// of these substrings, keeping unrelated D-state processes (e.g. disk
	// I/O waiters) from being reported as stuck on the accelerator.
	nameFilter []string
}

// NewStuckProcessScanner creates a scanner over /proc, flagging D-state
// processes whose cmdline mentions one of the keywords nvidia, cuda or gpu.
func NewStuckProcessScanner() *StuckProcessScanner {
	return &StuckProcessScanner{
		procRoot:   "/proc",
		nameFilter: []string{"nvidia", "cuda", "gpu"},
	}
}

// NewStuckProcessScannerWithRoot creates a scanner rooted at procRoot, for
// testing against a fixture directory tree.
func NewStuckProcessScannerWithRoot(procRoot string) *StuckProcessScanner {
	s := NewStuckProcessScanner()
	s.procRoot = procRoot
	return s
}

// Scan returns the pids of D-state processes whose cmdline matches the
// configured name filter.
func (s *StuckProcessScanner) Scan() ([]int, error) {
	entries, err := os.ReadDir(s.procRoot)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.procRoot, err)
	}

	var stuck []int
	for _, entry := range entries {
		pid, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue
		}

		state, err := s.readState(pid)
		if err != nil || state != "D" {
			continue
		}

		if s.matchesFilter(pid) {
			stuck = append(stuck, pid)
		}
	}
	return stuck, nil
}

func (s *StuckProcessScanner) readState(pid int) (string, error) {
	f, err := os.Open(filepath.Join(s.procRoot, strconv.Itoa(pid), "stat"))
	if err != nil {
		return "", err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		return "", fmt.Errorf("empty stat for pid %d", pid)
	}
	line := scanner.Text()

	// Fields are "pid (comm) state ...". comm may itself contain spaces or
	// parens, so split on the last ')' rather than whitespace.
	closeParen := strings.LastIndex(line, ")")
	if closeParen < 0 || closeParen+2 >= len(line) {
		return "", fmt.Errorf("malformed stat line for pid %d", pid)
	}
	fields := strings.Fields(line[closeParen+1:])
	if len(fields) == 0 {
		return "", fmt.Errorf("malformed stat line for pid %d", pid)
	}
	return fields[0], nil
}

func (s *StuckProcessScanner) matchesFilter(pid int) bool {
	if len(s.nameFilter) == 0 {
		return true
	}
	data, err := os.ReadFile(filepath.Join(s.procRoot, strconv.Itoa(pid), "cmdline"))
	if err != nil {
		return false
	}
	cmdline := strings.ToLower(strings.ReplaceAll(string(data), "\x00", " "))
	for _, needle := range s.nameFilter {
		if strings.Contains(cmdline, needle) {
			return true
		}
	}
	return false
}
