package instance

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

// IsProcessRunning checks if a process with the given PID is running.
// Sending signal 0 performs existence/permission checks without actually
// delivering a signal.
func IsProcessRunning(pid int) (bool, error) {
	if pid <= 0 {
		return false, nil
	}
	err := unix.Kill(pid, 0)
	if err == nil {
		return true, nil
	}
	if err == unix.ESRCH {
		return false, nil
	}
	if err == unix.EPERM {
		// Process exists, we just can't signal it.
		return true, nil
	}
	return false, fmt.Errorf("failed to check process %d: %w", pid, err)
}

// GetProcessName retrieves the executable name for a given PID, preferring
// /proc/<pid>/comm (Linux) and falling back to ps when unavailable.
func GetProcessName(pid int) (string, error) {
	commPath := fmt.Sprintf("/proc/%d/comm", pid)
	if data, err := os.ReadFile(commPath); err == nil {
		return strings.TrimSpace(string(data)), nil
	}
	return getProcessNameViaPS(pid)
}

// GetProcessStartTime retrieves the start time of a process via ps, since
// parsing /proc/<pid>/stat's jiffies-since-boot field portably needs the
// system boot time that ps already resolves for us.
func GetProcessStartTime(pid int) (time.Time, error) {
	cmd := exec.Command("ps", "-o", "lstart=", "-p", strconv.Itoa(pid))
	output, err := cmd.Output()
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get process start time: %w", err)
	}

	layout := "Mon Jan  2 15:04:05 2006"
	t, err := time.Parse(layout, strings.TrimSpace(string(output)))
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse process start time: %w", err)
	}
	return t, nil
}

// getProcessNameViaPS is a fallback method using the ps command.
func getProcessNameViaPS(pid int) (string, error) {
	cmd := exec.Command("ps", "-o", "comm=", "-p", strconv.Itoa(pid))
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("ps command failed: %w", err)
	}

	name := strings.TrimSpace(string(output))
	if name == "" {
		return "", fmt.Errorf("process not found")
	}
	return filepath.Base(name), nil
}

// KillProcess forcefully terminates a process.
func KillProcess(pid int) error {
	if err := unix.Kill(pid, unix.SIGKILL); err != nil {
		return fmt.Errorf("failed to kill process %d: %w", pid, err)
	}
	return nil
}
