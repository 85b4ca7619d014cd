package instance

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// AcquireLock takes an exclusive, non-blocking advisory lock on a sidecar
// lock file to prevent multiple fleetd instances from racing each other
// during startup.
func (m *InstanceManager) AcquireLock() error {
	lockPath := m.pidFilePath + ".lock"

	fd, err := unix.Open(lockPath, unix.O_CREAT|unix.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("failed to open lock file: %w", err)
	}

	if err := unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB); err != nil {
		unix.Close(fd)
		return fmt.Errorf("failed to acquire lock (another instance may be starting): %w", err)
	}

	m.lockFD = fd
	m.acquiredLock = true

	// Write current PID to lock file for debugging
	pidStr := fmt.Sprintf("%d", os.Getpid())
	if _, err := unix.Write(fd, []byte(pidStr)); err != nil {
		// Non-fatal - lock is still acquired
		fmt.Printf("Warning: Failed to write PID to lock file: %v\n", err)
	}

	return nil
}

// ReleaseLock releases the exclusive lock
func (m *InstanceManager) ReleaseLock() error {
	if !m.acquiredLock {
		return nil
	}

	if m.lockFD >= 0 {
		if err := unix.Flock(m.lockFD, unix.LOCK_UN); err != nil {
			fmt.Printf("Warning: Failed to unlock lock file: %v\n", err)
		}
		if err := unix.Close(m.lockFD); err != nil {
			fmt.Printf("Warning: Failed to close lock file descriptor: %v\n", err)
		}
		m.lockFD = -1
	}

	// Remove the lock file
	lockPath := m.pidFilePath + ".lock"
	if err := os.Remove(lockPath); err != nil && !os.IsNotExist(err) {
		fmt.Printf("Warning: Failed to remove lock file: %v\n", err)
	}

	m.acquiredLock = false
	return nil
}
