// The updater replaces the agent binary while the agent itself is not
// running. It is launched by the agent with four positional arguments:
//
//	updater <pid> <targetPath> <sourcePath> <restartExePath>
//
// It waits for the given pid to exit, swaps sourcePath into targetPath,
// then starts the restart executable.
package main

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	exitWait       = 15 * time.Second
	replaceRetries = 10
	retryInterval  = time.Second
)

var replaceFn = replaceOnce

func main() {
	if len(os.Args) != 5 {
		log.Fatalf("usage: %s <pid> <targetPath> <sourcePath> <restartExePath>", os.Args[0])
	}
	pid, err := strconv.Atoi(os.Args[1])
	if err != nil {
		log.Fatalf("invalid pid %q: %v", os.Args[1], err)
	}
	target, source, restart := os.Args[2], os.Args[3], os.Args[4]

	if !waitForExit(pid, exitWait) {
		// The replace retries below cover a slow exit.
		log.Warnf("process %d still alive after %s", pid, exitWait)
	}

	if err := replaceWithRetry(target, source, replaceRetries, retryInterval); err != nil {
		log.Fatalf("failed to replace %s: %v", target, err)
	}
	log.Infof("replaced %s", target)

	cmd := exec.Command(restart)
	if err := cmd.Start(); err != nil {
		log.Fatalf("failed to start %s: %v", restart, err)
	}
	log.Infof("restarted %s (pid %d)", restart, cmd.Process.Pid)
}

func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// waitForExit polls until the process is gone or the timeout passes.
func waitForExit(pid int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !processAlive(pid) {
			return true
		}
		time.Sleep(200 * time.Millisecond)
	}
	return !processAlive(pid)
}

// replaceWithRetry keeps attempting the swap; the first success wins.
func replaceWithRetry(target, source string, retries int, interval time.Duration) error {
	var err error
	for i := 0; i < retries; i++ {
		if err = replaceFn(target, source); err == nil {
			return nil
		}
		log.Warnf("replace attempt %d failed: %v", i+1, err)
		time.Sleep(interval)
	}
	return err
}

func replaceOnce(target, source string) error {
	if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
		return err
	}
	if err := os.Rename(source, target); err == nil {
		return nil
	}
	// Rename fails across filesystems; fall back to a copy.
	return copyFile(target, source)
}

func copyFile(target, source string) error {
	in, err := os.Open(source)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy failed: %w", err)
	}
	return out.Close()
}
