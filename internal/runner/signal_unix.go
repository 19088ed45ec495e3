//go:build unix

// ABOUTME: Maps runner signals onto POSIX signals
// ABOUTME: Force pause and resume use SIGSTOP and SIGCONT

package runner

import (
	"os"
	"syscall"
)

func osSignal(sig Signal) (os.Signal, error) {
	switch sig {
	case SignalInterrupt:
		return syscall.SIGINT, nil
	case SignalTerminate:
		return syscall.SIGTERM, nil
	case SignalKill:
		return syscall.SIGKILL, nil
	case SignalForcePause:
		return syscall.SIGSTOP, nil
	case SignalResume:
		return syscall.SIGCONT, nil
	default:
		return nil, errUnsupportedSignal(sig)
	}
}
