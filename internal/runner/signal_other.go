//go:build !unix

// ABOUTME: Signal mapping where only kill and interrupt exist
// ABOUTME: Pause, resume and graceful terminate are reported as unsupported

package runner

import "os"

func osSignal(sig Signal) (os.Signal, error) {
	switch sig {
	case SignalKill:
		return os.Kill, nil
	case SignalInterrupt:
		return os.Interrupt, nil
	default:
		return nil, errUnsupportedSignal(sig)
	}
}
