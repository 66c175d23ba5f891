//go:build !linux

package network

// EthtoolOffload is a no-op off Linux.
type EthtoolOffload struct{}

func (EthtoolOffload) DisableTxChecksum(ns, iface string) error { return nil }
