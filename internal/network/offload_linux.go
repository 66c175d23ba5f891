//go:build linux

package network

import (
	"fmt"

	"github.com/safchain/ethtool"
)

// txChecksumFeatures are the names the kernel uses for TX checksum offload
// on veth devices.
var txChecksumFeatures = []string{"tx-checksum-ip-generic"}

// EthtoolOffload disables offloads through the ethtool ioctl.
type EthtoolOffload struct{}

// DisableTxChecksum disables TX checksum offload on iface, entering ns
// first when it is set. Veth pairs advertise offload that nothing performs,
// which shows up as bad checksums on forwarded TCP.
func (EthtoolOffload) DisableTxChecksum(ns, iface string) error {
	return InNamespace(ns, func() error {
		e, err := ethtool.NewEthtool()
		if err != nil {
			return fmt.Errorf("failed to open ethtool handle: %w", err)
		}
		defer e.Close()

		features, err := e.Features(iface)
		if err != nil {
			return fmt.Errorf("failed to read features of %s: %w", iface, err)
		}
		change := make(map[string]bool)
		for _, name := range txChecksumFeatures {
			if on, ok := features[name]; ok && on {
				change[name] = false
			}
		}
		if len(change) == 0 {
			return nil
		}
		return e.Change(iface, change)
	})
}
