// Package network provisions the kernel objects a VPC is made of: bridges,
// veth pairs, named network namespaces and the addresses and routes inside
// them.
//
// # Key Components
//
//   - [Manager]: idempotent bridge/veth/namespace operations used by the
//     VPC controller
//   - [Netlinker]: thin abstraction over github.com/vishvananda/netlink so
//     the same code runs against the host, a namespace handle, a dry-run
//     recorder or an in-memory fake
//   - [NamespaceManager]: named namespaces via github.com/vishvananda/netns
//   - [Prober]: HTTP reachability with an ICMP fallback, optionally from
//     inside a namespace
//
// # Preview
//
// The DryRun implementations record the equivalent ip(8) commands instead
// of mutating the kernel. Reads are answered by an optional live Reader so
// a preview still reflects what already exists.
//
// # Testing
//
// [FakeKernel] implements Netlinker, NamespaceManager and SystemController
// in memory so provisioning logic is testable without root.
package network
