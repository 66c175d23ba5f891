// Package firewall drives iptables on behalf of the VPC controller.
//
// # Overview
//
// Every host rule vpcctl inserts goes through the [Ledger]. Add embeds a
// comment tag, checks for an existing identical rule with -C and inserts only
// when absent. Delete reverses a recorded rule even when the live text no
// longer matches what was inserted:
//
//	exact      -C then -D with the recorded tokens
//	live-match dump the table with -S, pick the first -A line holding every
//	           key token, replay it as -D
//	uncommented strip the comment match and -D
//
// A rule that is no longer present in either form counts as deleted.
//
// # Runners
//
// Commands execute through a [CommandRunner]:
//   - [RealCommandRunner] shells out and logs each command
//   - [DryRunRunner] records and echoes mutations, delegating read-only
//     queries to an optional reader
//   - [FakeRunner] is an in-memory iptables used by tests across packages
//   - [MockCommandRunner] (testify) for exact command expectations
//
// # Backends
//
// [DetectBackend] reads `iptables --version`. On nf_tables hosts chain
// existence is read through netlink with google/nftables instead of parsing
// iptables output.
package firewall
