// Package vpc is the controller behind every vpcctl command.
//
// A Controller turns a VPC record into kernel objects and back: a bridge and
// a dedicated filter chain per VPC, a namespace and veth pair per subnet,
// veth links and chain rules per peering, masquerade rules for NAT and
// namespace-local rules for security policies. Host iptables rules go
// through the firewall ledger and are recorded in the VPC record, which is
// what makes teardown exact.
//
// The record is the source of truth for whether a VPC exists. Live state is
// re-checked before every step that depends on it, and AddSubnet repairs a
// subnet whose namespace disappeared.
package vpc
