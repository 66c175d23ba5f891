package policy

// Merge combines a VPC-wide default document with a subnet-specific one for
// the subnet at subnetCIDR. Default policies apply when scoped to no subnet,
// to Wildcard or to subnetCIDR; subnet-specific policies always apply. Every
// included policy is re-scoped to subnetCIDR and defaults come first.
//
// Rules match first-hit in insertion order, so a default entry wins over a
// subnet-specific entry for the same port.
func Merge(defaults, specific Document, subnetCIDR string) Document {
	var merged Document
	for _, p := range defaults {
		if p.Subnet != "" && p.Subnet != Wildcard && p.Subnet != subnetCIDR {
			continue
		}
		merged = append(merged, rescope(p, subnetCIDR))
	}
	for _, p := range specific {
		merged = append(merged, rescope(p, subnetCIDR))
	}
	return merged
}

func rescope(p Policy, cidr string) Policy {
	return Policy{
		Subnet:  cidr,
		Ingress: append([]Rule(nil), p.Ingress...),
		Egress:  append([]Rule(nil), p.Egress...),
	}
}
