package vpc

import (
	"slices"

	"grimm.is/vpcctl/internal/firewall"
	"grimm.is/vpcctl/internal/naming"
	"grimm.is/vpcctl/internal/state"
	"grimm.is/vpcctl/internal/validation"
)

// PeerResult is the outcome of CreatePeer.
type PeerResult struct {
	LocalVeth    string
	RemoteVeth   string
	Allowed      []string
	LinksCreated bool
	RulesAdded   int
}

// CreatePeer joins the bridges of a and b with a veth pair and limits
// traffic across it to allow (both VPC CIDRs when empty). Each side's chain
// gets an accept rule for every (src, dst) pair of allowed CIDRs followed
// by a drop for everything else toward the peer bridge.
func (c *Controller) CreatePeer(a, b string, allow []string) (res *PeerResult, err error) {
	const op = "peer"
	defer func() { c.metrics.RecordOperation(op, err) }()

	if a == b {
		return nil, validationError(op, "cannot peer VPC '%s' with itself", a)
	}
	va, err := c.load(op, a)
	if err != nil {
		return nil, err
	}
	vb, err := c.load(op, b)
	if err != nil {
		return nil, err
	}

	allowed := []string{va.CIDR, vb.CIDR}
	if len(allow) > 0 {
		allowed = allowed[:0]
		for _, cidr := range allow {
			p, err := validation.ParseIPv4Prefix(cidr)
			if err != nil {
				return nil, newError(KindValidation, op, err)
			}
			if !slices.Contains(allowed, p.String()) {
				allowed = append(allowed, p.String())
			}
		}
	}

	local, remote := naming.PeerVeths(a, b)
	res = &PeerResult{LocalVeth: local, RemoteVeth: remote, Allowed: allowed}
	log := c.logger.WithFields(map[string]any{"vpc": a, "peer": b})

	present, err := c.anyLinkExists(local, remote)
	if err != nil {
		return nil, externalError(op, err)
	}
	if present {
		log.Info("peering links already exist, skipping link creation", "links", []string{local, remote})
	} else {
		if _, err := c.net.EnsureVethPair(local, remote); err != nil {
			return nil, externalError(op, err)
		}
		if err := c.net.AttachToBridge(local, va.Bridge); err != nil {
			return nil, externalError(op, err)
		}
		if err := c.net.AttachToBridge(remote, vb.Bridge); err != nil {
			return nil, externalError(op, err)
		}
		res.LinksCreated = true
	}

	scope := naming.PairScope(a, b)
	for _, side := range []struct{ self, other *state.VPC }{{va, vb}, {vb, va}} {
		n, err := c.peerRules(side.self, side.other.Bridge, allowed, scope)
		res.RulesAdded += n
		if err != nil {
			return nil, externalError(op, err)
		}
	}

	if va.Peer(b) < 0 {
		va.Peers = append(va.Peers, state.Peering{PeerVPC: b, LocalVeth: local, RemoteVeth: remote, Allowed: allowed})
	}
	if vb.Peer(a) < 0 {
		vb.Peers = append(vb.Peers, state.Peering{PeerVPC: a, LocalVeth: remote, RemoteVeth: local, Allowed: slices.Clone(allowed)})
	}
	if err := c.save(op, va); err != nil {
		return nil, err
	}
	if err := c.save(op, vb); err != nil {
		return nil, err
	}

	log.Info("VPCs peered", "links", []string{local, remote}, "allowed", allowed, "rules_added", res.RulesAdded)
	c.audit("vpc.peer", scope, map[string]any{"allowed": allowed})
	return res, nil
}

func (c *Controller) anyLinkExists(names ...string) (bool, error) {
	for _, name := range names {
		ok, err := c.net.LinkExists(name)
		if err != nil || ok {
			return ok, err
		}
	}
	return false, nil
}

// peerRules installs one side of a peering in v's chain. The drop must stay
// behind every accept, so it is re-appended when new accepts land after it.
func (c *Controller) peerRules(v *state.VPC, peerBridge string, allowed []string, scope string) (int, error) {
	added := 0
	for _, src := range allowed {
		for _, dst := range allowed {
			rule := c.ipt("-A", v.Chain, "-o", peerBridge, "-s", src, "-d", dst, "-j", "ACCEPT")
			ok, err := c.addRule(v, rule, naming.Tag(scope, naming.PurposePeer))
			if err != nil {
				return added, err
			}
			if ok {
				added++
			}
		}
	}

	dropTag := naming.Tag(scope, naming.PurposePeerDrop)
	drop := c.ipt("-A", v.Chain, "-o", peerBridge, "-j", "DROP")
	if commented := firewall.WithComment(drop, dropTag); added > 0 && !c.preview {
		present, err := c.ledger.Exists(commented)
		if err != nil {
			return added, err
		}
		if present {
			c.logger.Debug("moving peer drop behind new accepts", "chain", v.Chain)
			if c.ledger.Delete(commented) {
				v.DropRules(func(r []string) bool { return slices.Equal(r, commented) })
			}
		}
	}
	ok, err := c.addRule(v, drop, dropTag)
	if err != nil {
		return added, err
	}
	if ok {
		added++
	}
	return added, nil
}
