package vpc

import (
	"errors"
	"fmt"

	"grimm.is/vpcctl/internal/firewall"
	"grimm.is/vpcctl/internal/naming"
	"grimm.is/vpcctl/internal/state"
	"grimm.is/vpcctl/internal/validation"
)

// Create provisions a VPC: bridge, IP forwarding, a dedicated chain, the
// FORWARD jump into it and the intra-VPC accept rule. An existing record
// makes it a no-op.
func (c *Controller) Create(name, cidr string) (created bool, err error) {
	const op = "create"
	defer func() { c.metrics.RecordOperation(op, err) }()

	if err := validation.ValidateName("vpc", name); err != nil {
		return false, newError(KindValidation, op, err)
	}
	prefix, err := validation.ParseIPv4Prefix(cidr)
	if err != nil {
		return false, newError(KindValidation, op, err)
	}
	cidr = prefix.String()

	exists, err := c.store.Exists(name)
	if err != nil {
		return false, newError(KindInternal, op, err)
	}
	log := c.logger.WithVPC(name)
	if exists {
		log.Info("VPC already exists")
		return false, nil
	}

	bridge, chain := naming.Bridge(name), naming.Chain(name)

	if _, err := c.net.EnsureBridge(bridge); err != nil {
		return false, externalError(op, err)
	}
	if err := c.net.EnableForwarding(); err != nil {
		return false, externalError(op, err)
	}
	if err := c.chains.Ensure(chain); err != nil {
		return false, externalError(op, fmt.Errorf("failed to create chain %s: %w", chain, err))
	}

	v := state.NewVPC(name, cidr, bridge, chain)
	v.CreatedAt = c.clock.Now().UTC()

	if _, err := c.addRule(v, c.jumpRule(v), naming.Tag(name, naming.PurposeJump)); err != nil {
		return false, externalError(op, err)
	}
	intra := c.ipt("-A", chain, "-s", cidr, "-d", cidr, "-j", "ACCEPT")
	if _, err := c.addRule(v, intra, naming.Tag(name, naming.PurposeIntra)); err != nil {
		return false, externalError(op, err)
	}

	if err := c.save(op, v); err != nil {
		return false, err
	}
	log.Info("VPC created", "cidr", cidr, "bridge", bridge, "chain", chain)
	c.audit("vpc.create", name, map[string]any{"cidr": cidr, "bridge": bridge})
	return true, nil
}

func (c *Controller) jumpRule(v *state.VPC) []string {
	return c.ipt("-I", "FORWARD", "-i", v.Bridge, "-j", v.Chain)
}

// Delete tears a VPC down and removes its record. Every step but the
// record removal is best-effort. A missing record makes it a no-op.
func (c *Controller) Delete(name string) (deleted bool, err error) {
	const op = "delete"
	defer func() { c.metrics.RecordOperation(op, err) }()

	v, err := c.load(op, name)
	if IsNotFound(err) {
		c.logger.WithVPC(name).Info("VPC not found, nothing to delete")
		return false, nil
	}
	if err != nil {
		return false, err
	}
	log := c.logger.WithVPC(name)

	for _, app := range v.Apps {
		if app.PID <= 0 {
			continue
		}
		if err := c.procs.Terminate(app.PID); err != nil {
			log.Warn("failed to stop app", "pid", app.PID, "ns", app.Namespace, "error", err)
		}
	}

	for _, s := range v.Subnets {
		c.teardownNamespace(s.Namespace)
	}

	if _, err := c.net.DeleteLink(v.Bridge); err != nil {
		log.Warn("failed to delete bridge", "bridge", v.Bridge, "error", err)
	}

	for _, p := range v.Peers {
		c.unpeer(v, p)
	}

	if v.NAT != nil {
		for _, rule := range v.HostRules {
			c.ledger.Delete(rule)
		}
		v.HostRules = [][]string{}
		v.NAT = nil
		if err := c.save(op, v); err != nil {
			log.Warn("failed to save cleared ledger", "error", err)
		}
	}

	jump := firewall.WithComment(c.jumpRule(v), naming.Tag(name, naming.PurposeJump))
	if !c.ledger.Delete(jump) {
		log.Warn("failed to remove FORWARD jump", "chain", v.Chain)
	}
	if c.preview || c.chains.Exists(v.Chain) {
		if err := c.chains.Flush(v.Chain); err != nil {
			log.Warn("failed to flush chain", "chain", v.Chain, "error", err)
		}
		if err := c.chains.Delete(v.Chain); err != nil {
			log.Warn("failed to delete chain", "chain", v.Chain, "error", err)
		}
	}

	if err := c.store.Delete(name); err != nil && !errors.Is(err, state.ErrNotFound) {
		return false, newError(KindInternal, op, fmt.Errorf("failed to remove record: %w", err))
	}
	log.Info("VPC deleted")
	c.audit("vpc.delete", name, nil)
	return true, nil
}

// teardownNamespace flushes the namespace's filter and nat tables and
// deletes it, taking its interfaces with it.
func (c *Controller) teardownNamespace(ns string) {
	exists, err := c.net.NamespaceExists(ns)
	if err != nil {
		c.logger.Warn("failed to check namespace", "ns", ns, "error", err)
	}
	if !exists {
		c.logger.Debug("namespace already gone", "ns", ns)
		return
	}
	for _, cmd := range [][]string{c.nsIpt(ns, "-F"), c.nsIpt(ns, "-t", "nat", "-F")} {
		if err := c.exec(cmd); err != nil {
			c.logger.Warn("failed to flush namespace rules", "ns", ns, "error", err)
		}
	}
	if _, err := c.net.DeleteNamespace(ns); err != nil {
		c.logger.Warn("failed to delete namespace", "ns", ns, "error", err)
	}
}

// unpeer removes the peering veth and the peer's half of the peering: its
// rules toward v's bridge and its record of v.
func (c *Controller) unpeer(v *state.VPC, p state.Peering) {
	log := c.logger.WithVPC(v.Name)
	if _, err := c.net.DeleteLink(p.LocalVeth); err != nil {
		log.Warn("failed to delete peering link", "link", p.LocalVeth, "error", err)
	}

	scope := naming.PairScope(v.Name, p.PeerVPC)
	inScope := func(rule []string) bool {
		s, _, ok := naming.ParseTag(firewall.CommentOf(rule))
		return ok && s == scope
	}
	v.DropRules(inScope)

	peer, err := c.load("delete", p.PeerVPC)
	if err != nil {
		log.Debug("peer record unavailable", "peer", p.PeerVPC, "error", err)
		return
	}
	for _, rule := range peer.DropRules(inScope) {
		if !c.ledger.Delete(rule) {
			log.Warn("failed to remove peer rule", "peer", p.PeerVPC)
		}
	}
	if i := peer.Peer(v.Name); i >= 0 {
		peer.Peers = append(peer.Peers[:i], peer.Peers[i+1:]...)
	}
	if err := c.save("delete", peer); err != nil {
		log.Warn("failed to update peer record", "peer", p.PeerVPC, "error", err)
	}
}

// CleanupAll deletes every recorded VPC, continuing past failures.
func (c *Controller) CleanupAll() (deleted []string, err error) {
	names, err := c.List()
	if err != nil {
		return nil, err
	}
	var errs []error
	for _, name := range names {
		ok, err := c.Delete(name)
		if err != nil {
			c.logger.Error("cleanup failed", "vpc", name, "error", err)
			errs = append(errs, err)
			continue
		}
		if ok {
			deleted = append(deleted, name)
		}
	}
	return deleted, errors.Join(errs...)
}
