package vpc

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"grimm.is/vpcctl/internal/network"
	"grimm.is/vpcctl/internal/validation"
)

// TestConnectivity GETs http://target:port from fromNS (the host when
// empty), falling back to a ping. Unreachable targets are reported in the
// result, not as errors. Preview mode prints the probe and returns nil.
func (c *Controller) TestConnectivity(ctx context.Context, target string, port int, fromNS string) (res *network.ProbeResult, err error) {
	const op = "test-connectivity"
	defer func() { c.metrics.RecordOperation(op, err) }()

	if _, err := validation.ParseIPv4Addr(target); err != nil {
		return nil, newError(KindValidation, op, err)
	}
	if err := validation.ValidatePortNumber(port); err != nil {
		return nil, newError(KindValidation, op, err)
	}

	probe := []string{"curl", "-sS", "--max-time", strconv.Itoa(curlMaxTime(c.prober.Timeout)), fmt.Sprintf("http://%s:%d", target, port)}
	if fromNS != "" {
		probe = NamespaceCommand(fromNS, probe)
	}
	if c.preview {
		return nil, c.runner.Run(probe[0], probe[1:]...)
	}

	r := c.prober.Probe(ctx, target, port, fromNS)
	log := c.logger.WithFields(map[string]any{"target": target, "port": port, "ns": fromNS})
	if r.OK {
		log.Info("connectivity ok", "method", r.Method, "status", r.Status, "elapsed", r.Elapsed)
	} else {
		log.Warn("connectivity failed", "error", r.Err)
	}
	return &r, nil
}

// curlMaxTime rounds d up to whole seconds. curl reads 0 as no limit, so the
// result is at least 1.
func curlMaxTime(d time.Duration) int {
	return max(1, int(math.Ceil(d.Seconds())))
}
