package detect

import (
	"context"
	"time"

	"github.com/gdnd-project/gdnd/pkg/device"
)

// L2Config carries the active probe's bounded timeout.
type L2Config struct {
	Timeout time.Duration
}

// L2 is the active detector: it runs a short bounded compute probe and
// reports either a pass or exactly one finding distinguishing a timeout
// from any other probe failure.
type L2 struct {
	dev device.Device
	cfg L2Config
}

// NewL2 creates an active detector over dev.
func NewL2(dev device.Device, cfg L2Config) *L2 {
	return &L2{dev: dev, cfg: cfg}
}

// DetectAll runs the active probe against every device.
func (l *L2) DetectAll(ctx context.Context) ([]Result, error) {
	ids, err := l.dev.ListDevices(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(ids))
	for _, id := range ids {
		results = append(results, l.detectOne(ctx, id))
	}
	return results, nil
}

func (l *L2) detectOne(ctx context.Context, id device.ID) Result {
	probe, err := l.dev.RunActiveProbe(ctx, id, l.cfg.Timeout)
	if err != nil {
		// A probe invocation error (not a timeout, not a probe failure) is
		// treated the same as an ordinary active-check failure: the
		// detector degrades the sub-check rather than failing the tier.
		return fail(id, L2Active, []Finding{activeProbeFailureFinding(err.Error())})
	}
	if probe.Passed {
		return pass(id, L2Active)
	}
	if probe.TimedOut() {
		return fail(id, L2Active, []Finding{activeProbeTimeoutFinding(probe.ErrorMessage)})
	}
	return fail(id, L2Active, []Finding{activeProbeFailureFinding(probe.ErrorMessage)})
}
