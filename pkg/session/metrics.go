package session

import (
	"fmt"

	"github.com/textileio/go-walletsync/pkg/metrics"
	"go.opentelemetry.io/otel/metric/global"
)

func (c *Controller) initMetrics() error {
	meter := global.MeterProvider().Meter("walletsync")
	c.mBaseLabels = metrics.BaseAttrs

	var err error
	c.mPassCounter, err = meter.Int64Counter("walletsync.session.pass.count")
	if err != nil {
		return fmt.Errorf("creating pass counter: %s", err)
	}
	c.mDroppedCounter, err = meter.Int64Counter("walletsync.session.trigger.dropped.count")
	if err != nil {
		return fmt.Errorf("creating dropped triggers counter: %s", err)
	}
	c.mPassLatencyHist, err = meter.Int64Histogram("walletsync.session.pass.latency")
	if err != nil {
		return fmt.Errorf("creating pass latency histogram: %s", err)
	}

	return nil
}
