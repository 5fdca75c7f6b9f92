//go:build !linux

package hardware

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/brewlab/brewctl/src/flow"
)

var errNoGPIO = errors.New("gpio edge counting needs linux")

type EdgeCounter struct{}

func OpenEdgeCounter(pin int, counter *flow.PulseCounter, log *zap.SugaredLogger) (*EdgeCounter, error) {
	return nil, errNoGPIO
}

func (e *EdgeCounter) Run(ctx context.Context) error { return errNoGPIO }
