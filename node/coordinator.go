package node

import (
	"time"

	"github.com/otxnet/otxd/logger"
	"github.com/pkg/errors"
)

var log, _ = logger.Get(logger.SubsystemTags.WRKR)

// shutdownTimeout bounds how long Stop waits for one subsystem to drain.
const shutdownTimeout = 30 * time.Second

// Subsystem is one unit managed by the coordinator. Start brings the
// subsystem up; Stop returns a channel that closes once the subsystem
// has fully drained.
type Subsystem struct {
	Name  string
	Start func() error
	Stop  func() <-chan struct{}
}

// Coordinator brings subsystems up in registration order and tears them
// down in reverse order, waiting for each to drain before stopping the
// next. This gives every subsystem backpressure against the ones it
// depends on.
type Coordinator struct {
	subsystems []Subsystem
	started    int
}

// NewCoordinator returns an empty coordinator.
func NewCoordinator() *Coordinator {
	return &Coordinator{}
}

// Register appends a subsystem. Registration order is start order.
func (c *Coordinator) Register(subsystem Subsystem) {
	c.subsystems = append(c.subsystems, subsystem)
}

// Start brings every registered subsystem up in order. On failure the
// already started subsystems are stopped in reverse order and the error
// returned.
func (c *Coordinator) Start() error {
	for _, subsystem := range c.subsystems {
		log.Debugf("Starting %s", subsystem.Name)
		if subsystem.Start != nil {
			if err := subsystem.Start(); err != nil {
				err = errors.Wrapf(err, "failed to start %s", subsystem.Name)
				c.Stop()
				return err
			}
		}
		c.started++
	}

	return nil
}

// Stop tears down every started subsystem in reverse order, waiting for
// each to drain. A subsystem that fails to drain within the timeout is
// abandoned with an error logged; teardown continues.
func (c *Coordinator) Stop() {
	for i := c.started - 1; i >= 0; i-- {
		subsystem := c.subsystems[i]
		if subsystem.Stop == nil {
			continue
		}

		log.Debugf("Stopping %s", subsystem.Name)
		select {
		case <-subsystem.Stop():
		case <-time.After(shutdownTimeout):
			log.Errorf("%s did not drain within %s", subsystem.Name,
				shutdownTimeout)
		}
	}
	c.started = 0
}
