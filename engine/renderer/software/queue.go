package software

import (
	"time"

	"github.com/pkg/errors"
)

type queueOp struct {
	id       uint64
	commands *CommandSequence
	wait     *Semaphore
	signal   *Semaphore
	fence    *Fence
	present  func()
}

func (d *Device) run() {
	defer d.wg.Done()
	for {
		select {
		case <-d.quit:
			return
		case op := <-d.queue:
			if !d.execute(op) {
				return
			}
		}
	}
}

// execute runs one queue operation. It returns false when the device is
// shutting down.
func (d *Device) execute(op queueOp) bool {
	if d.hung.Load() {
		<-d.quit
		return false
	}
	if op.wait != nil && !op.wait.waitDevice(d.quit) {
		return false
	}
	if d.latency > 0 && op.commands != nil {
		select {
		case <-time.After(d.latency):
		case <-d.quit:
			return false
		}
	}

	var err error
	if op.commands != nil {
		if lost := d.lost.Load(); lost != nil {
			err = *lost
		} else if err = op.commands.execute(); err != nil {
			err = errors.Wrapf(err, "submission %d", op.id)
			d.markLost(err)
			err = *d.lost.Load()
		}
		op.commands.markComplete()
		d.completed.Add(1)
	}
	if op.present != nil {
		op.present()
	}
	if op.signal != nil {
		op.signal.signal()
	}
	if op.fence != nil {
		if err == nil {
			if lost := d.lost.Load(); lost != nil {
				err = *lost
			}
		}
		op.fence.signal(err)
	}
	return true
}
