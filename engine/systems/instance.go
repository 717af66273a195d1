package systems

import (
	"time"

	"github.com/pkg/errors"
	"github.com/spaghettifunk/gpucull/engine/core"
	"github.com/spaghettifunk/gpucull/engine/renderer"
	"github.com/spaghettifunk/gpucull/engine/renderer/metadata"
)

// InstanceStore owns the device-local instance array. It is filled once
// through a staging copy and read-only afterwards.
type InstanceStore struct {
	dev     renderer.Device
	buffer  renderer.Buffer
	count   uint32
	timeout time.Duration
}

// NewInstanceStore uploads records. The caller may discard records once it
// returns. Any failure is fatal to the session.
func NewInstanceStore(dev renderer.Device, records []metadata.InstanceRecord, timeout time.Duration) (*InstanceStore, error) {
	count, err := instanceCount(len(records))
	if err != nil {
		return nil, errors.Wrap(err, "instance store")
	}
	buf, err := UploadBuffer(dev, renderer.BufferDesc{
		Name:  core.NewResourceName("instances"),
		Size:  metadata.InstanceRecordSize,
		Usage: renderer.BufferUsageStorage | renderer.BufferUsageTransferSrc,
	}, metadata.EncodeInstances(records), timeout)
	if err != nil {
		return nil, errors.Wrap(err, "instance store")
	}
	core.LogInfo("instance store: %d instances uploaded (%d bytes)", len(records), len(records)*metadata.InstanceRecordSize)
	return &InstanceStore{
		dev:     dev,
		buffer:  buf,
		count:   count,
		timeout: timeout,
	}, nil
}

// instanceCount narrows n to the u32 the cull shader indexes with.
func instanceCount(n int) (uint32, error) {
	if uint64(n) > uint64(^uint32(0)) {
		return 0, errors.Wrapf(renderer.ErrInitialization, "%d instances exceed the 32-bit instance index", n)
	}
	return uint32(n), nil
}

func (s *InstanceStore) Count() uint32 {
	return s.count
}

func (s *InstanceStore) Buffer() renderer.Buffer {
	return s.buffer
}

// ReadBack copies the device array back to the host.
func (s *InstanceStore) ReadBack() ([]metadata.InstanceRecord, error) {
	data, err := ReadBuffer(s.dev, s.buffer, 0, uint64(s.count)*metadata.InstanceRecordSize, s.timeout)
	if err != nil {
		return nil, err
	}
	return metadata.DecodeInstances(data)
}

func (s *InstanceStore) Release() {
	s.buffer.Release()
}
