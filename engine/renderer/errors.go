package renderer

import "github.com/pkg/errors"

var (
	ErrInitialization    = errors.New("renderer initialization failed")
	ErrOutOfDeviceMemory = errors.New("out of device memory")
	ErrMissingCapability = errors.New("missing device capability")

	ErrDeviceLost = errors.New("device lost")

	ErrSurfaceOutOfDate  = errors.New("surface out of date")
	ErrSurfaceSuboptimal = errors.New("surface suboptimal")

	ErrNotHostVisible   = errors.New("buffer is not host visible")
	ErrResourceReleased = errors.New("resource already released")
	ErrInvalidUsage     = errors.New("invalid usage")
)

// IsRecoverable reports presentation states handled by rebuilding the surface.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrSurfaceOutOfDate) || errors.Is(err, ErrSurfaceSuboptimal)
}

// IsFatal reports errors the frame loop cannot continue from.
func IsFatal(err error) bool {
	return err != nil && !IsRecoverable(err)
}
