package renderer

import (
	"strings"

	"github.com/pkg/errors"
)

type RendererType uint8

const (
	Vulkan RendererType = iota
	Software
)

func (t RendererType) String() string {
	switch t {
	case Vulkan:
		return "vulkan"
	case Software:
		return "software"
	}
	return "unknown"
}

func ParseRendererType(s string) (RendererType, error) {
	switch strings.ToLower(s) {
	case "", "vulkan":
		return Vulkan, nil
	case "software", "headless":
		return Software, nil
	}
	return Vulkan, errors.Errorf("unknown renderer backend %q", s)
}
