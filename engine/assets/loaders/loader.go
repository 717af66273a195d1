package loaders

// ResourceType identifies what a file under the assets root holds.
type ResourceType int

const (
	ResourceTypeNone ResourceType = iota
	ResourceTypeShader
	ResourceTypeImage
	ResourceTypeInstances
	ResourceTypeConfig
)

func (rt ResourceType) String() string {
	switch rt {
	case ResourceTypeShader:
		return "shader"
	case ResourceTypeImage:
		return "image"
	case ResourceTypeInstances:
		return "instances"
	case ResourceTypeConfig:
		return "config"
	}
	return "none"
}

// Loader decodes one kind of asset file.
type Loader[T any] interface {
	Load(path string) (T, error)
}
