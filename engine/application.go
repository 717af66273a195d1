package engine

import (
	"github.com/spaghettifunk/gpucull/engine/config"
	"github.com/spaghettifunk/gpucull/engine/platform"
	"github.com/spaghettifunk/gpucull/engine/renderer/software"
)

type ApplicationConfig struct {
	// Path of the TOML configuration, config.DefaultPath when empty. The file
	// is watched for live changes.
	ConfigPath string
	// Used instead of reading ConfigPath when set. Nothing is watched then.
	Config *config.Config
	// Directory the asset paths of the configuration are relative to.
	AssetsRoot string
	// Overrides the platform chosen for the backend.
	Platform platform.Platform
	// Options of the software device.
	SoftwareOptions []software.Option
}

func (ac *ApplicationConfig) configPath() string {
	if ac.ConfigPath == "" {
		return config.DefaultPath
	}
	return ac.ConfigPath
}

func (ac *ApplicationConfig) assetsRoot() string {
	if ac.AssetsRoot == "" {
		return "assets"
	}
	return ac.AssetsRoot
}
