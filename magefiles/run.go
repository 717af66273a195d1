//go:build mage

package main

import (
	"fmt"

	"github.com/magefile/mage/mg"
)

type Run mg.Namespace

// Builds the shaders and runs the demo with the default configuration.
func (Run) Engine() error {
	if err := buildShaders(); err != nil {
		return err
	}
	fmt.Println("Run engine...")
	_, err := executeCmd("go", withArgs("run", ".", "-config", "assets/config/engine.toml"), withStream())
	return err
}

// Runs the demo on the software device, without a window or GPU.
func (Run) Headless() error {
	_, err := executeCmd("go", withArgs("run", ".", "-config", "assets/config/headless.toml"), withStream())
	return err
}

// Runs the test suite.
func Test() error {
	_, err := executeCmd("go", withArgs("test", "-race", "./..."), withEnv("CGO_ENABLED", "1"), withStream())
	return err
}
