//go:build mage

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/target"
)

type Build mg.Namespace

var shaderSources = []string{"cull.comp", "mesh.vert", "mesh.frag"}

const (
	shaderSourceDir = "shaders"
	shaderOutputDir = "assets/shaders"
	shaderTarget    = "vulkan1.1"
)

// Compiles every GLSL shader into SPIR-V under assets/shaders.
func (Build) Shaders() error {
	return buildShaders()
}

// Builds the shaders, then the binary.
func (Build) Engine() error {
	mg.Deps(Build.Shaders)
	_, err := executeCmd("go", withArgs("build", "-o", "bin/gpucull", "."), withEnv("CGO_ENABLED", "1"), withStream())
	return err
}

// buildShaders recompiles the shaders whose SPIR-V is missing or older than the source.
func buildShaders() error {
	if err := os.MkdirAll(shaderOutputDir, 0o755); err != nil {
		return err
	}
	for _, src := range shaderSources {
		in := filepath.Join(shaderSourceDir, src)
		out := filepath.Join(shaderOutputDir, src+".spv")
		stale, err := target.Path(out, in)
		if err != nil {
			return err
		}
		if !stale {
			fmt.Printf("%s is up to date\n", out)
			continue
		}
		if _, err := executeCmd("glslc", withArgs("--target-env="+shaderTarget, in, "-o", out), withStream()); err != nil {
			return err
		}
	}
	return nil
}
