/*
Renders a grid of instanced cubes culled against the camera frustum on the
GPU and drawn with indirect draw commands.
*/
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/spaghettifunk/gpucull/engine"
	"github.com/spaghettifunk/gpucull/engine/config"
	"github.com/spaghettifunk/gpucull/engine/core"
	"github.com/spaghettifunk/gpucull/testbed"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "path of the TOML configuration")
	assetsRoot := flag.String("assets", "assets", "assets directory")
	flag.Parse()

	os.Exit(run(*configPath, *assetsRoot))
}

func run(configPath, assetsRoot string) int {
	tb := testbed.NewTestGame(&engine.ApplicationConfig{
		ConfigPath: configPath,
		AssetsRoot: assetsRoot,
	})

	e, err := engine.New(tb.Game)
	if err != nil {
		core.LogError("%+v", err)
		return 1
	}
	defer func() {
		if err := e.Shutdown(); err != nil {
			core.LogError("shutdown: %s", err)
		}
	}()

	if err := e.Initialize(); err != nil {
		core.LogError("%+v", err)
		return 1
	}

	// signal channel to capture system calls
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)
	go func() {
		<-sigCh
		e.RequestExit()
	}()

	if err := e.Run(); err != nil {
		core.LogError("%+v", err)
		return 1
	}
	return 0
}
