package assets

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/spaghettifunk/gpucull/engine/assets/loaders"
	"github.com/spaghettifunk/gpucull/engine/core"
	"github.com/spaghettifunk/gpucull/engine/renderer/metadata"
)

type AssetInfo struct {
	Path       string
	Type       loaders.ResourceType
	LastLoaded time.Time
}

// ChangeHandler is called from the watcher goroutine when a watched file
// is created or written.
type ChangeHandler func(path string)

type AssetManager struct {
	root     string
	assets   map[string]AssetInfo
	handlers map[string][]ChangeHandler

	shaders   loaders.ShaderLoader
	textures  loaders.TextureLoader
	instances loaders.InstanceLoader

	mutex sync.RWMutex

	done     chan struct{}
	stopped  chan struct{}
	fsnotify *fsnotify.Watcher
	started  bool
	isClosed bool
}

func NewAssetManager(root string) (*AssetManager, error) {
	fsWatch, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "creating file watcher")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		fsWatch.Close()
		return nil, err
	}
	return &AssetManager{
		root:     abs,
		assets:   make(map[string]AssetInfo),
		handlers: make(map[string][]ChangeHandler),
		fsnotify: fsWatch,
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}, nil
}

// Initialize indexes the assets root and starts watching it.
func (am *AssetManager) Initialize() error {
	if err := am.watchRecursive(am.root); err != nil {
		return errors.Wrapf(err, "watching %s", am.root)
	}
	am.mutex.Lock()
	am.started = true
	am.mutex.Unlock()
	go am.start()
	core.LogInfo("asset manager watching %s (%d assets)", am.root, len(am.Assets()))
	return nil
}

func (am *AssetManager) Root() string {
	return am.root
}

// Path resolves a path relative to the assets root. Absolute paths are
// returned unchanged.
func (am *AssetManager) Path(rel string) string {
	if filepath.IsAbs(rel) {
		return rel
	}
	return filepath.Join(am.root, rel)
}

// OnChange registers h for writes to path. Files outside the assets root
// get their directory watched as well.
func (am *AssetManager) OnChange(path string, h ChangeHandler) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	am.mutex.Lock()
	defer am.mutex.Unlock()
	if am.isClosed {
		return errors.New("asset manager already closed")
	}
	if !strings.HasPrefix(abs, am.root+string(filepath.Separator)) {
		if err := am.fsnotify.Add(filepath.Dir(abs)); err != nil {
			return errors.Wrapf(err, "watching %s", filepath.Dir(abs))
		}
	}
	am.handlers[abs] = append(am.handlers[abs], h)
	return nil
}

func (am *AssetManager) LoadShader(path string) ([]byte, error) {
	return load(am, path, &am.shaders)
}

func (am *AssetManager) LoadTexture(path string) (*metadata.TextureData, error) {
	return load(am, path, &am.textures)
}

func (am *AssetManager) LoadInstances(path string) ([]metadata.InstanceRecord, error) {
	return load(am, path, &am.instances)
}

func load[T any](am *AssetManager, path string, l loaders.Loader[T]) (T, error) {
	full := am.Path(path)
	v, err := l.Load(full)
	if err != nil {
		return v, err
	}
	am.mutex.Lock()
	am.assets[full] = AssetInfo{Path: full, Type: determineAssetType(full), LastLoaded: time.Now()}
	am.mutex.Unlock()
	return v, nil
}

// Assets returns the indexed assets.
func (am *AssetManager) Assets() []AssetInfo {
	am.mutex.RLock()
	defer am.mutex.RUnlock()
	out := make([]AssetInfo, 0, len(am.assets))
	for _, a := range am.assets {
		out = append(out, a)
	}
	return out
}

func (am *AssetManager) Shutdown() {
	am.mutex.Lock()
	if am.isClosed {
		am.mutex.Unlock()
		return
	}
	am.isClosed = true
	started := am.started
	am.mutex.Unlock()

	close(am.done)
	if started {
		<-am.stopped
		return
	}
	am.fsnotify.Close()
}

func (am *AssetManager) start() {
	defer close(am.stopped)
	for {
		select {
		case e, ok := <-am.fsnotify.Events:
			if !ok {
				return
			}
			s, err := os.Stat(e.Name)
			if err == nil && s != nil && s.IsDir() {
				if e.Op&fsnotify.Create != 0 {
					if err := am.watchRecursive(e.Name); err != nil {
						core.LogWarn("failed to watch %s: %s", e.Name, err)
					}
				}
				continue
			}
			if e.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				am.handleFileEvent(e.Name)
			}
			// Can't stat a deleted path, so drop it from both the index
			// and the watch list.
			if e.Op&fsnotify.Remove != 0 {
				am.removeAsset(e.Name)
				_ = am.fsnotify.Remove(e.Name)
			}

		case err, ok := <-am.fsnotify.Errors:
			if !ok {
				return
			}
			core.LogError("asset watcher: %s", err)

		case <-am.done:
			am.fsnotify.Close()
			return
		}
	}
}

// watchRecursive adds all directories under the given one to the watch list.
func (am *AssetManager) watchRecursive(path string) error {
	return filepath.Walk(path, func(walkPath string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() {
			return am.fsnotify.Add(walkPath)
		}
		am.index(walkPath)
		return nil
	})
}

func (am *AssetManager) index(path string) {
	assetType := determineAssetType(path)
	if assetType == loaders.ResourceTypeNone {
		return
	}
	am.mutex.Lock()
	defer am.mutex.Unlock()
	if _, ok := am.assets[path]; !ok {
		am.assets[path] = AssetInfo{Path: path, Type: assetType}
	}
}

// Handle the creation or modification of a file
func (am *AssetManager) handleFileEvent(path string) {
	am.index(path)

	abs, err := filepath.Abs(path)
	if err != nil {
		return
	}
	am.mutex.RLock()
	handlers := append([]ChangeHandler(nil), am.handlers[abs]...)
	am.mutex.RUnlock()

	for _, h := range handlers {
		h(abs)
	}
}

// Remove the asset from the index if it was deleted
func (am *AssetManager) removeAsset(path string) {
	am.mutex.Lock()
	defer am.mutex.Unlock()

	delete(am.assets, path)
}

func determineAssetType(path string) loaders.ResourceType {
	switch filepath.Ext(path) {
	case ".spv":
		return loaders.ResourceTypeShader
	case ".png", ".jpg", ".jpeg", ".bmp", ".tif", ".tiff", ".webp":
		return loaders.ResourceTypeImage
	case ".toml":
		if filepath.Base(filepath.Dir(path)) == "config" {
			return loaders.ResourceTypeConfig
		}
		return loaders.ResourceTypeInstances
	default:
		return loaders.ResourceTypeNone
	}
}
