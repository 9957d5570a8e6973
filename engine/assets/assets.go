package assets

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/spaghettifunk/refract/engine/assets/loaders"
	"github.com/spaghettifunk/refract/engine/core"
)

// MaxTextureSize bounds the larger side of loaded textures.
const MaxTextureSize = 2048

var ErrAssetNotFound = errors.New("asset not found")

type AssetInfo struct {
	// Name is the path relative to the assets root, slash separated.
	Name     string
	Path     string
	Type     AssetType
	Modified time.Time
}

// AssetManager indexes every file under the assets root by type, keeps the
// index current with fsnotify and loads assets through the registered
// loaders, synchronously or on its job pool.
type AssetManager struct {
	root    string
	assets  map[string]AssetInfo
	loaders map[AssetType]Loader
	jobs    *JobPool

	mutex sync.RWMutex

	done     chan struct{}
	stopped  chan struct{}
	fsnotify *fsnotify.Watcher
	started  bool
	isClosed bool
	changes  chan AssetInfo
}

func NewAssetManager(root string, workers int) (*AssetManager, error) {
	fsWatch, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	jobs, err := NewJobPool(workers, 64)
	if err != nil {
		fsWatch.Close()
		return nil, err
	}
	return &AssetManager{
		root:     root,
		assets:   make(map[string]AssetInfo),
		loaders:  make(map[AssetType]Loader),
		jobs:     jobs,
		fsnotify: fsWatch,
		changes:  make(chan AssetInfo, 64),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}, nil
}

// Initialize indexes the assets root, starts watching it and registers
// the built in loaders.
func (am *AssetManager) Initialize() error {
	am.RegisterLoader(AssetTypeMesh, &loaders.MeshLoader{})
	am.RegisterLoader(AssetTypeTexture, &loaders.TextureLoader{Params: loaders.TextureParams{MaxSize: MaxTextureSize}})
	am.RegisterLoader(AssetTypeMaterial, &loaders.MaterialLoader{})

	if err := am.addRecursive(am.root); err != nil {
		err = fmt.Errorf("failed to watch assets root `%s`: %w", am.root, err)
		core.LogError(err.Error())
		return err
	}
	am.started = true
	go am.start()
	core.LogInfo("asset manager watching `%s` (%d assets)", am.root, am.Count())
	return nil
}

func (am *AssetManager) RegisterLoader(assetType AssetType, loader Loader) {
	am.mutex.Lock()
	defer am.mutex.Unlock()
	am.loaders[assetType] = loader
}

// Root is the directory asset names are relative to.
func (am *AssetManager) Root() string {
	return am.root
}

func (am *AssetManager) Count() int {
	am.mutex.RLock()
	defer am.mutex.RUnlock()
	return len(am.assets)
}

func (am *AssetManager) Lookup(name string) (AssetInfo, bool) {
	am.mutex.RLock()
	defer am.mutex.RUnlock()
	info, ok := am.assets[name]
	return info, ok
}

// List returns the indexed assets of assetType sorted by name.
func (am *AssetManager) List(assetType AssetType) []AssetInfo {
	am.mutex.RLock()
	defer am.mutex.RUnlock()
	out := make([]AssetInfo, 0, len(am.assets))
	for _, info := range am.assets {
		if info.Type == assetType {
			out = append(out, info)
		}
	}
	slices.SortFunc(out, func(a, b AssetInfo) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// Changes delivers assets that were created or rewritten after
// Initialize. Notifications are dropped when nobody keeps up.
func (am *AssetManager) Changes() <-chan AssetInfo {
	return am.changes
}

func (am *AssetManager) resolve(name string) (AssetInfo, Loader, error) {
	am.mutex.RLock()
	defer am.mutex.RUnlock()
	info, ok := am.assets[name]
	if !ok {
		return AssetInfo{}, nil, fmt.Errorf("`%s`: %w", name, ErrAssetNotFound)
	}
	loader, ok := am.loaders[info.Type]
	if !ok {
		return AssetInfo{}, nil, fmt.Errorf("no loader registered for %s assets: %w", info.Type, core.ErrUnsupported)
	}
	return info, loader, nil
}

// Load reads the named asset with its type's loader.
func (am *AssetManager) Load(name string) (any, error) {
	info, loader, err := am.resolve(name)
	if err != nil {
		core.LogWarn(err.Error())
		return nil, err
	}
	return loader.Load(info.Path)
}

// LoadAsync loads the named asset on the job pool and hands the result to
// done from a worker goroutine.
func (am *AssetManager) LoadAsync(name string, done func(any, error)) error {
	info, loader, err := am.resolve(name)
	if err != nil {
		core.LogWarn(err.Error())
		return err
	}
	return am.jobs.Submit(Job{
		Name:       name,
		Run:        func() (any, error) { return loader.Load(info.Path) },
		OnComplete: done,
	})
}

func (am *AssetManager) Shutdown() error {
	am.mutex.Lock()
	if am.isClosed {
		am.mutex.Unlock()
		return nil
	}
	am.isClosed = true
	am.mutex.Unlock()

	close(am.done)
	if am.started {
		<-am.stopped
	} else {
		am.fsnotify.Close()
	}
	am.jobs.Shutdown()
	return nil
}

func (am *AssetManager) start() {
	defer close(am.stopped)
	for {
		select {
		case e, ok := <-am.fsnotify.Events:
			if !ok {
				return
			}
			am.handleEvent(e)

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

func (am *AssetManager) handleEvent(e fsnotify.Event) {
	if e.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
		am.removeAsset(e.Name)
		// not watched when it was a file, nothing to do then
		_ = am.fsnotify.Remove(e.Name)
		return
	}
	if e.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		return
	}
	s, err := os.Stat(e.Name)
	if err != nil {
		return
	}
	if s.IsDir() {
		if e.Op&fsnotify.Create != 0 {
			if err := am.watchRecursive(e.Name); err != nil {
				core.LogWarn("failed to watch `%s`: %s", e.Name, err)
			}
		}
		return
	}
	if info, ok := am.indexFile(e.Name, s.ModTime()); ok {
		select {
		case am.changes <- info:
		default:
		}
	}
}

func (am *AssetManager) addRecursive(name string) error {
	if am.isClosed {
		return errors.New("asset watcher already closed")
	}
	return am.watchRecursive(name)
}

// watchRecursive watches every directory under path and indexes the files
// it finds. Files created before the watch is in place are still indexed
// by the walk.
func (am *AssetManager) watchRecursive(path string) error {
	return filepath.Walk(path, func(walkPath string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() {
			return am.fsnotify.Add(walkPath)
		}
		am.indexFile(walkPath, fi.ModTime())
		return nil
	})
}

func (am *AssetManager) name(path string) string {
	rel, err := filepath.Rel(am.root, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

func (am *AssetManager) indexFile(path string, modified time.Time) (AssetInfo, bool) {
	assetType := determineAssetType(path)
	if assetType == AssetTypeNone {
		return AssetInfo{}, false
	}
	info := AssetInfo{
		Name:     am.name(path),
		Path:     path,
		Type:     assetType,
		Modified: modified,
	}
	am.mutex.Lock()
	am.assets[info.Name] = info
	am.mutex.Unlock()
	return info, true
}

func (am *AssetManager) removeAsset(path string) {
	am.mutex.Lock()
	defer am.mutex.Unlock()
	delete(am.assets, am.name(path))
}

func determineAssetType(path string) AssetType {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".vbo", ".mesh":
		return AssetTypeMesh
	case ".png", ".jpg", ".jpeg", ".bmp", ".tif", ".tiff":
		return AssetTypeTexture
	case ".kmt":
		return AssetTypeMaterial
	default:
		return AssetTypeNone
	}
}
