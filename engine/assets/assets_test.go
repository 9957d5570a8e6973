package assets

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/refract/engine/assets/loaders"
	"github.com/spaghettifunk/refract/engine/core"
)

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func meshBytes(t *testing.T) []byte {
	t.Helper()
	buf := &bytes.Buffer{}
	require.NoError(t, binary.Write(buf, binary.LittleEndian, [2]uint32{3, 3}))
	require.NoError(t, binary.Write(buf, binary.LittleEndian, [24]float32{
		0, 0, 0, 0, 0, 1, 0, 0,
		1, 0, 0, 0, 0, 1, 1, 0,
		0, 1, 0, 0, 0, 1, 0, 1,
	}))
	require.NoError(t, binary.Write(buf, binary.LittleEndian, [3]uint32{0, 1, 2}))
	return buf.Bytes()
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	buf := &bytes.Buffer{}
	require.NoError(t, png.Encode(buf, image.NewRGBA(image.Rect(0, 0, 2, 2))))
	return buf.Bytes()
}

func newTestAssets(t *testing.T) *AssetManager {
	t.Helper()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "models", "tri.vbo"), meshBytes(t))
	writeFile(t, filepath.Join(root, "textures", "white.png"), pngBytes(t))
	writeFile(t, filepath.Join(root, "materials", "crate.kmt"), []byte("name = \"crate\"\nalbedo_map = \"textures/white.png\"\n"))
	writeFile(t, filepath.Join(root, "README.txt"), []byte("ignored"))

	am, err := NewAssetManager(root, 2)
	require.NoError(t, err)
	require.NoError(t, am.Initialize())
	t.Cleanup(func() { _ = am.Shutdown() })
	return am
}

func TestAssetManagerIndexesRoot(t *testing.T) {
	am := newTestAssets(t)

	assert.Equal(t, 3, am.Count())
	meshes := am.List(AssetTypeMesh)
	require.Len(t, meshes, 1)
	assert.Equal(t, "models/tri.vbo", meshes[0].Name)
	assert.Equal(t, AssetTypeMesh, meshes[0].Type)

	info, ok := am.Lookup("textures/white.png")
	require.True(t, ok)
	assert.Equal(t, AssetTypeTexture, info.Type)
	_, ok = am.Lookup("README.txt")
	assert.False(t, ok)
}

func TestAssetManagerLoad(t *testing.T) {
	am := newTestAssets(t)

	v, err := am.Load("models/tri.vbo")
	require.NoError(t, err)
	mesh, ok := v.(*loaders.MeshData)
	require.True(t, ok)
	assert.Len(t, mesh.Vertices, 3)

	v, err = am.Load("textures/white.png")
	require.NoError(t, err)
	assert.IsType(t, &image.RGBA{}, v)

	v, err = am.Load("materials/crate.kmt")
	require.NoError(t, err)
	mc, ok := v.(*loaders.MaterialConfig)
	require.True(t, ok)
	assert.Equal(t, "textures/white.png", mc.AlbedoMap)

	_, err = am.Load("models/missing.vbo")
	assert.ErrorIs(t, err, ErrAssetNotFound)
}

func TestAssetManagerLoadAsync(t *testing.T) {
	am := newTestAssets(t)

	results := make(chan error, 1)
	require.NoError(t, am.LoadAsync("models/tri.vbo", func(v any, err error) {
		if err == nil {
			_, ok := v.(*loaders.MeshData)
			assert.True(t, ok)
		}
		results <- err
	}))
	select {
	case err := <-results:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("async load never completed")
	}
}

func TestAssetManagerUnknownLoader(t *testing.T) {
	am := newTestAssets(t)
	am.mutex.Lock()
	delete(am.loaders, AssetTypeMesh)
	am.mutex.Unlock()

	_, err := am.Load("models/tri.vbo")
	assert.ErrorIs(t, err, core.ErrUnsupported)
}

func TestAssetManagerPicksUpNewFiles(t *testing.T) {
	am := newTestAssets(t)

	writeFile(t, filepath.Join(am.Root(), "models", "second.vbo"), meshBytes(t))
	assert.Eventually(t, func() bool {
		_, ok := am.Lookup("models/second.vbo")
		return ok
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, os.Remove(filepath.Join(am.Root(), "models", "second.vbo")))
	assert.Eventually(t, func() bool {
		_, ok := am.Lookup("models/second.vbo")
		return !ok
	}, 5*time.Second, 10*time.Millisecond)
}

func TestAssetManagerShutdownWithoutInitialize(t *testing.T) {
	am, err := NewAssetManager(t.TempDir(), 1)
	require.NoError(t, err)
	assert.NoError(t, am.Shutdown())
	assert.NoError(t, am.Shutdown())
	assert.ErrorIs(t, am.LoadAsync("anything", nil), ErrAssetNotFound)
}

func TestDetermineAssetType(t *testing.T) {
	cases := map[string]AssetType{
		"a/b.vbo":   AssetTypeMesh,
		"a/b.MESH":  AssetTypeMesh,
		"b.JPG":     AssetTypeTexture,
		"b.tiff":    AssetTypeTexture,
		"b.kmt":     AssetTypeMaterial,
		"b.shader":  AssetTypeNone,
		"no_suffix": AssetTypeNone,
	}
	for path, expected := range cases {
		assert.Equal(t, expected, determineAssetType(path), path)
	}
}

func TestJobPool(t *testing.T) {
	_, err := NewJobPool(0, 1)
	assert.ErrorIs(t, err, ErrNoWorkers)
	_, err = NewJobPool(1, -1)
	assert.ErrorIs(t, err, ErrNegativeChannelSize)

	jp, err := NewJobPool(4, 8)
	require.NoError(t, err)

	var (
		count atomic.Int32
		wg    sync.WaitGroup
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		require.NoError(t, jp.Submit(Job{
			Name: "count",
			Run: func() (any, error) {
				return count.Add(1), nil
			},
			OnComplete: func(any, error) { wg.Done() },
		}))
	}
	wg.Wait()
	jp.Shutdown()
	assert.Equal(t, int32(32), count.Load())
	assert.ErrorIs(t, jp.Submit(Job{Name: "late"}), ErrPoolClosed)
	jp.Shutdown()
}
