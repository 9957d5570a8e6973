package loaders

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"

	"github.com/spaghettifunk/refract/engine/core"
	"github.com/spaghettifunk/refract/engine/math"
)

// triangleFile is a right handed triangle as a mesh exporter writes it.
func triangleFile(t *testing.T) []byte {
	t.Helper()
	buf := &bytes.Buffer{}
	require.NoError(t, binary.Write(buf, binary.LittleEndian, [2]uint32{3, 3}))
	parts := []vertexPart{
		{Position: [3]float32{0, 0, 1}, Normal: [3]float32{0, 0, 1}, Texcoord: [2]float32{0, 0}},
		{Position: [3]float32{1, 0, 1}, Normal: [3]float32{0, 0, 1}, Texcoord: [2]float32{1, 0}},
		{Position: [3]float32{0, 1, 1}, Normal: [3]float32{0, 0, 1}, Texcoord: [2]float32{0, 1}},
	}
	require.NoError(t, binary.Write(buf, binary.LittleEndian, parts))
	require.NoError(t, binary.Write(buf, binary.LittleEndian, []uint32{0, 1, 2}))
	return buf.Bytes()
}

func TestReadMeshConvertsHandedness(t *testing.T) {
	m, err := ReadMesh(bytes.NewReader(triangleFile(t)))
	require.NoError(t, err)
	require.Len(t, m.Vertices, 3)
	assert.Equal(t, []uint32{0, 1, 2}, m.Indices)

	v := m.Vertices[1]
	assert.Equal(t, math.NewVec3(1, 0, -1), v.Position)
	assert.Equal(t, math.NewVec3(0, 0, -1), v.Normal)
	assert.Equal(t, math.NewVec2(0, 1), v.Texcoord)
	// the tangent frame is orthogonal to the normal
	assert.InDelta(t, 0, v.Tangent.Dot(v.Normal), 1e-5)
	assert.InDelta(t, 1, v.Tangent.Length(), 1e-5)
	assert.InDelta(t, 1, v.Bitangent.Length(), 1e-5)
}

func TestMeshRoundTrip(t *testing.T) {
	original := triangleFile(t)
	m, err := ReadMesh(bytes.NewReader(original))
	require.NoError(t, err)

	out := &bytes.Buffer{}
	require.NoError(t, WriteMesh(out, m))
	assert.Equal(t, original, out.Bytes())

	again, err := ReadMesh(bytes.NewReader(out.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, m, again)
}

func TestReadMeshRejectsBadFiles(t *testing.T) {
	empty := &bytes.Buffer{}
	require.NoError(t, binary.Write(empty, binary.LittleEndian, [2]uint32{0, 3}))
	_, err := ReadMesh(empty)
	assert.ErrorIs(t, err, core.ErrUnsupported)

	truncated := triangleFile(t)
	_, err = ReadMesh(bytes.NewReader(truncated[:20]))
	assert.Error(t, err)

	// a header far larger than the stream fails at the end of the data
	overstated := &bytes.Buffer{}
	require.NoError(t, binary.Write(overstated, binary.LittleEndian, [4]uint32{0x00ffffff, 3, 0, 0}))
	_, err = ReadMesh(overstated)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)

	huge := &bytes.Buffer{}
	require.NoError(t, binary.Write(huge, binary.LittleEndian, [4]uint32{0xffffffff, 3, 0, 0}))
	_, err = ReadMesh(huge)
	assert.ErrorIs(t, err, core.ErrCapacityExhausted)

	bad := triangleFile(t)
	binary.LittleEndian.PutUint32(bad[len(bad)-4:], 7)
	_, err = ReadMesh(bytes.NewReader(bad))
	assert.ErrorIs(t, err, core.ErrIndexOutOfRange)

	_, err = LoadMesh(filepath.Join(t.TempDir(), "missing.vbo"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func checker(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if (x+y)%2 == 0 {
				img.Set(x, y, color.NRGBA{R: 255, A: 255})
			} else {
				img.Set(x, y, color.NRGBA{B: 255, A: 255})
			}
		}
	}
	return img
}

func TestDecodeTexture(t *testing.T) {
	src := checker(4, 2)

	pngData := &bytes.Buffer{}
	require.NoError(t, png.Encode(pngData, src))
	img, err := DecodeTexture(pngData, TextureParams{})
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 4, 2), img.Rect)
	assert.Equal(t, color.RGBA{R: 255, A: 255}, img.RGBAAt(0, 0))
	assert.Equal(t, color.RGBA{B: 255, A: 255}, img.RGBAAt(1, 0))

	bmpData := &bytes.Buffer{}
	require.NoError(t, bmp.Encode(bmpData, src))
	img, err = DecodeTexture(bmpData, TextureParams{})
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{B: 255, A: 255}, img.RGBAAt(0, 1))

	_, err = DecodeTexture(bytes.NewReader([]byte("definitely not an image")), TextureParams{})
	assert.ErrorIs(t, err, core.ErrUnsupported)
}

func TestDecodeTextureFitsMaxSize(t *testing.T) {
	data := &bytes.Buffer{}
	require.NoError(t, png.Encode(data, checker(64, 16)))
	img, err := DecodeTexture(data, TextureParams{MaxSize: 32})
	require.NoError(t, err)
	assert.Equal(t, 32, img.Rect.Dx())
	assert.Equal(t, 8, img.Rect.Dy())
}

func TestLoadMaterial(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crate.kmt")
	require.NoError(t, os.WriteFile(path, []byte(`
name = "crate"
metallic = 0.25
render_texture = true
albedo_map = "textures/crate.png"
normal_map = "textures/crate_nrm.png"
`), 0o644))

	mc, err := LoadMaterial(path)
	require.NoError(t, err)
	assert.Equal(t, "crate", mc.Name)
	assert.Equal(t, [4]float32{1, 1, 1, 1}, mc.Albedo)
	assert.Equal(t, float32(0.5), mc.Roughness)
	assert.Equal(t, float32(0.25), mc.Metallic)
	assert.True(t, mc.RenderTexture)
	assert.Equal(t, [4]string{"textures/crate.png", "", "", "textures/crate_nrm.png"}, mc.Maps())

	require.NoError(t, os.WriteFile(path, []byte("name = "), 0o644))
	_, err = LoadMaterial(path)
	assert.Error(t, err)
}
