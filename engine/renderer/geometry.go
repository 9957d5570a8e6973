package renderer

import (
	"context"
	"encoding/binary"
	"fmt"
	stdmath "math"

	"github.com/spaghettifunk/refract/engine/core"
	"github.com/spaghettifunk/refract/engine/math"
	"github.com/spaghettifunk/refract/engine/renderer/gpu"
)

const (
	vertexBufferState = gpu.ResourceStateVertexAndConstantBuffer | gpu.ResourceStateNonPixelShaderResource
	indexBufferState  = gpu.ResourceStateIndexBuffer | gpu.ResourceStateNonPixelShaderResource
)

// Geometry is an immutable vertex and index buffer pair on the default
// heap. Raster draws and bottom level structure builds both read it.
type Geometry struct {
	Name         string
	VertexBuffer gpu.Resource
	IndexBuffer  gpu.Resource
	VertexCount  uint32
	IndexCount   uint32
	Stride       uint32
}

// PackVertices lays vertices out as FullVertexLayout.
func PackVertices(vertices []math.Vertex3D) []byte {
	b := make([]byte, len(vertices)*int(FullVertexLayout.Stride))
	put := func(off int, fs ...float32) {
		for i, f := range fs {
			binary.LittleEndian.PutUint32(b[off+i*4:], stdmath.Float32bits(f))
		}
	}
	for i, v := range vertices {
		off := i * int(FullVertexLayout.Stride)
		put(off, v.Position.X, v.Position.Y, v.Position.Z)
		put(off+12, v.Normal.X, v.Normal.Y, v.Normal.Z)
		put(off+24, v.Texcoord.X, v.Texcoord.Y)
		put(off+32, v.Tangent.X, v.Tangent.Y, v.Tangent.Z)
		put(off+44, v.Bitangent.X, v.Bitangent.Y, v.Bitangent.Z)
	}
	return b
}

func packIndices(indices []uint32) []byte {
	b := make([]byte, len(indices)*4)
	for i, idx := range indices {
		binary.LittleEndian.PutUint32(b[i*4:], idx)
	}
	return b
}

// CreateGeometry uploads a mesh and waits for the copy to finish.
func (r *Renderer) CreateGeometry(ctx context.Context, name string, vertices []math.Vertex3D, indices []uint32) (*Geometry, error) {
	if len(vertices) == 0 || len(indices) == 0 {
		err := fmt.Errorf("geometry `%s` with %d vertices and %d indices: %w", name, len(vertices), len(indices), core.ErrUnsupported)
		core.LogWarn(err.Error())
		return nil, err
	}
	for _, idx := range indices {
		if int(idx) >= len(vertices) {
			err := fmt.Errorf("geometry `%s` indexes vertex %d of %d: %w", name, idx, len(vertices), core.ErrIndexOutOfRange)
			core.LogWarn(err.Error())
			return nil, err
		}
	}
	buffers, err := r.uploadBuffers(ctx, []bufferUpload{
		{name: name + " vertices", data: PackVertices(vertices), state: vertexBufferState},
		{name: name + " indices", data: packIndices(indices), state: indexBufferState},
	})
	if err != nil {
		return nil, err
	}
	return &Geometry{
		Name:         name,
		VertexBuffer: buffers[0],
		IndexBuffer:  buffers[1],
		VertexCount:  uint32(len(vertices)),
		IndexCount:   uint32(len(indices)),
		Stride:       FullVertexLayout.Stride,
	}, nil
}

// createScreenQuad uploads the full screen triangle strip the lighting
// and post passes draw.
func (r *Renderer) createScreenQuad(ctx context.Context) (*Geometry, error) {
	quad := [...]float32{
		-1, 1, 0, 1, 0, 0,
		-1, -1, 0, 1, 0, 1,
		1, 1, 0, 1, 1, 0,
		1, -1, 0, 1, 1, 1,
	}
	data := make([]byte, len(quad)*4)
	for i, f := range quad {
		binary.LittleEndian.PutUint32(data[i*4:], stdmath.Float32bits(f))
	}
	buffers, err := r.uploadBuffers(ctx, []bufferUpload{{name: "screen quad", data: data, state: vertexBufferState}})
	if err != nil {
		return nil, err
	}
	return &Geometry{Name: "screen quad", VertexBuffer: buffers[0], VertexCount: 4, Stride: SimpleVertexLayout.Stride}, nil
}

func (g *Geometry) VertexBufferView() gpu.VertexBufferView {
	return gpu.VertexBufferView{
		BufferLocation: g.VertexBuffer.GPUVirtualAddress(),
		SizeInBytes:    g.VertexCount * g.Stride,
		StrideInBytes:  g.Stride,
	}
}

func (g *Geometry) IndexBufferView() *gpu.IndexBufferView {
	if g.IndexBuffer == nil {
		return nil
	}
	return &gpu.IndexBufferView{
		BufferLocation: g.IndexBuffer.GPUVirtualAddress(),
		SizeInBytes:    g.IndexCount * 4,
		Format:         gpu.FormatR32Uint,
	}
}

// TrianglesDesc describes the geometry as bottom level structure input.
func (g *Geometry) TrianglesDesc() gpu.TrianglesDesc {
	return gpu.TrianglesDesc{
		VertexBuffer: g.VertexBuffer.GPUVirtualAddress(),
		VertexStride: uint64(g.Stride),
		VertexCount:  g.VertexCount,
		VertexFormat: gpu.FormatRGB32Float,
		IndexBuffer:  g.IndexBuffer.GPUVirtualAddress(),
		IndexCount:   g.IndexCount,
		IndexFormat:  gpu.FormatR32Uint,
	}
}

// Release frees the buffers. The caller makes sure no frame in flight
// still reads them.
func (g *Geometry) Release() {
	if g.VertexBuffer != nil {
		g.VertexBuffer.Release()
		g.VertexBuffer = nil
	}
	if g.IndexBuffer != nil {
		g.IndexBuffer.Release()
		g.IndexBuffer = nil
	}
}
