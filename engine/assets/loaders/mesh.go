package loaders

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/spaghettifunk/refract/engine/core"
	"github.com/spaghettifunk/refract/engine/math"
)

const (
	// MaxMeshElements bounds the vertex and index counts of a mesh file.
	MaxMeshElements = 1 << 24
	meshReadChunk   = 4096
)

// vertexPart is one vertex as stored in a mesh file: right handed, no
// tangent frame.
type vertexPart struct {
	Position [3]float32
	Normal   [3]float32
	Texcoord [2]float32
}

// MeshData is a loaded mesh in the engine's left handed convention with
// its tangent frame computed.
type MeshData struct {
	Vertices []math.Vertex3D
	Indices  []uint32
}

// ReadMesh decodes a mesh file: vertex count and index count as little
// endian uint32, the vertices, then the indices. Positions and normals
// have z negated and texture coordinates are flipped on both axes.
func ReadMesh(r io.Reader) (*MeshData, error) {
	var header [2]uint32
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("failed to read mesh header: %w", err)
	}
	vertexCount, indexCount := header[0], header[1]
	if vertexCount == 0 {
		return nil, fmt.Errorf("mesh has no vertices: %w", core.ErrUnsupported)
	}
	if indexCount == 0 {
		return nil, fmt.Errorf("mesh has no indices: %w", core.ErrUnsupported)
	}

	if vertexCount > MaxMeshElements || indexCount > MaxMeshElements {
		return nil, fmt.Errorf("mesh header claims %d vertices and %d indices: %w", vertexCount, indexCount, core.ErrCapacityExhausted)
	}

	parts, err := readElements[vertexPart](r, vertexCount)
	if err != nil {
		return nil, fmt.Errorf("failed to read %d vertices: %w", vertexCount, err)
	}
	indices, err := readElements[uint32](r, indexCount)
	if err != nil {
		return nil, fmt.Errorf("failed to read %d indices: %w", indexCount, err)
	}
	for _, idx := range indices {
		if idx >= vertexCount {
			return nil, fmt.Errorf("mesh indexes vertex %d of %d: %w", idx, vertexCount, core.ErrIndexOutOfRange)
		}
	}

	vertices := make([]math.Vertex3D, vertexCount)
	for i, p := range parts {
		vertices[i] = math.Vertex3D{
			Position: math.NewVec3(p.Position[0], p.Position[1], -p.Position[2]),
			Normal:   math.NewVec3(p.Normal[0], p.Normal[1], -p.Normal[2]),
			Texcoord: math.NewVec2(1-p.Texcoord[0], 1-p.Texcoord[1]),
		}
	}
	math.GeometryGenerateTangents(vertices, indices)
	return &MeshData{Vertices: vertices, Indices: indices}, nil
}

// readElements reads n values in chunks, so a header that overstates the
// stream fails at its end instead of allocating n values up front.
func readElements[T any](r io.Reader, n uint32) ([]T, error) {
	out := make([]T, 0, min(n, meshReadChunk))
	for remaining := n; remaining > 0; {
		chunk := make([]T, min(remaining, meshReadChunk))
		if err := binary.Read(r, binary.LittleEndian, chunk); err != nil {
			return nil, err
		}
		out = append(out, chunk...)
		remaining -= uint32(len(chunk))
	}
	return out, nil
}

// WriteMesh encodes m in the mesh file format, converting back to the
// file's right handed convention. The tangent frame is not stored.
func WriteMesh(w io.Writer, m *MeshData) error {
	header := [2]uint32{uint32(len(m.Vertices)), uint32(len(m.Indices))}
	if err := binary.Write(w, binary.LittleEndian, header); err != nil {
		return err
	}
	parts := make([]vertexPart, len(m.Vertices))
	for i, v := range m.Vertices {
		parts[i] = vertexPart{
			Position: [3]float32{v.Position.X, v.Position.Y, -v.Position.Z},
			Normal:   [3]float32{v.Normal.X, v.Normal.Y, -v.Normal.Z},
			Texcoord: [2]float32{1 - v.Texcoord.X, 1 - v.Texcoord.Y},
		}
	}
	if err := binary.Write(w, binary.LittleEndian, parts); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, m.Indices)
}

// LoadMesh reads the mesh file at path. Failures are logged as warnings,
// the caller decides whether a missing mesh is fatal.
func LoadMesh(path string) (*MeshData, error) {
	f, err := os.Open(path)
	if err != nil {
		err = fmt.Errorf("failed to open mesh `%s`: %w", path, err)
		core.LogWarn(err.Error())
		return nil, err
	}
	defer f.Close()

	m, err := ReadMesh(bufio.NewReader(f))
	if err != nil {
		err = fmt.Errorf("failed to load mesh `%s`: %w", path, err)
		core.LogWarn(err.Error())
		return nil, err
	}
	return m, nil
}

type MeshLoader struct{}

func (ml *MeshLoader) Load(path string) (any, error) {
	return LoadMesh(path)
}
