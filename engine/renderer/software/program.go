package software

import (
	"sync"

	"github.com/spaghettifunk/refract/engine/core"
	"github.com/spaghettifunk/refract/engine/renderer/gpu"
)

// MaxVaryings is the number of scalar values a vertex program can pass to
// the pixel program.
const MaxVaryings = 24

const maxRenderTargets = 8

type Varyings [MaxVaryings]float32

type VertexOutput struct {
	// Position is in clip space.
	Position [4]float32
	Varyings Varyings
}

type PixelInput struct {
	// Position holds the pixel centre, depth and 1/w.
	Position [4]float32
	Varyings Varyings
}

type PixelOutput struct {
	Targets [maxRenderTargets][4]float32
}

type VertexProgram func(ctx *ShaderContext, vertex []byte, out *VertexOutput)

type PixelProgram func(ctx *ShaderContext, in *PixelInput, out *PixelOutput)

// Payload is the value a ray carries between trace calls and hit or miss
// programs.
type Payload [4]float32

type HitAttributes struct {
	InstanceIndex  uint32
	InstanceID     uint32
	PrimitiveIndex uint32
	// Barycentrics weight the second and third vertex of the triangle.
	Barycentrics [2]float32
	T            float32
	// ObjectToWorld is row-major 3x4 for column vectors.
	ObjectToWorld     [12]float32
	WorldRayOrigin    [3]float32
	WorldRayDirection [3]float32
}

type RayGenerationProgram func(ctx *RayContext)

type MissProgram func(ctx *RayContext, payload *Payload)

type ClosestHitProgram func(ctx *RayContext, payload *Payload, hit *HitAttributes)

var programs = struct {
	mu         sync.RWMutex
	vertex     map[string]VertexProgram
	pixel      map[string]PixelProgram
	rayGen     map[string]RayGenerationProgram
	miss       map[string]MissProgram
	closestHit map[string]ClosestHitProgram
}{
	vertex:     make(map[string]VertexProgram),
	pixel:      make(map[string]PixelProgram),
	rayGen:     make(map[string]RayGenerationProgram),
	miss:       make(map[string]MissProgram),
	closestHit: make(map[string]ClosestHitProgram),
}

func registerProgram[T any](m map[string]T, entry string, p T) {
	programs.mu.Lock()
	defer programs.mu.Unlock()
	if _, ok := m[entry]; ok {
		core.LogWarn("shader entry point '%s' replaced", entry)
	}
	m[entry] = p
}

func lookupProgram[T any](m map[string]T, entry string) (T, bool) {
	programs.mu.RLock()
	defer programs.mu.RUnlock()
	p, ok := m[entry]
	return p, ok
}

// RegisterVertexProgram makes p available to pipelines whose vertex
// shader entry point is entry.
func RegisterVertexProgram(entry string, p VertexProgram) {
	registerProgram(programs.vertex, entry, p)
}

func RegisterPixelProgram(entry string, p PixelProgram) {
	registerProgram(programs.pixel, entry, p)
}

func RegisterRayGenerationProgram(entry string, p RayGenerationProgram) {
	registerProgram(programs.rayGen, entry, p)
}

func RegisterMissProgram(entry string, p MissProgram) {
	registerProgram(programs.miss, entry, p)
}

func RegisterClosestHitProgram(entry string, p ClosestHitProgram) {
	registerProgram(programs.closestHit, entry, p)
}

func lookupVertexProgram(entry string) (VertexProgram, bool) {
	return lookupProgram(programs.vertex, entry)
}

func lookupPixelProgram(entry string) (PixelProgram, bool) {
	return lookupProgram(programs.pixel, entry)
}

// ShaderContext gives graphics programs access to the arguments bound to
// the root signature at draw time.
type ShaderContext struct {
	pso      *PipelineState
	params   []boundParameter
	targets  int
	viewport gpu.Viewport
}

type boundParameter struct {
	constants []byte
	table     []descriptor
}

// Attribute decodes the input element named semantic from vertex.
func (c *ShaderContext) Attribute(vertex []byte, semantic string) [4]float32 {
	return c.pso.attribute(vertex, semantic)
}

// Constants returns the constant buffer bound to a root CBV parameter,
// or the first constant buffer view of a table parameter.
func (c *ShaderContext) Constants(param uint32) []byte {
	if int(param) >= len(c.params) {
		return nil
	}
	p := c.params[param]
	if p.constants != nil {
		return p.constants
	}
	for _, d := range p.table {
		if d.kind == descriptorCBV {
			return constantBytes(d)
		}
	}
	return nil
}

// Texture returns the index-th descriptor of a table parameter as a
// texture. Unwritten descriptors yield an invalid view that samples as
// zero.
func (c *ShaderContext) Texture(param, index uint32) TextureView {
	if int(param) >= len(c.params) || int(index) >= len(c.params[param].table) {
		return TextureView{}
	}
	return textureView(c.params[param].table[index])
}

// TargetCount returns the number of bound render targets.
func (c *ShaderContext) TargetCount() int {
	return c.targets
}

func (c *ShaderContext) Viewport() gpu.Viewport {
	return c.viewport
}

func constantBytes(d descriptor) []byte {
	if d.res == nil {
		return nil
	}
	_, _, offset := decodeAddress(uint64(d.location))
	end := offset + uint64(d.size)
	if end > uint64(len(d.res.data)) {
		end = uint64(len(d.res.data))
	}
	return d.res.data[offset:end]
}
