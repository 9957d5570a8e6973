package scene

import (
	"github.com/spaghettifunk/refract/engine/core"
	"github.com/spaghettifunk/refract/engine/math"
	"github.com/spaghettifunk/refract/engine/renderer"
	"github.com/spaghettifunk/refract/engine/renderer/shaders"
)

type TextureType int

const (
	TextureAlbedo TextureType = iota
	TextureRoughness
	TextureMetallic
	TextureNormal
)

func (t TextureType) String() string {
	switch t {
	case TextureAlbedo:
		return "albedo"
	case TextureRoughness:
		return "roughness"
	case TextureMetallic:
		return "metallic"
	case TextureNormal:
		return "normal"
	}
	return "unknown"
}

type materialTexture struct {
	texture *renderer.Texture
	handle  Handle
}

// Material describes the surface of the objects that reference it.
// Textures are kept by type; a material holds at most one of each.
type Material struct {
	Name          string
	Albedo        math.Vec4
	Roughness     float32
	Metallic      float32
	RenderTexture bool

	textures [shaders.MaterialTextureCount]materialTexture
}

func NewMaterial(name string) *Material {
	return &Material{
		Name:      name,
		Albedo:    math.NewVec4(1, 1, 1, 1),
		Roughness: 0.5,
	}
}

// AssignTexture puts t in the first free slot, in albedo, roughness,
// metallic, normal order.
func (m *Material) AssignTexture(t *renderer.Texture) {
	if t == nil {
		core.LogWarn("material `%s`: cannot assign a nil texture", m.Name)
		return
	}
	for i := range m.textures {
		if m.textures[i].texture == nil {
			m.textures[i] = materialTexture{texture: t}
			return
		}
	}
	core.LogWarn("material `%s` already has %d textures, `%s` not assigned", m.Name, len(m.textures), t.Name)
}

// SetTexture replaces the texture of the given type; nil clears it.
func (m *Material) SetTexture(kind TextureType, t *renderer.Texture) {
	if kind < 0 || int(kind) >= len(m.textures) {
		core.LogWarn("material `%s`: no texture slot %d", m.Name, kind)
		return
	}
	m.textures[kind] = materialTexture{texture: t}
}

func (m *Material) setTexture(kind TextureType, t *renderer.Texture, h Handle) {
	m.textures[kind] = materialTexture{texture: t, handle: h}
}

func (m *Material) Texture(i int) *renderer.Texture {
	if i < 0 || i >= len(m.textures) {
		core.LogWarn("material `%s`: texture index %d out of range", m.Name, i)
		return nil
	}
	return m.textures[i].texture
}

func (m *Material) TextureCount() int {
	n := 0
	for _, t := range m.textures {
		if t.texture != nil {
			n++
		}
	}
	return n
}

// Textures returns the bound textures by type, nil where unset.
func (m *Material) Textures() [shaders.MaterialTextureCount]*renderer.Texture {
	var out [shaders.MaterialTextureCount]*renderer.Texture
	for i, t := range m.textures {
		out[i] = t.texture
	}
	return out
}

func (m *Material) Constants() shaders.MaterialConstants {
	return shaders.MaterialConstants{
		Albedo:              m.Albedo,
		Roughness:           m.Roughness,
		Metallic:            m.Metallic,
		UseAlbedoTexture:    m.textures[TextureAlbedo].texture != nil,
		UseRoughnessTexture: m.textures[TextureRoughness].texture != nil,
		UseMetallicTexture:  m.textures[TextureMetallic].texture != nil,
		UseNormalTexture:    m.textures[TextureNormal].texture != nil,
		RenderTexture:       m.RenderTexture,
	}
}
