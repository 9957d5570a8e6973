package shaders

import (
	"encoding/binary"
	stdmath "math"

	"github.com/spaghettifunk/refract/engine/math"
)

// Constant buffer layouts shared by the renderer, which writes them, and
// the programs in this package, which read them. Everything is little
// endian and packed on 16 byte boundaries. Matrices are stored transposed.

const (
	ObjectConstantsSize   = 192
	MaterialConstantsSize = 48
	LightSize             = 80
	lightsHeaderSize      = 32
	PostConstantsSize     = 36
	CameraConstantsSize   = 144
)

func LightsConstantsSize(maxLights int) int {
	return lightsHeaderSize + maxLights*LightSize
}

func putF32(b []byte, v float32) {
	binary.LittleEndian.PutUint32(b, stdmath.Float32bits(v))
}

func f32(b []byte) float32 {
	return stdmath.Float32frombits(binary.LittleEndian.Uint32(b))
}

func putBool(b []byte, v bool) {
	if v {
		binary.LittleEndian.PutUint32(b, 1)
		return
	}
	binary.LittleEndian.PutUint32(b, 0)
}

func putVec4(b []byte, v math.Vec4) {
	putF32(b, v.X)
	putF32(b[4:], v.Y)
	putF32(b[8:], v.Z)
	putF32(b[12:], v.W)
}

func vec4(b []byte) math.Vec4 {
	return math.Vec4{X: f32(b), Y: f32(b[4:]), Z: f32(b[8:]), W: f32(b[12:])}
}

func putMat4Transposed(b []byte, m math.Mat4) {
	t := m.Transposed()
	for i, v := range t.Data {
		putF32(b[i*4:], v)
	}
}

func mat4Transposed(b []byte) math.Mat4 {
	m := math.Mat4{}
	for i := range m.Data {
		m.Data[i] = f32(b[i*4:])
	}
	return m.Transposed()
}

type ObjectConstants struct {
	Projection math.Mat4
	View       math.Mat4
	World      math.Mat4
}

func (c *ObjectConstants) Encode(b []byte) {
	_ = b[ObjectConstantsSize-1]
	putMat4Transposed(b, c.Projection)
	putMat4Transposed(b[64:], c.View)
	putMat4Transposed(b[128:], c.World)
}

func DecodeObjectConstants(b []byte) ObjectConstants {
	if len(b) < ObjectConstantsSize {
		return ObjectConstants{Projection: math.NewMat4Identity(), View: math.NewMat4Identity(), World: math.NewMat4Identity()}
	}
	return ObjectConstants{
		Projection: mat4Transposed(b),
		View:       mat4Transposed(b[64:]),
		World:      mat4Transposed(b[128:]),
	}
}

type MaterialConstants struct {
	Albedo              math.Vec4
	Roughness           float32
	Metallic            float32
	UseAlbedoTexture    bool
	UseRoughnessTexture bool
	UseMetallicTexture  bool
	UseNormalTexture    bool
	RenderTexture       bool
}

func NewMaterialConstants() MaterialConstants {
	return MaterialConstants{Albedo: math.NewVec4(1, 1, 1, 1), Roughness: 1, Metallic: 1}
}

func (c *MaterialConstants) Encode(b []byte) {
	_ = b[MaterialConstantsSize-1]
	putVec4(b, c.Albedo)
	putF32(b[16:], c.Roughness)
	putF32(b[20:], c.Metallic)
	putBool(b[24:], c.UseAlbedoTexture)
	putBool(b[28:], c.UseRoughnessTexture)
	putBool(b[32:], c.UseMetallicTexture)
	putBool(b[36:], c.UseNormalTexture)
	putBool(b[40:], c.RenderTexture)
	binary.LittleEndian.PutUint32(b[44:], 0)
}

func DecodeMaterialConstants(b []byte) MaterialConstants {
	if len(b) < MaterialConstantsSize {
		return NewMaterialConstants()
	}
	return MaterialConstants{
		Albedo:              vec4(b),
		Roughness:           f32(b[16:]),
		Metallic:            f32(b[20:]),
		UseAlbedoTexture:    binary.LittleEndian.Uint32(b[24:]) != 0,
		UseRoughnessTexture: binary.LittleEndian.Uint32(b[28:]) != 0,
		UseMetallicTexture:  binary.LittleEndian.Uint32(b[32:]) != 0,
		UseNormalTexture:    binary.LittleEndian.Uint32(b[36:]) != 0,
		RenderTexture:       binary.LittleEndian.Uint32(b[40:]) != 0,
	}
}

type LightType uint32

const (
	LightPoint LightType = iota
	LightSpot
	LightDirectional
)

func (t LightType) String() string {
	switch t {
	case LightPoint:
		return "point"
	case LightSpot:
		return "spot"
	case LightDirectional:
		return "directional"
	}
	return "unknown"
}

type Light struct {
	Position             math.Vec4
	Direction            math.Vec4
	Colour               math.Vec4
	SpotAngle            float32
	ConstantAttenuation  float32
	LinearAttenuation    float32
	QuadraticAttenuation float32
	Type                 LightType
	Enabled              bool
}

// NewLight returns a disabled white point light.
func NewLight() Light {
	return Light{
		Position:             math.NewVec4(0, 0, 0, 1),
		Direction:            math.NewVec4(0, 0, 1, 0),
		Colour:               math.NewVec4(1, 1, 1, 1),
		SpotAngle:            math.DegToRad(45),
		ConstantAttenuation:  1,
		QuadraticAttenuation: 0.235,
	}
}

func (l *Light) encode(b []byte) {
	putVec4(b, l.Position)
	putVec4(b[16:], l.Direction)
	putVec4(b[32:], l.Colour)
	putF32(b[48:], l.SpotAngle)
	putF32(b[52:], l.ConstantAttenuation)
	putF32(b[56:], l.LinearAttenuation)
	putF32(b[60:], l.QuadraticAttenuation)
	binary.LittleEndian.PutUint32(b[64:], uint32(l.Type))
	putBool(b[68:], l.Enabled)
	binary.LittleEndian.PutUint64(b[72:], 0)
}

func decodeLight(b []byte) Light {
	return Light{
		Position:             vec4(b),
		Direction:            vec4(b[16:]),
		Colour:               vec4(b[32:]),
		SpotAngle:            f32(b[48:]),
		ConstantAttenuation:  f32(b[52:]),
		LinearAttenuation:    f32(b[56:]),
		QuadraticAttenuation: f32(b[60:]),
		Type:                 LightType(binary.LittleEndian.Uint32(b[64:])),
		Enabled:              binary.LittleEndian.Uint32(b[68:]) != 0,
	}
}

type LightsConstants struct {
	EyePosition   math.Vec4
	GlobalAmbient math.Vec4
	Lights        []Light
}

// Encode writes the header and as many lights as fit in b. Slots past
// len(Lights) are written as disabled default lights.
func (c *LightsConstants) Encode(b []byte) {
	_ = b[lightsHeaderSize-1]
	putVec4(b, c.EyePosition)
	putVec4(b[16:], c.GlobalAmbient)
	empty := NewLight()
	for i := 0; lightsHeaderSize+(i+1)*LightSize <= len(b); i++ {
		l := &empty
		if i < len(c.Lights) {
			l = &c.Lights[i]
		}
		l.encode(b[lightsHeaderSize+i*LightSize:])
	}
}

func DecodeLightsConstants(b []byte) LightsConstants {
	if len(b) < lightsHeaderSize {
		return LightsConstants{}
	}
	c := LightsConstants{EyePosition: vec4(b), GlobalAmbient: vec4(b[16:])}
	for off := lightsHeaderSize; off+LightSize <= len(b); off += LightSize {
		c.Lights = append(c.Lights, decodeLight(b[off:]))
	}
	return c
}

type PostConstants struct {
	BlurXCoverage      float32
	BlurStrength       float32
	TextureWidth       uint32
	TextureHeight      uint32
	EnableBlur         bool
	EnableDepthOfField bool
	DepthOfFieldScale  float32
	BlurSharpness      float32
	EnableGreyscale    bool
}

func NewPostConstants(width, height uint32) PostConstants {
	return PostConstants{
		BlurXCoverage:     1,
		BlurStrength:      5,
		TextureWidth:      width,
		TextureHeight:     height,
		DepthOfFieldScale: 0.5,
		BlurSharpness:     4.5,
	}
}

func (c *PostConstants) Encode(b []byte) {
	_ = b[PostConstantsSize-1]
	putF32(b, c.BlurXCoverage)
	putF32(b[4:], c.BlurStrength)
	binary.LittleEndian.PutUint32(b[8:], c.TextureWidth)
	binary.LittleEndian.PutUint32(b[12:], c.TextureHeight)
	putBool(b[16:], c.EnableBlur)
	putBool(b[20:], c.EnableDepthOfField)
	putF32(b[24:], c.DepthOfFieldScale)
	putF32(b[28:], c.BlurSharpness)
	putBool(b[32:], c.EnableGreyscale)
}

func DecodePostConstants(b []byte) PostConstants {
	if len(b) < PostConstantsSize {
		return PostConstants{}
	}
	return PostConstants{
		BlurXCoverage:      f32(b),
		BlurStrength:       f32(b[4:]),
		TextureWidth:       binary.LittleEndian.Uint32(b[8:]),
		TextureHeight:      binary.LittleEndian.Uint32(b[12:]),
		EnableBlur:         binary.LittleEndian.Uint32(b[16:]) != 0,
		EnableDepthOfField: binary.LittleEndian.Uint32(b[20:]) != 0,
		DepthOfFieldScale:  f32(b[24:]),
		BlurSharpness:      f32(b[28:]),
		EnableGreyscale:    binary.LittleEndian.Uint32(b[32:]) != 0,
	}
}

// CameraConstants feed primary ray generation.
type CameraConstants struct {
	InverseView       math.Mat4
	InverseProjection math.Mat4
	Eye               math.Vec4
}

func (c *CameraConstants) Encode(b []byte) {
	_ = b[CameraConstantsSize-1]
	putMat4Transposed(b, c.InverseView)
	putMat4Transposed(b[64:], c.InverseProjection)
	putVec4(b[128:], c.Eye)
}

func DecodeCameraConstants(b []byte) CameraConstants {
	if len(b) < CameraConstantsSize {
		return CameraConstants{InverseView: math.NewMat4Identity(), InverseProjection: math.NewMat4Identity()}
	}
	return CameraConstants{
		InverseView:       mat4Transposed(b),
		InverseProjection: mat4Transposed(b[64:]),
		Eye:               vec4(b[128:]),
	}
}
