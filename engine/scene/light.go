package scene

import (
	"github.com/spaghettifunk/refract/engine/math"
	"github.com/spaghettifunk/refract/engine/renderer/shaders"
)

// NewPointLight returns an enabled point light with the default
// attenuation.
func NewPointLight(position math.Vec3, colour math.Vec4) shaders.Light {
	l := shaders.NewLight()
	l.Type = shaders.LightPoint
	l.Position = position.ToVec4(1)
	l.Colour = colour
	l.Enabled = true
	return l
}

// NewSpotLight returns an enabled spot light; angle is the cone half
// angle in radians.
func NewSpotLight(position, direction math.Vec3, colour math.Vec4, angle float32) shaders.Light {
	l := NewPointLight(position, colour)
	l.Type = shaders.LightSpot
	l.Direction = direction.Normalized().ToVec4(0)
	l.SpotAngle = angle
	return l
}

func NewDirectionalLight(direction math.Vec3, colour math.Vec4) shaders.Light {
	l := shaders.NewLight()
	l.Type = shaders.LightDirectional
	l.Direction = direction.Normalized().ToVec4(0)
	l.Colour = colour
	l.Enabled = true
	return l
}
