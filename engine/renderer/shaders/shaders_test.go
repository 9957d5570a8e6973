package shaders

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/refract/engine/math"
)

func TestGaussianKernelIsNormalised(t *testing.T) {
	assert.Equal(t, []float32{1}, GaussianKernel(0))

	for _, sigma := range []float32{0.5, 1, 5, 20} {
		k := GaussianKernel(sigma)
		require.NotEmpty(t, k)
		assert.LessOrEqual(t, len(k), MaxBlurRadius+1)
		sum := k[0]
		for _, w := range k[1:] {
			sum += 2 * w
		}
		assert.InDelta(t, 1, sum, 1e-5, "sigma %g", sigma)
		for i := 1; i < len(k); i++ {
			assert.Less(t, k[i], k[i-1])
		}
	}
}

func TestConstantLayouts(t *testing.T) {
	obj := ObjectConstants{
		Projection: math.NewMat4PerspectiveLH(math.DegToRad(70), 4.0/3.0, 0.1, 1000),
		View:       math.NewMat4LookToLH(math.NewVec3(0, 0, -4), math.NewVec3Forward(), math.NewVec3Up()),
		World:      math.NewMat4Translation(math.NewVec3(1, 2, 3)),
	}
	b := make([]byte, ObjectConstantsSize)
	obj.Encode(b)
	// stored transposed: the translation ends up in the fourth column
	assert.Equal(t, float32(1), f32(b[128+3*4:]))
	assert.Equal(t, obj, DecodeObjectConstants(b))

	mat := NewMaterialConstants()
	mat.UseNormalTexture = true
	mb := make([]byte, MaterialConstantsSize)
	mat.Encode(mb)
	assert.Equal(t, mat, DecodeMaterialConstants(mb))

	lights := LightsConstants{EyePosition: math.NewVec4(0, 0, -4, 1), Lights: []Light{NewLight()}}
	lights.Lights[0].Enabled = true
	lb := make([]byte, LightsConstantsSize(10))
	lights.Encode(lb)
	decoded := DecodeLightsConstants(lb)
	require.Len(t, decoded.Lights, 10)
	assert.True(t, decoded.Lights[0].Enabled)
	assert.False(t, decoded.Lights[1].Enabled)
	assert.InDelta(t, 0.235, decoded.Lights[9].QuadraticAttenuation, 1e-6)

	p := NewPostConstants(64, 48)
	pb := make([]byte, PostConstantsSize)
	p.Encode(pb)
	assert.Equal(t, p, DecodePostConstants(pb))
}

func TestShadeFacingLight(t *testing.T) {
	light := NewLight()
	light.Type = LightDirectional
	light.Direction = math.NewVec4(0, 0, 1, 0)
	albedo := math.NewVec3(1, 0.5, 0.25)
	normal := math.NewVec3(0, 0, -1)
	view := math.NewVec3(0, 0, -1)

	assert.Equal(t, math.NewVec3Zero(), Shade(math.NewVec3Zero(), normal, view, albedo, 0.5, 0, []Light{light}))

	light.Enabled = true
	lit := Shade(math.NewVec3Zero(), normal, view, albedo, 0.5, 0, []Light{light})
	assert.Greater(t, lit.X, lit.Y)
	assert.Greater(t, lit.Y, lit.Z)
	assert.Greater(t, lit.Z, float32(0))

	// facing away
	back := Shade(math.NewVec3Zero(), normal.Negate(), view, albedo, 0.5, 0, []Light{light})
	assert.Equal(t, math.NewVec3Zero(), back)
}

func TestSpotLightCone(t *testing.T) {
	light := NewLight()
	light.Type = LightSpot
	light.Enabled = true
	light.Position = math.NewVec4(0, 0, -2, 1)
	light.Direction = math.NewVec4(0, 0, 1, 0)

	_, inside := incidence(&light, math.NewVec3(0, 0, 0))
	_, outside := incidence(&light, math.NewVec3(10, 0, 0))
	assert.Greater(t, inside, float32(0))
	assert.Equal(t, float32(0), outside)
}
