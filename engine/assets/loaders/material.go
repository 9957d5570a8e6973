package loaders

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/spaghettifunk/refract/engine/core"
)

// MaterialConfig is the content of a .kmt material file. Texture paths
// are relative to the assets root.
type MaterialConfig struct {
	Name          string     `toml:"name"`
	Albedo        [4]float32 `toml:"albedo"`
	Roughness     float32    `toml:"roughness"`
	Metallic      float32    `toml:"metallic"`
	RenderTexture bool       `toml:"render_texture"`

	AlbedoMap    string `toml:"albedo_map"`
	RoughnessMap string `toml:"roughness_map"`
	MetallicMap  string `toml:"metallic_map"`
	NormalMap    string `toml:"normal_map"`
}

// Maps lists the texture paths in albedo, roughness, metallic, normal
// order. Empty entries mean no texture.
func (mc *MaterialConfig) Maps() [4]string {
	return [4]string{mc.AlbedoMap, mc.RoughnessMap, mc.MetallicMap, mc.NormalMap}
}

func LoadMaterial(path string) (*MaterialConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		err = fmt.Errorf("failed to open material `%s`: %w", path, err)
		core.LogWarn(err.Error())
		return nil, err
	}
	mc := &MaterialConfig{
		Albedo:    [4]float32{1, 1, 1, 1},
		Roughness: 0.5,
	}
	if err := toml.Unmarshal(data, mc); err != nil {
		err = fmt.Errorf("failed to decode material `%s`: %w", path, err)
		core.LogWarn(err.Error())
		return nil, err
	}
	return mc, nil
}

type MaterialLoader struct{}

func (ml *MaterialLoader) Load(path string) (any, error) {
	return LoadMaterial(path)
}
