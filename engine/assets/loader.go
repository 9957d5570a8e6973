package assets

// Loader turns the file at path into the value its asset type stands
// for: *loaders.MeshData, *image.RGBA or *loaders.MaterialConfig.
type Loader interface {
	Load(path string) (any, error)
}

type AssetType int

const (
	AssetTypeNone AssetType = iota
	AssetTypeMesh
	AssetTypeTexture
	AssetTypeMaterial
)

func (t AssetType) String() string {
	switch t {
	case AssetTypeMesh:
		return "mesh"
	case AssetTypeTexture:
		return "texture"
	case AssetTypeMaterial:
		return "material"
	default:
		return "none"
	}
}
