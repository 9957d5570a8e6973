package math

// Vec2 represents a 2D vector
type Vec2 struct {
	X, Y float32
}

// Vec3 represents a 3D vector
type Vec3 struct {
	X, Y, Z float32
}

// Vec4 represents a 4D vector
type Vec4 struct {
	X, Y, Z, W float32
}

// Quaternion represents a rotational orientation.
type Quaternion Vec4

// Mat4 is a row-major 4x4 matrix. Vectors are treated as rows and
// multiplied on the left (v * M), so translation lives in Data[12:15].
type Mat4 struct {
	Data [16]float32
}

// Extents3D is an axis aligned box.
type Extents3D struct {
	Min Vec3
	Max Vec3
}

// Vertex3D is the full vertex used by lit geometry: 56 bytes once packed.
type Vertex3D struct {
	Position  Vec3
	Normal    Vec3
	Texcoord  Vec2
	Tangent   Vec3
	Bitangent Vec3
}

// Transform holds a position, rotation and scale and caches the derived
// local matrix. Fields should be changed through the setters so the cache
// is invalidated.
type Transform struct {
	Position Vec3
	Rotation Quaternion
	Scale    Vec3
	IsDirty  bool
	Local    Mat4
	Parent   *Transform
}
