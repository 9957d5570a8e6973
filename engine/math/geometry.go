package math

import "github.com/chewxy/math32"

// GeometryGenerateNormals writes face normals into every vertex of each
// triangle. Smoothing should be done in a separate pass if desired.
func GeometryGenerateNormals(vertices []Vertex3D, indices []uint32) {
	for i := 0; i+2 < len(indices); i += 3 {
		i0, i1, i2 := indices[i], indices[i+1], indices[i+2]

		edge1 := vertices[i1].Position.Sub(vertices[i0].Position)
		edge2 := vertices[i2].Position.Sub(vertices[i0].Position)
		normal := edge1.Cross(edge2).Normalized()

		vertices[i0].Normal = normal
		vertices[i1].Normal = normal
		vertices[i2].Normal = normal
	}
}

// GeometryGenerateTangents accumulates per-triangle tangent frames into
// the vertices they touch, then orthogonalises each tangent against the
// vertex normal. The bitangent sign follows the uv winding.
func GeometryGenerateTangents(vertices []Vertex3D, indices []uint32) {
	tangents := make([]Vec3, len(vertices))
	bitangents := make([]Vec3, len(vertices))

	for i := 0; i+2 < len(indices); i += 3 {
		i0, i1, i2 := indices[i], indices[i+1], indices[i+2]
		if int(i0) >= len(vertices) || int(i1) >= len(vertices) || int(i2) >= len(vertices) {
			continue
		}

		edge1 := vertices[i1].Position.Sub(vertices[i0].Position)
		edge2 := vertices[i2].Position.Sub(vertices[i0].Position)

		deltaU1 := vertices[i1].Texcoord.X - vertices[i0].Texcoord.X
		deltaV1 := vertices[i1].Texcoord.Y - vertices[i0].Texcoord.Y
		deltaU2 := vertices[i2].Texcoord.X - vertices[i0].Texcoord.X
		deltaV2 := vertices[i2].Texcoord.Y - vertices[i0].Texcoord.Y

		dividend := deltaU1*deltaV2 - deltaU2*deltaV1
		if math32.Abs(dividend) < K_FLOAT_EPSILON {
			continue
		}
		fc := 1.0 / dividend

		tangent := edge1.MulScalar(deltaV2).Sub(edge2.MulScalar(deltaV1)).MulScalar(fc)
		bitangent := edge2.MulScalar(deltaU1).Sub(edge1.MulScalar(deltaU2)).MulScalar(fc)

		for _, idx := range [3]uint32{i0, i1, i2} {
			tangents[idx] = tangents[idx].Add(tangent)
			bitangents[idx] = bitangents[idx].Add(bitangent)
		}
	}

	for i := range vertices {
		n := vertices[i].Normal
		t := tangents[i]
		// Gram-Schmidt
		t = t.Sub(n.MulScalar(n.Dot(t))).Normalized()
		if t.LengthSquared() == 0 {
			t = fallbackTangent(n)
		}
		handedness := float32(1.0)
		if n.Cross(t).Dot(bitangents[i]) < 0 {
			handedness = -1.0
		}
		vertices[i].Tangent = t
		vertices[i].Bitangent = n.Cross(t).MulScalar(handedness)
	}
}

func fallbackTangent(n Vec3) Vec3 {
	axis := Vec3{1, 0, 0}
	if math32.Abs(n.X) > 0.9 {
		axis = Vec3{0, 1, 0}
	}
	return axis.Sub(n.MulScalar(n.Dot(axis))).Normalized()
}

// Extents returns the bounding box of the positions.
func Extents(vertices []Vertex3D) Extents3D {
	if len(vertices) == 0 {
		return Extents3D{}
	}
	ext := Extents3D{Min: vertices[0].Position, Max: vertices[0].Position}
	for _, v := range vertices[1:] {
		ext.Min = ext.Min.Min(v.Position)
		ext.Max = ext.Max.Max(v.Position)
	}
	return ext
}
