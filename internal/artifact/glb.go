package artifact

import (
	"bufio"
	"fmt"
	"math"
	"os"

	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"
)

// ConvertGLBToOBJ writes every triangle mesh in the GLB's default scene to a
// Wavefront OBJ file with node transforms applied.
func ConvertGLBToOBJ(src, dst string) error {
	doc, err := gltf.Open(src)
	if err != nil {
		return fmt.Errorf("opening glb: %w", err)
	}

	f, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("creating obj: %w", err)
	}
	w := bufio.NewWriter(f)
	fmt.Fprintf(w, "# converted from %s\n", src)

	ow := &objWriter{doc: doc, w: w}
	for _, root := range sceneRoots(doc) {
		if err := ow.node(root, identity()); err != nil {
			f.Close()
			os.Remove(dst)
			return err
		}
	}
	if ow.faces == 0 {
		f.Close()
		os.Remove(dst)
		return fmt.Errorf("glb contains no triangle meshes")
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("writing obj: %w", err)
	}
	return f.Close()
}

func sceneRoots(doc *gltf.Document) []int {
	if len(doc.Scenes) > 0 {
		idx := 0
		if doc.Scene != nil && *doc.Scene < len(doc.Scenes) {
			idx = *doc.Scene
		}
		return doc.Scenes[idx].Nodes
	}
	// No scene: treat every node that is nobody's child as a root.
	child := make(map[int]bool)
	for _, n := range doc.Nodes {
		for _, c := range n.Children {
			child[c] = true
		}
	}
	var roots []int
	for i := range doc.Nodes {
		if !child[i] {
			roots = append(roots, i)
		}
	}
	return roots
}

type mat4 [16]float64

type objWriter struct {
	doc      *gltf.Document
	w        *bufio.Writer
	vertices int
	uvs      int
	faces    int
}

func (o *objWriter) node(idx int, parent mat4) error {
	if idx < 0 || idx >= len(o.doc.Nodes) {
		return fmt.Errorf("node index %d out of range", idx)
	}
	n := o.doc.Nodes[idx]
	world := mul(parent, localTransform(n))
	if n.Mesh != nil {
		if err := o.mesh(*n.Mesh, world); err != nil {
			return err
		}
	}
	for _, c := range n.Children {
		if err := o.node(c, world); err != nil {
			return err
		}
	}
	return nil
}

func (o *objWriter) mesh(idx int, world mat4) error {
	if idx < 0 || idx >= len(o.doc.Meshes) {
		return fmt.Errorf("mesh index %d out of range", idx)
	}
	for _, p := range o.doc.Meshes[idx].Primitives {
		if p.Mode != gltf.PrimitiveTriangles {
			continue
		}
		posIdx, ok := p.Attributes[gltf.POSITION]
		if !ok {
			continue
		}
		positions, err := modeler.ReadPosition(o.doc, o.doc.Accessors[posIdx], nil)
		if err != nil {
			return fmt.Errorf("reading positions: %w", err)
		}
		var uvs [][2]float32
		if uvIdx, ok := p.Attributes[gltf.TEXCOORD_0]; ok {
			if uvs, err = modeler.ReadTextureCoord(o.doc, o.doc.Accessors[uvIdx], nil); err != nil {
				return fmt.Errorf("reading texture coordinates: %w", err)
			}
		}
		var indices []uint32
		if p.Indices != nil {
			if indices, err = modeler.ReadIndices(o.doc, o.doc.Accessors[*p.Indices], nil); err != nil {
				return fmt.Errorf("reading indices: %w", err)
			}
		} else {
			indices = make([]uint32, len(positions))
			for i := range indices {
				indices[i] = uint32(i)
			}
		}

		for _, v := range positions {
			x, y, z := apply(world, v)
			fmt.Fprintf(o.w, "v %g %g %g\n", x, y, z)
		}
		hasUV := len(uvs) == len(positions)
		if hasUV {
			for _, t := range uvs {
				// glTF puts the texture origin top-left, OBJ bottom-left.
				fmt.Fprintf(o.w, "vt %g %g\n", t[0], 1-t[1])
			}
		}
		for i := 0; i+2 < len(indices); i += 3 {
			a := o.vertices + int(indices[i]) + 1
			b := o.vertices + int(indices[i+1]) + 1
			c := o.vertices + int(indices[i+2]) + 1
			if hasUV {
				ua := o.uvs + int(indices[i]) + 1
				ub := o.uvs + int(indices[i+1]) + 1
				uc := o.uvs + int(indices[i+2]) + 1
				fmt.Fprintf(o.w, "f %d/%d %d/%d %d/%d\n", a, ua, b, ub, c, uc)
			} else {
				fmt.Fprintf(o.w, "f %d %d %d\n", a, b, c)
			}
			o.faces++
		}
		o.vertices += len(positions)
		if hasUV {
			o.uvs += len(uvs)
		}
	}
	return nil
}

func identity() mat4 {
	return mat4{1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1}
}

// localTransform is column-major, as glTF stores it.
func localTransform(n *gltf.Node) mat4 {
	if n.Matrix != [16]float64{} && n.Matrix != gltf.DefaultMatrix {
		return mat4(n.Matrix)
	}
	s := n.Scale
	if s == [3]float64{} {
		s = gltf.DefaultScale
	}
	q := n.Rotation
	if q == [4]float64{} {
		q = gltf.DefaultRotation
	}
	t := n.Translation

	x, y, z, w := q[0], q[1], q[2], q[3]
	r := [9]float64{
		1 - 2*(y*y+z*z), 2 * (x*y + z*w), 2 * (x*z - y*w),
		2 * (x*y - z*w), 1 - 2*(x*x+z*z), 2 * (y*z + x*w),
		2 * (x*z + y*w), 2 * (y*z - x*w), 1 - 2*(x*x+y*y),
	}
	return mat4{
		r[0] * s[0], r[1] * s[0], r[2] * s[0], 0,
		r[3] * s[1], r[4] * s[1], r[5] * s[1], 0,
		r[6] * s[2], r[7] * s[2], r[8] * s[2], 0,
		t[0], t[1], t[2], 1,
	}
}

func mul(a, b mat4) mat4 {
	var out mat4
	for col := 0; col < 4; col++ {
		for row := 0; row < 4; row++ {
			var sum float64
			for k := 0; k < 4; k++ {
				sum += a[k*4+row] * b[col*4+k]
			}
			out[col*4+row] = sum
		}
	}
	return out
}

func apply(m mat4, v [3]float32) (float64, float64, float64) {
	x, y, z := float64(v[0]), float64(v[1]), float64(v[2])
	ox := m[0]*x + m[4]*y + m[8]*z + m[12]
	oy := m[1]*x + m[5]*y + m[9]*z + m[13]
	oz := m[2]*x + m[6]*y + m[10]*z + m[14]
	return round6(ox), round6(oy), round6(oz)
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
