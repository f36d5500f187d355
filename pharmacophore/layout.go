package pharmacophore

import (
	"gonum.org/v1/gonum/mat"
)

const flatTolerance = 1e-4

// Compute2DCoords gives the molecule coordinates suitable for a flat
// depiction. Records that are already flat keep their X and Y; others
// are projected onto their two principal axes.
func Compute2DCoords(m *Molecule) {
	n := len(m.Atoms)
	if n < 3 || isFlat(m) {
		for i := range m.Atoms {
			m.Atoms[i].Z = 0
		}
		return
	}
	var cx, cy, cz float64
	for _, a := range m.Atoms {
		cx += a.X
		cy += a.Y
		cz += a.Z
	}
	cx /= float64(n)
	cy /= float64(n)
	cz /= float64(n)
	data := mat.NewDense(n, 3, nil)
	for i, a := range m.Atoms {
		data.Set(i, 0, a.X-cx)
		data.Set(i, 1, a.Y-cy)
		data.Set(i, 2, a.Z-cz)
	}
	var svd mat.SVD
	if ok := svd.Factorize(data, mat.SVDThin); !ok {
		return
	}
	var v mat.Dense
	svd.VTo(&v)
	var proj mat.Dense
	proj.Mul(data, v.Slice(0, 3, 0, 2))
	for i := range m.Atoms {
		m.Atoms[i].X = proj.At(i, 0)
		m.Atoms[i].Y = proj.At(i, 1)
		m.Atoms[i].Z = 0
	}
}

func isFlat(m *Molecule) bool {
	lo, hi := m.Atoms[0].Z, m.Atoms[0].Z
	for _, a := range m.Atoms[1:] {
		if a.Z < lo {
			lo = a.Z
		}
		if a.Z > hi {
			hi = a.Z
		}
	}
	return hi-lo < flatTolerance
}
