package pharmacophore

import (
	"bytes"
	"fmt"
	"image/png"
)

// Result ...
type Result struct {
	Molecule string     `json:"molecule"`
	Features FeatureSet `json:"features"`
	PNG      []byte     `json:"-"`
}

// Run reads the first molecule of an SDF file, detects its features
// with the default factory and renders the default grid.
func Run(path string) (*Result, error) {
	m, err := ReadFirst(path)
	if err != nil {
		return nil, err
	}
	return RunMolecule(m, DefaultFactory(), DefaultGrid)
}

// RunMolecule is Run for a parsed molecule.
func RunMolecule(m *Molecule, factory *FeatureFactory, opts GridOptions) (*Result, error) {
	Compute2DCoords(m)
	fs := factory.Detect(m)
	img, err := Render(m, fs, opts)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("png: %v", err)
	}
	return &Result{
		Molecule: m.Name,
		Features: fs,
		PNG:      buf.Bytes(),
	}, nil
}
