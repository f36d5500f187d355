package trajectory

import (
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strings"

	chem "github.com/rmera/gochem"
	"github.com/rmera/gochem/traj/dcd"
	v3 "github.com/rmera/gochem/v3"

	"github.com/thavlik/molsuite/mmcif"
)

type formatError string

func (e formatError) Error() string { return string(e) }

// Soft marks the error for workflow.KindOf.
func (formatError) Soft() bool { return true }

var (
	// ErrNoAlphaCarbons is returned when the topology has no CA atoms.
	ErrNoAlphaCarbons = errors.New("no alpha carbons in topology")
	// ErrNoFrames is returned for an empty trajectory.
	ErrNoFrames = errors.New("trajectory has no frames")
	// ErrUnsupportedFormat is returned for files no reader handles.
	ErrUnsupportedFormat error = formatError("unsupported format")
)

// Series is one plottable line. X and Y always have the same length.
type Series struct {
	Title  string    `json:"title"`
	XLabel string    `json:"x_label"`
	YLabel string    `json:"y_label"`
	X      []float64 `json:"x"`
	Y      []float64 `json:"y"`
}

// Len ...
func (s Series) Len() int {
	return len(s.X)
}

// Result ...
type Result struct {
	RMSD   Series `json:"rmsd"`
	RMSF   Series `json:"rmsf"`
	Frames int    `json:"frames"`
	Atoms  int    `json:"atoms"`
}

// frameReader is satisfied by the gochem trajectory readers.
type frameReader interface {
	Next(*v3.Matrix, ...[]float64) error
	Close()
}

// openers maps a trajectory extension to its reader. XTC needs
// libxdrfile and is only registered in builds tagged xdrfile.
var openers = map[string]func(path string) (frameReader, error){
	".dcd": func(path string) (frameReader, error) {
		return dcd.New(path)
	},
}

// ReadTopology reads a structure file, picking the reader by extension.
func ReadTopology(path string) (*chem.Molecule, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdb", ".ent":
		return chem.PDBFileRead(path)
	case ".cif", ".mmcif":
		return mmcif.ReadFile(path)
	case ".gro":
		return chem.GroFileRead(path)
	case ".xyz":
		return chem.XYZFileRead(path)
	default:
		return nil, fmt.Errorf("%w: topology '%s'", ErrUnsupportedFormat, filepath.Ext(path))
	}
}

// Analyze computes CA RMSD per frame and CA RMSF per residue for a
// topology and trajectory pair.
func Analyze(topologyPath, trajectoryPath string) (*Result, error) {
	mol, err := ReadTopology(topologyPath)
	if err != nil {
		return nil, fmt.Errorf("topology: %w", err)
	}
	ca := alphaCarbons(mol)
	if len(ca) == 0 {
		return nil, ErrNoAlphaCarbons
	}
	frames, err := readFrames(trajectoryPath, mol.Len(), ca)
	if err != nil {
		return nil, fmt.Errorf("trajectory: %w", err)
	}
	return analyze(residueIDs(mol, ca), frames)
}

// AnalyzeFrames is Analyze over frames already in memory. Every frame
// holds the coordinates of all atoms in top.
func AnalyzeFrames(top chem.Atomer, frames []*v3.Matrix) (*Result, error) {
	ca := alphaCarbons(top)
	if len(ca) == 0 {
		return nil, ErrNoAlphaCarbons
	}
	subsets := make([]*v3.Matrix, 0, len(frames))
	for i, frame := range frames {
		if frame.NVecs() != top.Len() {
			return nil, fmt.Errorf("frame %d has %d atoms, topology has %d", i, frame.NVecs(), top.Len())
		}
		subsets = append(subsets, subset(frame, ca))
	}
	return analyze(residueIDs(top, ca), subsets)
}

func alphaCarbons(top chem.Atomer) []int {
	var ca []int
	for i := 0; i < top.Len(); i++ {
		if strings.TrimSpace(top.Atom(i).Name) == "CA" {
			ca = append(ca, i)
		}
	}
	return ca
}

func residueIDs(top chem.Atomer, ca []int) []float64 {
	ids := make([]float64, len(ca))
	for i, idx := range ca {
		ids[i] = float64(top.Atom(idx).MolID)
	}
	return ids
}

func subset(frame *v3.Matrix, idx []int) *v3.Matrix {
	out := v3.Zeros(len(idx))
	out.SomeVecs(frame, idx)
	return out
}

func readFrames(path string, natoms int, ca []int) ([]*v3.Matrix, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".pdb", ".ent", ".cif", ".mmcif":
		mol, err := ReadTopology(path)
		if err != nil {
			return nil, err
		}
		frames := make([]*v3.Matrix, 0, len(mol.Coords))
		for i, c := range mol.Coords {
			if c.NVecs() != natoms {
				return nil, fmt.Errorf("model %d has %d atoms, topology has %d", i, c.NVecs(), natoms)
			}
			frames = append(frames, subset(c, ca))
		}
		return frames, nil
	}
	open, ok := openers[ext]
	if !ok {
		return nil, fmt.Errorf("%w: trajectory '%s'", ErrUnsupportedFormat, ext)
	}
	r, err := open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	if n, ok := r.(interface{ Len() int }); ok && n.Len() != natoms {
		return nil, fmt.Errorf("trajectory has %d atoms, topology has %d", n.Len(), natoms)
	}
	var frames []*v3.Matrix
	for {
		frame := v3.Zeros(natoms)
		if err := r.Next(frame); err != nil {
			if _, ok := err.(chem.LastFrameError); ok {
				break
			}
			return nil, fmt.Errorf("frame %d: %v", len(frames), err)
		}
		frames = append(frames, subset(frame, ca))
	}
	return frames, nil
}

func analyze(resIDs []float64, frames []*v3.Matrix) (*Result, error) {
	if len(frames) == 0 {
		return nil, ErrNoFrames
	}
	rmsd, err := rmsdSeries(frames)
	if err != nil {
		return nil, err
	}
	xs := make([]float64, len(frames))
	for i := range xs {
		xs[i] = float64(i)
	}
	return &Result{
		RMSD: Series{
			Title:  "Cα RMSD vs Frame",
			XLabel: "Frame",
			YLabel: "RMSD (Å)",
			X:      xs,
			Y:      rmsd,
		},
		RMSF: Series{
			Title:  "Cα RMSF",
			XLabel: "Residue ID",
			YLabel: "RMSF (Å)",
			X:      resIDs,
			Y:      rmsfSeries(frames),
		},
		Frames: len(frames),
		Atoms:  len(resIDs),
	}, nil
}

// rmsdSeries compares every frame against frame 0 after optimal
// superposition. Fewer than three atoms cannot define a rotation, so
// those are compared in place.
func rmsdSeries(frames []*v3.Matrix) ([]float64, error) {
	ref := frames[0]
	n := ref.NVecs()
	all := make([]int, n)
	for i := range all {
		all[i] = i
	}
	out := make([]float64, len(frames))
	for t := 1; t < len(frames); t++ {
		test := v3.Zeros(n)
		test.Copy(frames[t])
		if n >= 3 {
			aligned, err := chem.Super(test, ref, all, all)
			if err != nil {
				return nil, fmt.Errorf("superpose frame %d: %v", t, err)
			}
			test = aligned
		}
		out[t] = rmsd(test, ref)
	}
	return out, nil
}

func rmsd(a, b *v3.Matrix) float64 {
	n := a.NVecs()
	var sum float64
	for i := 0; i < n; i++ {
		for j := 0; j < 3; j++ {
			d := a.At(i, j) - b.At(i, j)
			sum += d * d
		}
	}
	return math.Sqrt(sum / float64(n))
}

// rmsfSeries is sqrt(mean_t |x_t - <x>|^2) per atom, without fitting.
func rmsfSeries(frames []*v3.Matrix) []float64 {
	n := frames[0].NVecs()
	nf := float64(len(frames))
	mean := make([][3]float64, n)
	for _, f := range frames {
		for i := 0; i < n; i++ {
			for j := 0; j < 3; j++ {
				mean[i][j] += f.At(i, j) / nf
			}
		}
	}
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		var sum float64
		for _, f := range frames {
			for j := 0; j < 3; j++ {
				d := f.At(i, j) - mean[i][j]
				sum += d * d
			}
		}
		out[i] = math.Sqrt(sum / nf)
	}
	return out
}
