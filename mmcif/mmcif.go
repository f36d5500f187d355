package mmcif

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	chem "github.com/rmera/gochem"
	v3 "github.com/rmera/gochem/v3"
)

// ErrNoAtoms is returned when a file has no _atom_site loop or the
// loop has no rows.
var ErrNoAtoms = errors.New("no _atom_site records")

// ReadFile reads the atoms of an mmCIF file. See Read.
func ReadFile(path string) (*chem.Molecule, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Read(f)
}

// Read parses the _atom_site loop of the first data block. Atoms of
// the first model make up the topology; each model is one coordinate
// set and must have the same number of atoms.
func Read(r io.Reader) (*chem.Molecule, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4<<20)
	var (
		headers []string
		inLoop  bool
		inAtoms bool
		inData  bool
		row     []string
		l       loader
	)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "" || strings.HasPrefix(trimmed, "#"):
			if inAtoms && len(l.models) > 0 {
				return l.molecule()
			}
			inLoop, inAtoms = false, false
			continue
		case strings.HasPrefix(trimmed, "data_"):
			if len(l.models) > 0 {
				return l.molecule()
			}
			inLoop, inAtoms = false, false
			continue
		case strings.EqualFold(trimmed, "loop_"):
			if inAtoms && len(l.models) > 0 {
				return l.molecule()
			}
			inLoop, inAtoms, inData, headers, row = true, false, false, nil, nil
			continue
		case strings.HasPrefix(trimmed, "_"):
			if inAtoms && len(l.models) > 0 {
				return l.molecule()
			}
			if !inLoop || inData {
				// A key-value item ends any loop.
				inLoop, inAtoms = false, false
				continue
			}
			name := strings.ToLower(strings.Fields(trimmed)[0])
			headers = append(headers, name)
			if strings.HasPrefix(name, "_atom_site.") {
				inAtoms = true
				l.index = nil
			}
			continue
		}
		inData = inLoop
		if !inAtoms {
			continue
		}
		if l.index == nil {
			l.index = make(map[string]int, len(headers))
			for i, h := range headers {
				l.index[strings.TrimPrefix(h, "_atom_site.")] = i
			}
			for _, k := range []string{"cartn_x", "cartn_y", "cartn_z"} {
				if _, ok := l.index[k]; !ok {
					return nil, fmt.Errorf("_atom_site has no %s column", k)
				}
			}
		}
		// Rows may wrap over several lines.
		row = append(row, tokens(line)...)
		if len(row) < len(headers) {
			continue
		}
		if err := l.add(row); err != nil {
			return nil, err
		}
		row = row[:0]
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return l.molecule()
}

type model struct {
	key    string
	coords []float64
}

type loader struct {
	index  map[string]int
	atoms  []*chem.Atom
	models []*model
}

func (l *loader) field(row []string, names ...string) string {
	for _, name := range names {
		if i, ok := l.index[name]; ok && i < len(row) {
			if v := row[i]; v != "?" && v != "." {
				return v
			}
		}
	}
	return ""
}

func (l *loader) add(row []string) error {
	key := l.field(row, "pdbx_pdb_model_num")
	if key == "" {
		key = "1"
	}
	if len(l.models) == 0 || l.models[len(l.models)-1].key != key {
		if n := len(l.models); n > 1 && len(l.models[n-1].coords) != len(l.models[0].coords) {
			return fmt.Errorf("model %s has %d atoms, model %s has %d",
				l.models[n-1].key, len(l.models[n-1].coords)/3, l.models[0].key, len(l.models[0].coords)/3)
		}
		l.models = append(l.models, &model{key: key})
	}
	m := l.models[len(l.models)-1]
	for _, k := range []string{"cartn_x", "cartn_y", "cartn_z"} {
		v, err := strconv.ParseFloat(l.field(row, k), 64)
		if err != nil {
			return fmt.Errorf("atom %d: bad %s: %v", len(m.coords)/3+1, k, err)
		}
		m.coords = append(m.coords, v)
	}
	if len(l.models) > 1 {
		return nil
	}
	at := &chem.Atom{
		Name:    l.field(row, "auth_atom_id", "label_atom_id"),
		MolName: l.field(row, "auth_comp_id", "label_comp_id"),
		Chain:   l.field(row, "auth_asym_id", "label_asym_id"),
		Symbol:  l.field(row, "type_symbol"),
		Het:     strings.EqualFold(l.field(row, "group_pdb"), "HETATM"),
	}
	at.ID, _ = strconv.Atoi(l.field(row, "id"))
	at.MolID, _ = strconv.Atoi(l.field(row, "auth_seq_id", "label_seq_id"))
	if occ, err := strconv.ParseFloat(l.field(row, "occupancy"), 64); err == nil {
		at.Occupancy = occ
	}
	l.atoms = append(l.atoms, at)
	return nil
}

func (l *loader) molecule() (*chem.Molecule, error) {
	if len(l.atoms) == 0 {
		return nil, ErrNoAtoms
	}
	coords := make([]*v3.Matrix, 0, len(l.models))
	for _, m := range l.models {
		if len(m.coords) != 3*len(l.atoms) {
			return nil, fmt.Errorf("model %s has %d atoms, model %s has %d",
				m.key, len(m.coords)/3, l.models[0].key, len(l.atoms))
		}
		c, err := v3.NewMatrix(m.coords)
		if err != nil {
			return nil, fmt.Errorf("model %s: %v", m.key, err)
		}
		coords = append(coords, c)
	}
	return chem.NewMolecule(coords, chem.NewTopology(0, 1, l.atoms), nil)
}

// tokens splits a data line on whitespace. A value may be quoted with
// ' or "; the quote only closes when followed by whitespace.
func tokens(line string) []string {
	var out []string
	for i := 0; i < len(line); {
		c := line[i]
		if c == ' ' || c == '\t' {
			i++
			continue
		}
		if c == '\'' || c == '"' {
			j := i + 1
			for j < len(line) && !(line[j] == c && (j+1 == len(line) || line[j+1] == ' ' || line[j+1] == '\t')) {
				j++
			}
			out = append(out, line[i+1:min(j, len(line))])
			i = j + 1
			continue
		}
		j := i
		for j < len(line) && line[j] != ' ' && line[j] != '\t' {
			j++
		}
		out = append(out, line[i:j])
		i = j
	}
	return out
}
