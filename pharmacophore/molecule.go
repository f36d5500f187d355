package pharmacophore

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/rmera/scu"
)

type softError string

func (e softError) Error() string { return string(e) }

// Soft marks the error for workflow.KindOf.
func (softError) Soft() bool { return true }

var (
	// ErrUnreadable is returned when the first record cannot be parsed.
	ErrUnreadable error = softError("could not parse molecule")
	// ErrNoFeatures is returned by Render and Run when nothing matched.
	ErrNoFeatures error = softError("no pharmacophore features detected")
)

// Bond orders as they appear in a V2000 bond block.
const (
	Single   = 1
	Double   = 2
	Triple   = 3
	Aromatic = 4
)

// Atom ...
type Atom struct {
	Element string
	X, Y, Z float64
	Charge  int
}

// Bond connects two zero-based atom indices.
type Bond struct {
	From, To int
	Order    int
}

// Molecule is one record of an SDF or MOL file.
type Molecule struct {
	Name  string
	Atoms []Atom
	Bonds []Bond

	adj [][]int
}

func (m *Molecule) neighbors(i int) []int {
	if m.adj == nil {
		m.adj = make([][]int, len(m.Atoms))
		for _, b := range m.Bonds {
			m.adj[b.From] = append(m.adj[b.From], b.To)
			m.adj[b.To] = append(m.adj[b.To], b.From)
		}
	}
	return m.adj[i]
}

func (m *Molecule) bondOrder(i, j int) int {
	for _, b := range m.Bonds {
		if (b.From == i && b.To == j) || (b.From == j && b.To == i) {
			return b.Order
		}
	}
	return 0
}

// V2000 charge codes.
var chargeCodes = map[int]int{1: 3, 2: 2, 3: 1, 5: -1, 6: -2, 7: -3}

// ReadFirst parses the first record of an SDF or MOL (V2000) file.
func ReadFirst(path string) (*Molecule, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	fin, err := scu.NewMustReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	defer fin.Close()
	var lines []string
	for line := fin.Next(); line != "EOF"; line = fin.Next() {
		line = strings.TrimRight(line, "\r\n")
		if strings.HasPrefix(line, "$$$$") {
			break
		}
		lines = append(lines, line)
	}
	m, err := parseRecord(lines)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	return m, nil
}

// ParseRecord parses a single MOL block.
func ParseRecord(block string) (*Molecule, error) {
	block = strings.ReplaceAll(block, "\r\n", "\n")
	if i := strings.Index(block, "$$$$"); i >= 0 {
		block = block[:i]
	}
	m, err := parseRecord(strings.Split(block, "\n"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	return m, nil
}

func column(line string, from, to int) string {
	if from >= len(line) {
		return ""
	}
	if to > len(line) {
		to = len(line)
	}
	return strings.TrimSpace(line[from:to])
}

func parseRecord(lines []string) (*Molecule, error) {
	if len(lines) < 4 {
		return nil, fmt.Errorf("record has %d lines", len(lines))
	}
	counts := lines[3]
	if strings.Contains(counts, "V3000") {
		return nil, fmt.Errorf("V3000 records are not supported")
	}
	natoms, err := strconv.Atoi(column(counts, 0, 3))
	if err != nil {
		return nil, fmt.Errorf("counts line: %v", err)
	}
	nbonds, err := strconv.Atoi(column(counts, 3, 6))
	if err != nil {
		return nil, fmt.Errorf("counts line: %v", err)
	}
	if natoms == 0 {
		return nil, fmt.Errorf("no atoms")
	}
	if len(lines) < 4+natoms+nbonds {
		return nil, fmt.Errorf("expected %d atoms and %d bonds, got %d lines", natoms, nbonds, len(lines)-4)
	}
	m := &Molecule{
		Name:  strings.TrimSpace(lines[0]),
		Atoms: make([]Atom, natoms),
		Bonds: make([]Bond, 0, nbonds),
	}
	for i := 0; i < natoms; i++ {
		line := lines[4+i]
		a := &m.Atoms[i]
		for j, dst := range []*float64{&a.X, &a.Y, &a.Z} {
			if *dst, err = strconv.ParseFloat(column(line, 10*j, 10*j+10), 64); err != nil {
				return nil, fmt.Errorf("atom %d: %v", i+1, err)
			}
		}
		if a.Element = column(line, 31, 34); a.Element == "" {
			return nil, fmt.Errorf("atom %d: missing element", i+1)
		}
		if code, err := strconv.Atoi(column(line, 36, 39)); err == nil {
			a.Charge = chargeCodes[code]
		}
	}
	for i := 0; i < nbonds; i++ {
		line := lines[4+natoms+i]
		var b Bond
		for j, dst := range []*int{&b.From, &b.To, &b.Order} {
			if *dst, err = strconv.Atoi(column(line, 3*j, 3*j+3)); err != nil {
				return nil, fmt.Errorf("bond %d: %v", i+1, err)
			}
		}
		b.From--
		b.To--
		if b.From < 0 || b.From >= natoms || b.To < 0 || b.To >= natoms || b.From == b.To {
			return nil, fmt.Errorf("bond %d: bad atom index", i+1)
		}
		m.Bonds = append(m.Bonds, b)
	}
	// Property block charges replace the atom block ones.
	reset := false
	for _, line := range lines[4+natoms+nbonds:] {
		if strings.HasPrefix(line, "M  END") {
			break
		}
		if !strings.HasPrefix(line, "M  CHG") {
			continue
		}
		if !reset {
			for i := range m.Atoms {
				m.Atoms[i].Charge = 0
			}
			reset = true
		}
		fields := strings.Fields(line[6:])
		for k := 1; k+1 < len(fields); k += 2 {
			idx, err1 := strconv.Atoi(fields[k])
			chg, err2 := strconv.Atoi(fields[k+1])
			if err1 != nil || err2 != nil || idx < 1 || idx > natoms {
				return nil, fmt.Errorf("bad charge entry '%s'", line)
			}
			m.Atoms[idx-1].Charge = chg
		}
	}
	return m, nil
}
