package pharmacophore

import (
	"math"
	"sort"
	"strconv"
	"strings"
)

var defaultValence = map[string]int{
	"B": 3, "C": 4, "N": 3, "O": 2, "P": 3, "S": 2,
	"F": 1, "Cl": 1, "Br": 1, "I": 1,
}

// perception holds the derived properties feature rules match on.
type perception struct {
	m        *Molecule
	hcount   []int
	aromatic []bool
	inRing   []bool
	rings    [][]int
	arRings  [][]int
}

func perceive(m *Molecule) *perception {
	p := &perception{
		m:        m,
		hcount:   make([]int, len(m.Atoms)),
		aromatic: make([]bool, len(m.Atoms)),
		inRing:   make([]bool, len(m.Atoms)),
	}
	p.findRings()
	p.findAromatic()
	for i := range m.Atoms {
		p.hcount[i] = p.hydrogens(i)
	}
	return p
}

func (p *perception) el(i int) string {
	return p.m.Atoms[i].Element
}

func (p *perception) heavyNeighbors(i int) []int {
	var out []int
	for _, j := range p.m.neighbors(i) {
		if p.el(j) != "H" {
			out = append(out, j)
		}
	}
	return out
}

// hydrogens counts explicit hydrogen neighbours plus the implicit
// hydrogens needed to fill the default valence.
func (p *perception) hydrogens(i int) int {
	a := p.m.Atoms[i]
	explicit := 0
	var sum float64
	for _, j := range p.m.neighbors(i) {
		if p.el(j) == "H" {
			explicit++
		}
		if o := p.m.bondOrder(i, j); o == Aromatic {
			sum += 1.5
		} else {
			sum += float64(o)
		}
	}
	v, ok := defaultValence[a.Element]
	if !ok {
		return explicit
	}
	switch a.Element {
	case "N", "P", "O", "S":
		v += a.Charge
	case "C", "B":
		v -= int(math.Abs(float64(a.Charge)))
	}
	implicit := v - int(math.Ceil(sum-1e-9))
	if implicit < 0 {
		implicit = 0
	}
	return explicit + implicit
}

// findRings collects the smallest ring through every ring bond.
func (p *perception) findRings() {
	seen := map[string]bool{}
	for _, b := range p.m.Bonds {
		path := p.shortestPath(b.From, b.To, 8)
		if path == nil {
			continue
		}
		ring := append([]int(nil), path...)
		sorted := append([]int(nil), ring...)
		sort.Ints(sorted)
		parts := make([]string, len(sorted))
		for k, v := range sorted {
			parts[k] = strconv.Itoa(v)
		}
		key := strings.Join(parts, ",")
		if seen[key] {
			continue
		}
		seen[key] = true
		p.rings = append(p.rings, ring)
		for _, i := range ring {
			p.inRing[i] = true
		}
	}
}

// shortestPath finds the shortest path from u to v that does not use
// the u-v bond itself, up to maxLen atoms. The path is in ring order.
func (p *perception) shortestPath(u, v, maxLen int) []int {
	prev := map[int]int{u: -1}
	frontier := []int{u}
	for depth := 1; depth < maxLen && len(frontier) > 0; depth++ {
		var next []int
		for _, a := range frontier {
			for _, n := range p.m.neighbors(a) {
				if a == u && n == v {
					continue
				}
				if _, ok := prev[n]; ok {
					continue
				}
				prev[n] = a
				if n == v {
					var path []int
					for x := v; x != -1; x = prev[x] {
						path = append(path, x)
					}
					return path
				}
				next = append(next, n)
			}
		}
		frontier = next
	}
	return nil
}

func (p *perception) ringBonds(ring []int) []int {
	orders := make([]int, len(ring))
	for k := range ring {
		orders[k] = p.m.bondOrder(ring[k], ring[(k+1)%len(ring)])
	}
	return orders
}

// hasRingDouble reports whether atom i carries a double bond to any
// ring atom.
func (p *perception) hasRingDouble(i int) bool {
	for _, j := range p.m.neighbors(i) {
		if p.inRing[j] && p.m.bondOrder(i, j) == Double {
			return true
		}
	}
	return false
}

func (p *perception) findAromatic() {
	for _, ring := range p.rings {
		if len(ring) != 5 && len(ring) != 6 {
			continue
		}
		allAromatic := true
		for _, o := range p.ringBonds(ring) {
			if o != Aromatic {
				allAromatic = false
				break
			}
		}
		if !allAromatic && !p.kekule(ring) {
			continue
		}
		p.arRings = append(p.arRings, ring)
		for _, i := range ring {
			p.aromatic[i] = true
		}
	}
}

// kekule accepts six-membered rings where every atom is doubly bonded
// within a ring system, and five-membered rings where exactly one
// N, O or S contributes a lone pair instead.
func (p *perception) kekule(ring []int) bool {
	var lonePair []int
	for _, i := range ring {
		if !p.hasRingDouble(i) {
			lonePair = append(lonePair, i)
		}
	}
	switch len(ring) {
	case 6:
		return len(lonePair) == 0
	case 5:
		if len(lonePair) != 1 {
			return false
		}
		switch p.el(lonePair[0]) {
		case "N", "O", "S":
			return true
		}
	}
	return false
}
