package pharmacophore

import (
	"encoding/json"
	"sort"
)

// Family names produced by DefaultFactory, in detection order.
const (
	Donor        = "Donor"
	Acceptor     = "Acceptor"
	NegIonizable = "NegIonizable"
	PosIonizable = "PosIonizable"
	AromaticRing = "Aromatic"
	Hydrophobe   = "Hydrophobe"
)

// Feature is one match of a family: the atoms that realize it.
type Feature struct {
	Family string `json:"family"`
	Atoms  []int  `json:"atoms"`
}

// Family is a named rule returning one atom group per match.
type Family struct {
	Name  string
	Match func(p *perception) [][]int
}

// FeatureFactory detects features with an ordered list of families.
type FeatureFactory struct {
	families []Family
}

// NewFactory ...
func NewFactory(families ...Family) *FeatureFactory {
	return &FeatureFactory{families: families}
}

// DefaultFactory covers donors, acceptors, ionizable groups, aromatic
// rings and hydrophobes.
func DefaultFactory() *FeatureFactory {
	return NewFactory(
		Family{Donor, matchDonor},
		Family{Acceptor, matchAcceptor},
		Family{NegIonizable, matchNegIonizable},
		Family{PosIonizable, matchPosIonizable},
		Family{AromaticRing, matchAromatic},
		Family{Hydrophobe, matchHydrophobe},
	)
}

// Families lists the family names in order.
func (f *FeatureFactory) Families() []string {
	out := make([]string, len(f.families))
	for i, fam := range f.families {
		out[i] = fam.Name
	}
	return out
}

// Features returns every match of every family.
func (f *FeatureFactory) Features(m *Molecule) []Feature {
	p := perceive(m)
	var out []Feature
	for _, fam := range f.families {
		for _, atoms := range fam.Match(p) {
			out = append(out, Feature{Family: fam.Name, Atoms: atoms})
		}
	}
	return out
}

// Detect groups the features of m by family.
func (f *FeatureFactory) Detect(m *Molecule) FeatureSet {
	var fs FeatureSet
	for _, feat := range f.Features(m) {
		fs.add(feat.Family, feat.Atoms)
	}
	return fs
}

// FeatureSet maps a family label to the sorted, unique indices of
// every atom taking part in any feature of that family. Labels keep
// the order families were detected in.
type FeatureSet struct {
	labels []string
	atoms  map[string][]int
}

func (fs *FeatureSet) add(label string, atoms []int) {
	if fs.atoms == nil {
		fs.atoms = map[string][]int{}
	}
	existing, ok := fs.atoms[label]
	if !ok {
		fs.labels = append(fs.labels, label)
	}
	seen := make(map[int]bool, len(existing)+len(atoms))
	merged := make([]int, 0, len(existing)+len(atoms))
	for _, list := range [][]int{existing, atoms} {
		for _, a := range list {
			if !seen[a] {
				seen[a] = true
				merged = append(merged, a)
			}
		}
	}
	sort.Ints(merged)
	fs.atoms[label] = merged
}

// Labels ...
func (fs FeatureSet) Labels() []string {
	return append([]string(nil), fs.labels...)
}

// Atoms returns the atom indices of a label.
func (fs FeatureSet) Atoms(label string) []int {
	return append([]int(nil), fs.atoms[label]...)
}

// Len is the number of labels.
func (fs FeatureSet) Len() int {
	return len(fs.labels)
}

type featureGroup struct {
	Label string `json:"label"`
	Atoms []int  `json:"atoms"`
}

// MarshalJSON keeps label order.
func (fs FeatureSet) MarshalJSON() ([]byte, error) {
	groups := make([]featureGroup, 0, len(fs.labels))
	for _, l := range fs.labels {
		groups = append(groups, featureGroup{l, fs.atoms[l]})
	}
	return json.Marshal(groups)
}

// UnmarshalJSON ...
func (fs *FeatureSet) UnmarshalJSON(data []byte) error {
	var groups []featureGroup
	if err := json.Unmarshal(data, &groups); err != nil {
		return err
	}
	*fs = FeatureSet{}
	for _, g := range groups {
		fs.add(g.Label, g.Atoms)
	}
	return nil
}

func single(i int) []int { return []int{i} }

func matchDonor(p *perception) [][]int {
	var out [][]int
	for i, a := range p.m.Atoms {
		h := p.hcount[i]
		switch {
		case a.Element == "N" && h > 0:
		case a.Element == "O" && h > 0 && a.Charge == 0:
		case a.Element == "S" && h == 1 && a.Charge == 0:
		default:
			continue
		}
		out = append(out, single(i))
	}
	return out
}

// bondedToCarbonyl reports whether i neighbours a carbon (or sulfur)
// that is doubly bonded to O, S or N, as in amides and sulfonamides.
func (p *perception) bondedToCarbonyl(i int) bool {
	for _, j := range p.m.neighbors(i) {
		if p.el(j) != "C" && p.el(j) != "S" {
			continue
		}
		for _, k := range p.m.neighbors(j) {
			if k == i {
				continue
			}
			if p.m.bondOrder(j, k) == Double {
				switch p.el(k) {
				case "O", "S", "N":
					return true
				}
			}
		}
	}
	return false
}

func (p *perception) hasBond(i, order int) bool {
	for _, j := range p.m.neighbors(i) {
		if p.m.bondOrder(i, j) == order {
			return true
		}
	}
	return false
}

func (p *perception) nextToCharge(i int, sign int) bool {
	for _, j := range p.m.neighbors(i) {
		if c := p.m.Atoms[j].Charge; c*sign > 0 {
			return true
		}
	}
	return false
}

func matchAcceptor(p *perception) [][]int {
	var out [][]int
	for i, a := range p.m.Atoms {
		switch a.Element {
		case "O":
			if a.Charge > 0 || p.nextToCharge(i, +1) {
				continue
			}
		case "N":
			if a.Charge != 0 || p.hcount[i] > 0 || p.bondedToCarbonyl(i) {
				continue
			}
			heavy := len(p.heavyNeighbors(i))
			switch {
			case p.aromatic[i] && heavy == 2:
			case p.hasBond(i, Triple):
			case !p.aromatic[i] && p.hasBond(i, Double):
			default:
				continue
			}
		default:
			continue
		}
		out = append(out, single(i))
	}
	return out
}

// acidGroup matches C, S or P centres carrying a doubly bonded O and
// at least one O that is protonated or negatively charged.
func (p *perception) acidGroup(i int) []int {
	switch p.el(i) {
	case "C", "S", "P":
	default:
		return nil
	}
	var oxo, hydroxy []int
	for _, j := range p.m.neighbors(i) {
		if p.el(j) != "O" {
			continue
		}
		switch o := p.m.bondOrder(i, j); {
		case o == Double:
			oxo = append(oxo, j)
		case o == Single && (p.hcount[j] > 0 || p.m.Atoms[j].Charge < 0) && len(p.heavyNeighbors(j)) == 1:
			hydroxy = append(hydroxy, j)
		}
	}
	if len(oxo) == 0 || len(hydroxy) == 0 {
		return nil
	}
	group := append([]int{i}, oxo...)
	return append(group, hydroxy...)
}

func matchNegIonizable(p *perception) [][]int {
	var out [][]int
	covered := map[int]bool{}
	for i := range p.m.Atoms {
		if group := p.acidGroup(i); group != nil {
			out = append(out, group)
			for _, a := range group {
				covered[a] = true
			}
		}
	}
	for i, a := range p.m.Atoms {
		if a.Charge < 0 && !covered[i] && !p.nextToCharge(i, +1) {
			out = append(out, single(i))
		}
	}
	return out
}

// amidine matches C(=N)N outside aromatic rings, guanidines included.
func (p *perception) amidine(i int) []int {
	if p.el(i) != "C" || p.aromatic[i] {
		return nil
	}
	var imine, amine []int
	for _, j := range p.m.neighbors(i) {
		if p.el(j) != "N" || p.m.Atoms[j].Charge < 0 {
			continue
		}
		switch p.m.bondOrder(i, j) {
		case Double:
			imine = append(imine, j)
		case Single:
			amine = append(amine, j)
		}
	}
	if len(imine) != 1 || len(amine) == 0 {
		return nil
	}
	group := append([]int{i}, imine...)
	return append(group, amine...)
}

func (p *perception) basicAmine(i int) bool {
	a := p.m.Atoms[i]
	if a.Element != "N" || a.Charge != 0 || p.aromatic[i] {
		return false
	}
	for _, j := range p.m.neighbors(i) {
		if p.m.bondOrder(i, j) != Single || p.aromatic[j] {
			return false
		}
		if p.el(j) != "C" && p.el(j) != "H" {
			return false
		}
	}
	return !p.bondedToCarbonyl(i)
}

func matchPosIonizable(p *perception) [][]int {
	var out [][]int
	covered := map[int]bool{}
	for i := range p.m.Atoms {
		if group := p.amidine(i); group != nil {
			out = append(out, group)
			for _, a := range group {
				covered[a] = true
			}
		}
	}
	for i, a := range p.m.Atoms {
		if covered[i] {
			continue
		}
		if (a.Charge > 0 && !p.nextToCharge(i, -1)) || p.basicAmine(i) {
			out = append(out, single(i))
		}
	}
	return out
}

func matchAromatic(p *perception) [][]int {
	var out [][]int
	for _, ring := range p.arRings {
		group := append([]int(nil), ring...)
		sort.Ints(group)
		out = append(out, group)
	}
	return out
}

func matchHydrophobe(p *perception) [][]int {
	var out [][]int
	for i, a := range p.m.Atoms {
		switch a.Element {
		case "Br", "I":
		case "C":
			if a.Charge != 0 {
				continue
			}
			if !p.aromatic[i] {
				polar := false
				for _, j := range p.m.neighbors(i) {
					switch p.el(j) {
					case "N", "O", "F":
						polar = true
					}
				}
				if polar {
					continue
				}
			}
		case "S":
			if !p.aromatic[i] && (p.hcount[i] > 0 || len(p.m.neighbors(i)) != 2 || p.hasBond(i, Double)) {
				continue
			}
		default:
			continue
		}
		out = append(out, single(i))
	}
	return out
}
