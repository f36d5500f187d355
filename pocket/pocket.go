package pocket

import (
	"context"
	"encoding/json"
	"fmt"
)

// Pocket is one predicted binding site.
type Pocket struct {
	Name        string     `json:"name"`
	Rank        int        `json:"rank"`
	Score       float64    `json:"score"`
	Probability float64    `json:"probability"`
	SASPoints   int        `json:"sas_points"`
	SurfAtoms   int        `json:"surf_atoms"`
	Center      [3]float64 `json:"center"`
	Residues    []string   `json:"residues"`
	SurfAtomIDs []int      `json:"surf_atom_ids"`
}

// Selection is a pocket the user picked, together with the protein
// it was predicted on.
type Selection struct {
	Pocket      Pocket `json:"pocket"`
	ProteinPath string `json:"protein_path"`
}

// Runner predicts the pockets of a protein structure file.
type Runner interface {
	Predict(ctx context.Context, proteinPath string) (*Pockets, error)
}

// Pockets is the ordered result of one prediction run. Order is the
// predictor's own ranking and is never changed.
type Pockets struct {
	order  []string
	byName map[string]Pocket
}

// NewPockets builds the mapping, rejecting duplicate names.
func NewPockets(list []Pocket) (*Pockets, error) {
	p := &Pockets{
		order:  make([]string, 0, len(list)),
		byName: make(map[string]Pocket, len(list)),
	}
	for _, pocket := range list {
		if pocket.Name == "" {
			return nil, fmt.Errorf("pocket with rank %d has no name", pocket.Rank)
		}
		if _, ok := p.byName[pocket.Name]; ok {
			return nil, fmt.Errorf("duplicate pocket '%s'", pocket.Name)
		}
		p.order = append(p.order, pocket.Name)
		p.byName[pocket.Name] = pocket
	}
	return p, nil
}

// Keys returns the pocket names in order.
func (p *Pockets) Keys() []string {
	out := make([]string, len(p.order))
	copy(out, p.order)
	return out
}

// Get ...
func (p *Pockets) Get(name string) (Pocket, bool) {
	pocket, ok := p.byName[name]
	return pocket, ok
}

// Len ...
func (p *Pockets) Len() int {
	if p == nil {
		return 0
	}
	return len(p.order)
}

// List returns every pocket in order.
func (p *Pockets) List() []Pocket {
	return p.Top(p.Len())
}

// Top returns the first n pockets in their existing order.
func (p *Pockets) Top(n int) []Pocket {
	if n > p.Len() {
		n = p.Len()
	}
	if n <= 0 {
		return nil
	}
	out := make([]Pocket, 0, n)
	for _, name := range p.order[:n] {
		out = append(out, p.byName[name])
	}
	return out
}

// Select narrows the mapping to one pocket on the given protein.
func (p *Pockets) Select(name, proteinPath string) (*Selection, error) {
	pocket, ok := p.Get(name)
	if !ok {
		return nil, fmt.Errorf("pocket '%s' not found", name)
	}
	return &Selection{Pocket: pocket, ProteinPath: proteinPath}, nil
}

// MarshalJSON encodes the pockets as an array so that order survives.
func (p *Pockets) MarshalJSON() ([]byte, error) {
	list := p.List()
	if list == nil {
		list = []Pocket{}
	}
	return json.Marshal(list)
}

// UnmarshalJSON ...
func (p *Pockets) UnmarshalJSON(data []byte) error {
	var list []Pocket
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	decoded, err := NewPockets(list)
	if err != nil {
		return err
	}
	*p = *decoded
	return nil
}
