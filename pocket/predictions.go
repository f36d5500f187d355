package pocket

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
)

var predictionColumns = []string{
	"name",
	"rank",
	"score",
	"probability",
	"sas_points",
	"surf_atoms",
	"center_x",
	"center_y",
	"center_z",
	"residue_ids",
	"surf_atom_ids",
}

// ParsePredictions reads a P2Rank <protein>_predictions.csv file.
// Columns are located by header name and may be padded with spaces.
// Rows keep their file order.
func ParsePredictions(r io.Reader) (*Pockets, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("empty predictions file")
	} else if err != nil {
		return nil, fmt.Errorf("header: %v", err)
	}
	index := make(map[string]int, len(header))
	for i, h := range header {
		index[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, col := range predictionColumns {
		if _, ok := index[col]; !ok {
			return nil, fmt.Errorf("missing column '%s'", col)
		}
	}
	var list []Pocket
	for line := 2; ; line++ {
		record, err := cr.Read()
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, fmt.Errorf("line %d: %v", line, err)
		}
		if len(record) == 1 && strings.TrimSpace(record[0]) == "" {
			continue
		}
		p, err := parseRow(record, index)
		if err != nil {
			return nil, fmt.Errorf("line %d: %v", line, err)
		}
		list = append(list, p)
	}
	return NewPockets(list)
}

func parseRow(record []string, index map[string]int) (Pocket, error) {
	field := func(col string) string {
		i := index[col]
		if i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}
	var p Pocket
	var err error
	p.Name = field("name")
	if p.Rank, err = strconv.Atoi(field("rank")); err != nil {
		return p, fmt.Errorf("rank: %v", err)
	}
	if p.Score, err = strconv.ParseFloat(field("score"), 64); err != nil {
		return p, fmt.Errorf("score: %v", err)
	}
	if p.Probability, err = strconv.ParseFloat(field("probability"), 64); err != nil {
		return p, fmt.Errorf("probability: %v", err)
	}
	if p.SASPoints, err = strconv.Atoi(field("sas_points")); err != nil {
		return p, fmt.Errorf("sas_points: %v", err)
	}
	if p.SurfAtoms, err = strconv.Atoi(field("surf_atoms")); err != nil {
		return p, fmt.Errorf("surf_atoms: %v", err)
	}
	for i, col := range []string{"center_x", "center_y", "center_z"} {
		if p.Center[i], err = strconv.ParseFloat(field(col), 64); err != nil {
			return p, fmt.Errorf("%s: %v", col, err)
		}
	}
	p.Residues = strings.Fields(field("residue_ids"))
	for _, s := range strings.Fields(field("surf_atom_ids")) {
		id, err := strconv.Atoi(s)
		if err != nil {
			return p, fmt.Errorf("surf_atom_ids: %v", err)
		}
		p.SurfAtomIDs = append(p.SurfAtomIDs, id)
	}
	return p, nil
}
