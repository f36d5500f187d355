package workflow

import (
	"fmt"
	"strings"
)

// Name identifies one of the dashboard workflows.
type Name string

const (
	Structure  Name = "structure"
	Trajectory Name = "trajectory"
	Pocket     Name = "pocket"
	Docking    Name = "docking"
	Auto       Name = "auto"
)

// Mode ...
type Mode struct {
	ID    string
	Label string
}

// Mode IDs shared by the workflow table and the form handlers.
const (
	ModeLocal      = "local"
	ModeRCSB       = "rcsb"
	ModeRemote     = "remote"
	ModeTrajectory = "trajectory"
	ModeUpload     = "upload"
	ModePath       = "path"
)

// Spec is the static description of a workflow. Everything that
// differs between workflows lives here so that one pipeline can
// serve all of them.
type Spec struct {
	Name     Name
	Title    string
	Header   string
	Action   string
	Modes    []Mode
	Height   int
	Defaults map[string]string
}

// DefaultMode is the first mode of the workflow.
func (s Spec) DefaultMode() string {
	if len(s.Modes) == 0 {
		return ""
	}
	return s.Modes[0].ID
}

// HasMode reports whether id is one of the workflow's modes.
func (s Spec) HasMode(id string) bool {
	for _, m := range s.Modes {
		if m.ID == id {
			return true
		}
	}
	return false
}

// Default returns the default value of a form field, or "".
func (s Spec) Default(field string) string {
	return s.Defaults[field]
}

const (
	DefaultPDBID = "1LOL"
	DefaultURL   = "https://files.rcsb.org/view/1LOL.cif"
	DefaultURLs  = "https://files.rcsb.org/download/3PTB.pdb\nhttps://files.rcsb.org/download/1LOL.pdb"

	DefaultHeight = 500
)

var specs = []Spec{
	{
		Name:   Structure,
		Title:  "Structure Viewer",
		Header: "Structure Viewer",
		Action: "Load Structure",
		Modes: []Mode{
			{ModeLocal, "Local File"},
			{ModeRCSB, "RCSB ID"},
			{ModeRemote, "Remote URL"},
			{ModeTrajectory, "Trajectory (PDB + XTC)"},
		},
		Height: DefaultHeight,
		Defaults: map[string]string{
			"pdb_id": DefaultPDBID,
			"url":    DefaultURL,
		},
	},
	{
		Name:   Trajectory,
		Title:  "Trajectory Viewer",
		Header: "Trajectory Viewer (PDB + XTC)",
		Action: "Load Trajectory",
		Modes: []Mode{
			{ModeUpload, "Upload Topology + Trajectory"},
		},
		Height: DefaultHeight,
	},
	{
		Name:   Pocket,
		Title:  "Pocket Detection",
		Header: "Pocket Detection (P2Rank)",
		Action: "Run Pocket Detection",
		Modes: []Mode{
			{ModeLocal, "Local Protein"},
			{ModeUpload, "Upload Protein"},
		},
		Height: DefaultHeight,
	},
	{
		Name:   Docking,
		Title:  "Docking Viewer",
		Header: "Docking Viewer + Pharmacophore",
		Action: "Run Docking Visualization",
		Modes: []Mode{
			{ModeUpload, "Upload Files"},
			{ModePath, "File Paths"},
		},
		Height: 400,
	},
	{
		Name:   Auto,
		Title:  "Auto Viewer",
		Header: "Auto File Viewer",
		Action: "Load Files",
		Modes: []Mode{
			{ModeRemote, "Remote URLs"},
			{ModeLocal, "Local Files"},
		},
		Height: 320,
		Defaults: map[string]string{
			"urls": DefaultURLs,
		},
	},
}

// All returns every workflow in sidebar order.
func All() []Spec {
	out := make([]Spec, len(specs))
	copy(out, specs)
	return out
}

// Parse resolves a URL slug to a workflow name.
func Parse(slug string) (Name, error) {
	slug = strings.ToLower(strings.TrimSpace(slug))
	for _, s := range specs {
		if string(s.Name) == slug {
			return s.Name, nil
		}
	}
	return "", fmt.Errorf("unknown workflow '%s'", slug)
}

// Lookup returns the Spec of a known workflow. It panics on names
// that did not come from Parse or the constants above.
func Lookup(name Name) Spec {
	for _, s := range specs {
		if s.Name == name {
			return s
		}
	}
	panic(fmt.Sprintf("workflow: unknown name %q", name))
}
