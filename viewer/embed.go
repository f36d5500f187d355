package viewer

import (
	"fmt"
	"net/url"
	"path"
	"strings"
)

// Mode is the input shape an embed was built from.
type Mode string

const (
	ModeLocal      Mode = "local"
	ModeTrajectory Mode = "trajectory"
	ModeRCSB       Mode = "rcsb"
	ModeRemote     Mode = "remote"
	ModeAuto       Mode = "auto"
	ModeDocking    Mode = "docking"
)

// Source roles.
const (
	RoleStructure   = "structure"
	RoleTrajectory  = "trajectory"
	RoleProtein     = "protein"
	RoleLigand      = "ligand"
	RoleGroundTruth = "ground_truth"
)

const (
	MinHeight     = 200
	MaxHeight     = 800
	DefaultHeight = 500
)

// Source is one file the viewer loads.
type Source struct {
	URL    string `json:"url"`
	Name   string `json:"name"`
	Format string `json:"format"`
	Role   string `json:"role"`
	Binary bool   `json:"binary"`
}

// Embed describes a Mol* viewer instance. It is plain data; the page
// template turns it into viewer calls.
type Embed struct {
	Key     string   `json:"key"`
	Mode    Mode     `json:"mode"`
	Height  int      `json:"height"`
	Sources []Source `json:"sources,omitempty"`
	PDBID   string   `json:"pdb_id,omitempty"`
}

// File is a structure reachable by the viewer at URL. Name carries
// the uploaded filename used for format detection.
type File struct {
	URL  string
	Name string
}

var formats = map[string]struct {
	format string
	binary bool
}{
	"pdb":    {"pdb", false},
	"ent":    {"pdb", false},
	"pdbqt":  {"pdbqt", false},
	"cif":    {"mmcif", false},
	"mmcif":  {"mmcif", false},
	"bcif":   {"bcif", true},
	"gro":    {"gro", false},
	"mol":    {"mol", false},
	"sdf":    {"sdf", false},
	"mol2":   {"mol2", false},
	"xyz":    {"xyz", false},
	"xtc":    {"xtc", true},
	"dcd":    {"dcd", true},
	"trr":    {"trr", true},
	"nc":     {"nctraj", true},
	"nctraj": {"nctraj", true},
}

// FormatOf maps a filename or URL to a Mol* format name. Unknown
// extensions return "".
func FormatOf(name string) (string, bool) {
	if u, err := url.Parse(name); err == nil && u.Scheme != "" {
		name = u.Path
	}
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(name), "."))
	f, ok := formats[ext]
	if !ok {
		return "", false
	}
	return f.format, f.binary
}

// IsCoordinates reports whether format is a coordinates-only
// trajectory format.
func IsCoordinates(format string) bool {
	switch format {
	case "xtc", "dcd", "trr", "nctraj":
		return true
	}
	return false
}

// ClampHeight bounds h to [MinHeight, MaxHeight]. Zero means def.
func ClampHeight(h, def int) int {
	if h == 0 {
		h = def
	}
	if h < MinHeight {
		return MinHeight
	}
	if h > MaxHeight {
		return MaxHeight
	}
	return h
}

func source(f File, role string) (Source, error) {
	if f.URL == "" {
		return Source{}, fmt.Errorf("missing url for '%s'", f.Name)
	}
	name := f.Name
	if name == "" {
		name = f.URL
	}
	format, binary := FormatOf(name)
	if format == "" {
		return Source{}, fmt.Errorf("cannot detect format of '%s'", name)
	}
	return Source{
		URL:    f.URL,
		Name:   path.Base(name),
		Format: format,
		Role:   role,
		Binary: binary,
	}, nil
}

// Local embeds one structure file.
func Local(key string, f File, height int) (*Embed, error) {
	s, err := source(f, RoleStructure)
	if err != nil {
		return nil, err
	}
	if IsCoordinates(s.Format) {
		return nil, fmt.Errorf("'%s' is a trajectory, not a structure", s.Name)
	}
	return &Embed{Key: key, Mode: ModeLocal, Height: ClampHeight(height, DefaultHeight), Sources: []Source{s}}, nil
}

// Trajectory embeds a structure with a coordinates trajectory.
func Trajectory(key string, structure, traj File, height int) (*Embed, error) {
	s, err := source(structure, RoleStructure)
	if err != nil {
		return nil, err
	}
	t, err := source(traj, RoleTrajectory)
	if err != nil {
		return nil, err
	}
	if !IsCoordinates(t.Format) {
		return nil, fmt.Errorf("'%s' is not a trajectory", t.Name)
	}
	return &Embed{
		Key:     key,
		Mode:    ModeTrajectory,
		Height:  ClampHeight(height, DefaultHeight),
		Sources: []Source{s, t},
	}, nil
}

// NormalizePDBID upper-cases a four character alphanumeric PDB ID.
func NormalizePDBID(id string) (string, error) {
	id = strings.ToUpper(strings.TrimSpace(id))
	if len(id) != 4 {
		return "", fmt.Errorf("pdb id '%s' must be 4 characters", id)
	}
	for _, c := range id {
		if !(c >= 'A' && c <= 'Z') && !(c >= '0' && c <= '9') {
			return "", fmt.Errorf("pdb id '%s' must be alphanumeric", id)
		}
	}
	return id, nil
}

// RCSB embeds an entry the viewer downloads from RCSB itself.
func RCSB(key, id string, height int) (*Embed, error) {
	id, err := NormalizePDBID(id)
	if err != nil {
		return nil, err
	}
	return &Embed{Key: key, Mode: ModeRCSB, Height: ClampHeight(height, DefaultHeight), PDBID: id}, nil
}

// CheckURL accepts absolute http and https URLs.
func CheckURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("url: %v", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("'%s' is not an http(s) url", raw)
	}
	return u, nil
}

// Remote embeds a structure the viewer fetches from a URL.
func Remote(key, raw string, height int) (*Embed, error) {
	u, err := CheckURL(raw)
	if err != nil {
		return nil, err
	}
	s, err := source(File{URL: u.String(), Name: u.Path}, RoleStructure)
	if err != nil {
		return nil, err
	}
	return &Embed{Key: key, Mode: ModeRemote, Height: ClampHeight(height, DefaultHeight), Sources: []Source{s}}, nil
}

// Auto embeds a mixed list of structures and trajectories, each with
// its format detected from its name.
func Auto(key string, files []File, height int) (*Embed, error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("no files")
	}
	e := &Embed{Key: key, Mode: ModeAuto, Height: ClampHeight(height, DefaultHeight)}
	for _, f := range files {
		s, err := source(f, RoleStructure)
		if err != nil {
			return nil, err
		}
		if IsCoordinates(s.Format) {
			s.Role = RoleTrajectory
		}
		e.Sources = append(e.Sources, s)
	}
	return e, nil
}

// Docking embeds a protein, a docked pose and, optionally, the
// reference ligand pose.
func Docking(key string, protein, docked File, truth *File, height int) (*Embed, error) {
	p, err := source(protein, RoleProtein)
	if err != nil {
		return nil, err
	}
	d, err := source(docked, RoleLigand)
	if err != nil {
		return nil, err
	}
	e := &Embed{
		Key:     key,
		Mode:    ModeDocking,
		Height:  ClampHeight(height, DefaultHeight),
		Sources: []Source{p, d},
	}
	if truth != nil {
		g, err := source(*truth, RoleGroundTruth)
		if err != nil {
			return nil, err
		}
		e.Sources = append(e.Sources, g)
	}
	return e, nil
}
