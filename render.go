package main

import (
	"embed"
	"fmt"
	"html/template"
	"log"
	"net/http"

	"github.com/thavlik/molsuite/jobs"
	"github.com/thavlik/molsuite/pharmacophore"
	"github.com/thavlik/molsuite/pocket"
	"github.com/thavlik/molsuite/trajectory"
	"github.com/thavlik/molsuite/viewer"
	"github.com/thavlik/molsuite/workflow"
)

//go:embed templates/*.html
var templateFS embed.FS

var bannerColors = map[string]string{
	"warning": "#fff4ce",
	"error":   "#fde7e9",
	"info":    "#e6f0fb",
	"success": "#dff6dd",
}

func parseTemplates() (*template.Template, error) {
	t, err := template.New("").Funcs(template.FuncMap{
		"bannerColor": func(kind string) string {
			if c, ok := bannerColors[kind]; ok {
				return c
			}
			return "#f3f2f1"
		},
		"workflowURL": func(name workflow.Name) string {
			return "/w/" + string(name)
		},
	}).ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("templates: %v", err)
	}
	return t, nil
}

type banner struct {
	Kind string
	Msg  string
}

type artifactLink struct {
	Name string
	URL  string
}

type featureRow struct {
	Label string
	Atoms []int
}

// jobView is a job as shown on a page. Result fields are only set
// once the job is done.
type jobView struct {
	Status     jobs.Status
	Pending    bool
	Artifacts  []artifactLink
	Trajectory *trajectory.Result
	Pockets    []pocket.Pocket
	TopPockets []pocket.Pocket
	Features   []featureRow
	Embeds     []*viewer.Embed
}

type page struct {
	Workflows  []workflow.Spec
	Spec       workflow.Spec
	Mode       string
	Form       map[string]string
	Height     int
	Banners    []banner
	Embeds     []*viewer.Embed
	Job        *jobView
	Pockets    []pocket.Pocket
	TopPockets []pocket.Pocket
	Selection  *pocket.Selection
	// ProteinName is the name the pockets' protein was submitted
	// under.
	ProteinName string
	MolstarJS   string
	MolstarCSS  string
}

// Title ...
func (p *page) Title() string { return p.Spec.Title }

type jobPage struct {
	Title      string
	MolstarJS  string
	MolstarCSS string
	Job        *jobView
	Banners    []banner
}

func (p *page) success(msg string) { p.Banners = append(p.Banners, banner{"success", msg}) }

// fail turns a workflow error into a banner by its kind.
func (p *page) fail(err error) {
	p.Banners = append(p.Banners, banner{
		Kind: workflow.KindOf(err).Banner(),
		Msg:  err.Error(),
	})
}

func (s *server) newPage(spec workflow.Spec, mode string) *page {
	if !spec.HasMode(mode) {
		mode = spec.DefaultMode()
	}
	form := make(map[string]string, len(spec.Defaults))
	for k, v := range spec.Defaults {
		form[k] = v
	}
	if spec.Name == workflow.Pocket {
		form["p2rank_home"] = s.cfg.P2Rank.Home
	}
	return &page{
		Workflows:  workflow.All(),
		Spec:       spec,
		Mode:       mode,
		Form:       form,
		Height:     spec.Height,
		MolstarJS:  s.cfg.Viewer.MolstarJS,
		MolstarCSS: s.cfg.Viewer.MolstarCSS,
	}
}

func newJobView(job *jobs.Job) *jobView {
	v := &jobView{Status: job.Status()}
	v.Pending = !v.Status.State.Finished()
	if meta, ok := job.Meta().(*jobMeta); ok {
		v.Embeds = meta.Embeds
	}
	if v.Status.State != jobs.Done {
		return v
	}
	for _, name := range v.Status.Artifacts {
		v.Artifacts = append(v.Artifacts, artifactLink{
			Name: name,
			URL:  fmt.Sprintf("/jobs/%s/%s.png", job.ID(), name),
		})
	}
	out, _ := job.Result()
	switch data := out.Data.(type) {
	case *trajectory.Result:
		v.Trajectory = data
	case *pocket.Pockets:
		v.Pockets = data.List()
		v.TopPockets = data.Top(3)
	case *pharmacophore.Result:
		for _, label := range data.Features.Labels() {
			v.Features = append(v.Features, featureRow{label, data.Features.Atoms(label)})
		}
	}
	return v
}

// failure returns the job's error once it has failed.
func (v *jobView) failure(job *jobs.Job) error {
	if v.Status.State != jobs.Failed {
		return nil
	}
	_, err := job.Result()
	return err
}

func (s *server) render(w http.ResponseWriter, name string, data interface{}) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.templates.ExecuteTemplate(w, name, data); err != nil {
		log.Printf("template %s: %v", name, err)
	}
}
