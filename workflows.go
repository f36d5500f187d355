package main

import (
	"context"
	"errors"
	"fmt"
	"io/ioutil"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/thavlik/molsuite/jobs"
	"github.com/thavlik/molsuite/materialize"
	"github.com/thavlik/molsuite/pharmacophore"
	"github.com/thavlik/molsuite/pocket"
	"github.com/thavlik/molsuite/session"
	"github.com/thavlik/molsuite/trajectory"
	"github.com/thavlik/molsuite/viewer"
	"github.com/thavlik/molsuite/workflow"
)

// input is one submitted workflow form.
type input struct {
	r         *http.Request
	sessionID string
	spec      workflow.Spec
	mode      string
	height    int
}

func (in *input) value(field string) string {
	return strings.TrimSpace(in.r.FormValue(field))
}

// asset reads an uploaded file. A missing field is an empty asset.
func (in *input) asset(field string) (materialize.Asset, error) {
	assets, err := in.assets(field)
	if err != nil || len(assets) == 0 {
		return materialize.Asset{}, err
	}
	return assets[0], nil
}

func (in *input) assets(field string) ([]materialize.Asset, error) {
	if in.r.MultipartForm == nil {
		return nil, nil
	}
	var assets []materialize.Asset
	for _, fh := range in.r.MultipartForm.File[field] {
		f, err := fh.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %v", fh.Filename, err)
		}
		data, err := ioutil.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("read %s: %v", fh.Filename, err)
		}
		if len(data) == 0 {
			continue
		}
		assets = append(assets, materialize.Asset{Name: fh.Filename, Data: data})
	}
	return assets, nil
}

// pipeline runs one workflow for a submitted form. Short work is done
// inline; long work is returned as a job.
type pipeline func(s *server, in *input, p *page) (*jobs.Job, error)

var pipelines = map[workflow.Name]pipeline{
	workflow.Structure:  runStructure,
	workflow.Trajectory: runTrajectory,
	workflow.Pocket:     runPocket,
	workflow.Docking:    runDocking,
	workflow.Auto:       runAuto,
}

func fileURL(sessionID string, f *materialize.File) string {
	return fmt.Sprintf("/files/%s/%s", sessionID, f.ID)
}

func (s *server) viewerFile(in *input, f *materialize.File) viewer.File {
	return viewer.File{URL: fileURL(in.sessionID, f), Name: f.Name}
}

// materialize writes uploads into the session's registry. Every
// asset must be present.
func (s *server) materialize(in *input, assets ...materialize.Asset) ([]*materialize.File, error) {
	reg, err := s.sessions.For(in.sessionID)
	if err != nil {
		return nil, err
	}
	return reg.MaterializeAll(assets, nil)
}

func (s *server) adopt(in *input, path string) (*materialize.File, error) {
	reg, err := s.sessions.For(in.sessionID)
	if err != nil {
		return nil, err
	}
	f, err := reg.Adopt(path)
	if errors.Is(err, materialize.ErrEmptyPath) || errors.Is(err, os.ErrNotExist) {
		return nil, workflow.Wrap(workflow.KindPrecondition, fmt.Sprintf("File '%s' not found.", path), err)
	}
	return f, err
}

// jobMeta is kept with a submitted job so its page can show the same
// viewers as the form that started it.
type jobMeta struct {
	Embeds []*viewer.Embed
}

// submit queues fn with the page's embeds attached. files stay on disk
// until fn returns, even if the session evicts them.
func (s *server) submit(in *input, p *page, files []*materialize.File, fn jobs.Func) (*jobs.Job, error) {
	reg, err := s.sessions.For(in.sessionID)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, f := range files {
		if f != nil {
			ids = append(ids, f.ID)
		}
	}
	release, err := reg.Pin(ids...)
	if err != nil {
		return nil, fmt.Errorf("pin: %v", err)
	}
	meta := &jobMeta{Embeds: append([]*viewer.Embed(nil), p.Embeds...)}
	job, err := s.jobs.SubmitMeta(string(in.spec.Name), meta, func() (*jobs.Output, error) {
		defer release()
		return fn()
	})
	if err != nil {
		release()
		return nil, err
	}
	return job, nil
}

func embedKey(spec workflow.Spec, mode string) string {
	return fmt.Sprintf("%s_%s", spec.Name, mode)
}

func runStructure(s *server, in *input, p *page) (*jobs.Job, error) {
	key := embedKey(in.spec, in.mode)
	var e *viewer.Embed
	var err error
	switch in.mode {
	case workflow.ModeRCSB:
		p.Form["pdb_id"] = in.value("pdb_id")
		if e, err = viewer.RCSB(key, in.value("pdb_id"), in.height); err != nil {
			return nil, workflow.Wrap(workflow.KindPrecondition, "", err)
		}
	case workflow.ModeRemote:
		p.Form["url"] = in.value("url")
		if e, err = viewer.Remote(key, in.value("url"), in.height); err != nil {
			return nil, workflow.Wrap(workflow.KindPrecondition, "", err)
		}
	case workflow.ModeTrajectory:
		top, traj, err := trajectoryUploads(s, in)
		if err != nil {
			return nil, err
		}
		if e, err = viewer.Trajectory(key, s.viewerFile(in, top), s.viewerFile(in, traj), in.height); err != nil {
			return nil, workflow.Wrap(workflow.KindPrecondition, "", err)
		}
	default:
		a, err := in.asset("structure")
		if err != nil {
			return nil, err
		}
		if len(a.Data) == 0 {
			return nil, workflow.Precondition("Please upload a structure file.")
		}
		files, err := s.materialize(in, a)
		if err != nil {
			return nil, err
		}
		if e, err = viewer.Local(key, s.viewerFile(in, files[0]), in.height); err != nil {
			return nil, workflow.Wrap(workflow.KindPrecondition, "", err)
		}
	}
	p.Embeds = append(p.Embeds, e)
	return nil, nil
}

func trajectoryUploads(s *server, in *input) (*materialize.File, *materialize.File, error) {
	top, err := in.asset("topology")
	if err != nil {
		return nil, nil, err
	}
	traj, err := in.asset("trajectory")
	if err != nil {
		return nil, nil, err
	}
	if len(top.Data) == 0 || len(traj.Data) == 0 {
		return nil, nil, workflow.Precondition("Please upload both PDB and XTC files.")
	}
	files, err := s.materialize(in, top, traj)
	if err != nil {
		return nil, nil, err
	}
	return files[0], files[1], nil
}

func runTrajectory(s *server, in *input, p *page) (*jobs.Job, error) {
	top, traj, err := trajectoryUploads(s, in)
	if err != nil {
		return nil, err
	}
	e, err := viewer.Trajectory(embedKey(in.spec, in.mode), s.viewerFile(in, top), s.viewerFile(in, traj), in.height)
	if err != nil {
		return nil, workflow.Wrap(workflow.KindPrecondition, "", err)
	}
	p.Embeds = append(p.Embeds, e)
	topPath, trajPath := top.Path, traj.Path
	return s.submit(in, p, []*materialize.File{top, traj}, func() (*jobs.Output, error) {
		log.Printf("Analyzing trajectory %s", trajPath)
		result, err := trajectory.Analyze(topPath, trajPath)
		if errors.Is(err, trajectory.ErrUnsupportedFormat) {
			return nil, workflow.Wrap(workflow.KindSoft, "", err)
		} else if err != nil {
			return nil, workflow.External(fmt.Errorf("analyze: %v", err))
		}
		rmsd, err := trajectory.Plot(result.RMSD)
		if err != nil {
			return nil, workflow.External(fmt.Errorf("plot rmsd: %v", err))
		}
		rmsf, err := trajectory.Plot(result.RMSF)
		if err != nil {
			return nil, workflow.External(fmt.Errorf("plot rmsf: %v", err))
		}
		return &jobs.Output{
			Data: result,
			Artifacts: map[string][]byte{
				"rmsd": rmsd,
				"rmsf": rmsf,
			},
		}, nil
	})
}

func runPocket(s *server, in *input, p *page) (*jobs.Job, error) {
	if in.value("action") == "select" {
		return nil, s.selectPocket(in, p)
	}
	home := in.value("p2rank_home")
	p.Form["p2rank_home"] = home
	noRunner := home == "" && s.clientset == nil
	var protein *materialize.File
	switch in.mode {
	case workflow.ModeUpload:
		if noRunner {
			return nil, workflow.Precondition("Provide the P2Rank installation path.")
		}
		a, err := in.asset("protein")
		if err != nil {
			return nil, err
		}
		if len(a.Data) == 0 {
			return nil, workflow.Precondition("Please upload a protein file.")
		}
		files, err := s.materialize(in, a)
		if err != nil {
			return nil, err
		}
		protein = files[0]
	default:
		path := in.value("protein_path")
		p.Form["protein_path"] = path
		if path == "" || noRunner {
			return nil, workflow.Precondition("Provide both P2Rank path and protein path.")
		}
		f, err := s.adopt(in, path)
		if err != nil {
			return nil, err
		}
		protein = f
	}
	if e, err := viewer.Local(embedKey(in.spec, in.mode), s.viewerFile(in, protein), in.height); err == nil {
		p.Embeds = append(p.Embeds, e)
	}
	runner := s.pocketRunner(home, in.sessionID, protein)
	sessionID, store := in.sessionID, s.store
	proteinPath, proteinFile, proteinName := protein.Path, protein.ID, protein.Name
	return s.submit(in, p, []*materialize.File{protein}, func() (*jobs.Output, error) {
		pockets, err := runner.Predict(context.Background(), proteinPath)
		if err != nil {
			return nil, err
		}
		if err := store.Put(context.Background(), sessionID, &session.State{
			Pockets:     pockets,
			ProteinPath: proteinPath,
			ProteinFile: proteinFile,
			ProteinName: proteinName,
		}); err != nil {
			log.Printf("Warning: failed to save pockets for session %s: %v", sessionID, err)
		}
		return &jobs.Output{Data: pockets}, nil
	})
}

func (s *server) selectPocket(in *input, p *page) error {
	ctx := in.r.Context()
	state, err := s.store.Get(ctx, in.sessionID)
	if err != nil {
		return fmt.Errorf("session: %v", err)
	}
	if !state.HasPockets() {
		return workflow.Precondition("Run pocket detection first.")
	}
	if _, err := os.Stat(state.ProteinPath); err != nil {
		return workflow.Wrap(workflow.KindPrecondition, "Protein file is no longer available. Run pocket detection again.", err)
	}
	sel, err := state.Pockets.Select(in.value("pocket"), state.ProteinPath)
	if err != nil {
		return workflow.Wrap(workflow.KindPrecondition, "", err)
	}
	state.Selection = sel
	if err := s.store.Put(ctx, in.sessionID, state); err != nil {
		return fmt.Errorf("session: %v", err)
	}
	s.showPockets(in.sessionID, state, p)
	p.success("Pocket Selected!")
	return nil
}

// showPockets fills the page from a session's saved pockets, with a
// viewer for the protein they were predicted on while its file is
// still registered.
func (s *server) showPockets(sessionID string, state *session.State, p *page) {
	p.Pockets = state.Pockets.List()
	p.TopPockets = state.Pockets.Top(3)
	p.Selection = state.Selection
	p.ProteinName = state.ProteinName
	if len(p.Embeds) > 0 || state.ProteinFile == "" {
		return
	}
	reg, ok := s.sessions.Lookup(sessionID)
	if !ok {
		return
	}
	f, err := reg.Get(state.ProteinFile)
	if err != nil {
		return
	}
	e, err := viewer.Local(embedKey(p.Spec, p.Mode), viewer.File{URL: fileURL(sessionID, f), Name: f.Name}, p.Height)
	if err != nil {
		log.Printf("Warning: session %s: %v", sessionID, err)
		return
	}
	p.Embeds = append(p.Embeds, e)
}

func runDocking(s *server, in *input, p *page) (*jobs.Job, error) {
	var protein, docked, truth *materialize.File
	switch in.mode {
	case workflow.ModePath:
		proteinPath, dockedPath, truthPath := in.value("protein_path"), in.value("docked_path"), in.value("ground_truth_path")
		p.Form["protein_path"], p.Form["docked_path"], p.Form["ground_truth_path"] = proteinPath, dockedPath, truthPath
		if proteinPath == "" || dockedPath == "" {
			return nil, workflow.Precondition("Provide protein and docked ligand paths.")
		}
		var err error
		if protein, err = s.adopt(in, proteinPath); err != nil {
			return nil, err
		}
		if docked, err = s.adopt(in, dockedPath); err != nil {
			return nil, err
		}
		if truthPath != "" {
			if truth, err = s.adopt(in, truthPath); err != nil {
				return nil, err
			}
		}
	default:
		var assets []materialize.Asset
		for _, field := range []string{"protein", "docked", "ground_truth"} {
			a, err := in.asset(field)
			if err != nil {
				return nil, err
			}
			if len(a.Data) == 0 {
				return nil, workflow.Precondition("Upload protein, docked ligand, and ground truth ligand.")
			}
			assets = append(assets, a)
		}
		files, err := s.materialize(in, assets...)
		if err != nil {
			return nil, err
		}
		protein, docked, truth = files[0], files[1], files[2]
	}
	var truthFile *viewer.File
	if truth != nil {
		f := s.viewerFile(in, truth)
		truthFile = &f
	}
	e, err := viewer.Docking(embedKey(in.spec, in.mode), s.viewerFile(in, protein), s.viewerFile(in, docked), truthFile, in.height)
	if err != nil {
		return nil, workflow.Wrap(workflow.KindPrecondition, "", err)
	}
	p.Embeds = append(p.Embeds, e)
	ligandPath := docked.Path
	return s.submit(in, p, []*materialize.File{protein, docked, truth}, func() (*jobs.Output, error) {
		result, err := pharmacophore.Run(ligandPath)
		if errors.Is(err, pharmacophore.ErrUnreadable) {
			return nil, workflow.Wrap(workflow.KindSoft, "Could not read docked ligand.", err)
		} else if errors.Is(err, pharmacophore.ErrNoFeatures) {
			return nil, workflow.Wrap(workflow.KindSoft, "No pharmacophore features detected.", err)
		} else if err != nil {
			return nil, workflow.External(fmt.Errorf("pharmacophore: %v", err))
		}
		return &jobs.Output{
			Data:      result,
			Artifacts: map[string][]byte{"pharmacophore": result.PNG},
		}, nil
	})
}

func runAuto(s *server, in *input, p *page) (*jobs.Job, error) {
	var files []viewer.File
	switch in.mode {
	case workflow.ModeLocal:
		assets, err := in.assets("files")
		if err != nil {
			return nil, err
		}
		if len(assets) == 0 {
			return nil, workflow.Precondition("Upload at least one file.")
		}
		materialized, err := s.materialize(in, assets...)
		if err != nil {
			return nil, err
		}
		for _, f := range materialized {
			files = append(files, s.viewerFile(in, f))
		}
	default:
		raw := in.r.FormValue("urls")
		p.Form["urls"] = raw
		for _, line := range strings.Split(raw, "\n") {
			if line = strings.TrimSpace(line); line != "" {
				files = append(files, viewer.File{URL: line})
			}
		}
		if len(files) == 0 {
			return nil, workflow.Precondition("Enter at least one URL.")
		}
		for _, f := range files {
			if _, err := viewer.CheckURL(f.URL); err != nil {
				return nil, workflow.Wrap(workflow.KindPrecondition, "", err)
			}
		}
	}
	e, err := viewer.Auto(embedKey(in.spec, in.mode), files, in.height)
	if err != nil {
		return nil, workflow.Wrap(workflow.KindPrecondition, "", err)
	}
	p.Embeds = append(p.Embeds, e)
	return nil, nil
}

func (s *server) handleIndex() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/w/"+string(workflow.Structure), http.StatusFound)
	}
}

// loadSessionState fills the page with what the session remembers.
func (s *server) loadSessionState(r *http.Request, sessionID string, p *page) {
	if p.Spec.Name != workflow.Pocket {
		return
	}
	state, err := s.store.Get(r.Context(), sessionID)
	if err != nil {
		log.Printf("Warning: session %s: %v", sessionID, err)
		return
	}
	if state.HasPockets() {
		s.showPockets(sessionID, state, p)
	}
}

func (s *server) handleWorkflowPage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		statusCode := http.StatusInternalServerError
		if err := func() error {
			name, err := workflow.Parse(r.PathValue("slug"))
			if err != nil {
				statusCode = http.StatusNotFound
				return err
			}
			sessionID := session.FromRequest(w, r)
			p := s.newPage(workflow.Lookup(name), r.URL.Query().Get("mode"))
			s.loadSessionState(r, sessionID, p)
			s.render(w, "workflow.html", p)
			return nil
		}(); err != nil {
			log.Printf("%v: %v", r.RequestURI, err)
			w.WriteHeader(statusCode)
			w.Write([]byte(err.Error()))
		}
	}
}

func (s *server) handleWorkflowRun() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		statusCode := http.StatusInternalServerError
		if err := func() error {
			name, err := workflow.Parse(r.PathValue("slug"))
			if err != nil {
				statusCode = http.StatusNotFound
				return err
			}
			if err := r.ParseMultipartForm(s.cfg.MultipartUploadMemory); err != nil && !errors.Is(err, http.ErrNotMultipart) {
				statusCode = http.StatusBadRequest
				return fmt.Errorf("multipart form: %v", err)
			}
			spec := workflow.Lookup(name)
			in := &input{
				r:         r,
				sessionID: session.FromRequest(w, r),
				spec:      spec,
			}
			p := s.newPage(spec, r.FormValue("mode"))
			in.mode = p.Mode
			if h, err := strconv.Atoi(r.FormValue("height")); err == nil {
				p.Height = viewer.ClampHeight(h, spec.Height)
			}
			in.height = p.Height
			log.Printf("Running workflow %s, mode=%s, session=%s", name, in.mode, in.sessionID)
			job, err := pipelines[name](s, in, p)
			if err != nil {
				log.Printf("Workflow %s: %v", name, err)
				p.fail(err)
			} else if job != nil {
				p.Job = s.await(r.Context(), job, p)
				p.Pockets = p.Job.Pockets
				p.TopPockets = p.Job.TopPockets
			}
			if p.Pockets == nil {
				s.loadSessionState(r, in.sessionID, p)
			}
			s.render(w, "workflow.html", p)
			return nil
		}(); err != nil {
			log.Printf("%v: %v", r.RequestURI, err)
			w.WriteHeader(statusCode)
			w.Write([]byte(err.Error()))
		}
	}
}

// await waits up to the configured time for a job. Jobs that take
// longer are shown as pending and keep running.
func (s *server) await(ctx context.Context, job *jobs.Job, p *page) *jobView {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(s.cfg.WaitTimeout))
	defer cancel()
	job.Wait(ctx)
	v := newJobView(job)
	if err := v.failure(job); err != nil {
		p.fail(err)
	}
	return v
}
