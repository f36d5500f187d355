package pocket

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"
)

// executables are tried in order inside the installation root.
var executables = []string{"prank", "prank.sh"}

// P2Rank runs a local P2Rank installation.
type P2Rank struct {
	// Home is the installation root containing the prank launcher.
	Home string
	// OutDir receives the prediction files. Empty means a fresh
	// temporary directory per run, removed afterwards.
	OutDir  string
	Threads int
}

// Executable locates the prank launcher under Home.
func (p *P2Rank) Executable() (string, error) {
	if p.Home == "" {
		return "", &PreconditionError{Msg: "missing P2Rank installation path"}
	}
	for _, name := range executables {
		path := filepath.Join(p.Home, name)
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			continue
		}
		if info.Mode()&0111 == 0 {
			continue
		}
		return path, nil
	}
	return "", &ToolError{
		Op:  "locate",
		Err: errors.Errorf("no prank executable in '%s'", p.Home),
	}
}

// Predict runs `prank predict` on the protein and parses its
// predictions. It blocks until the process exits.
func (p *P2Rank) Predict(ctx context.Context, proteinPath string) (*Pockets, error) {
	if p.Home == "" || proteinPath == "" {
		return nil, &PreconditionError{Msg: "Provide both P2Rank path and protein path."}
	}
	exe, err := p.Executable()
	if err != nil {
		return nil, err
	}
	outDir := p.OutDir
	if outDir == "" {
		outDir, err = os.MkdirTemp("", "p2rank-")
		if err != nil {
			return nil, errors.Wrap(err, "out dir")
		}
		defer os.RemoveAll(outDir)
	}
	args := []string{"predict", "-f", proteinPath, "-o", outDir}
	if p.Threads > 0 {
		args = append(args, "-threads", strconv.Itoa(p.Threads))
	}
	log.Printf("Running %s %v", exe, args)
	cmd := exec.CommandContext(ctx, exe, args...)
	cmd.Dir = p.Home
	out, err := cmd.CombinedOutput()
	if err != nil {
		return nil, &ToolError{
			Op:     "predict",
			Output: string(out),
			Err:    errors.WithStack(err),
		}
	}
	return p.readPredictions(outDir, proteinPath, string(out))
}

// PredictionsPath is where P2Rank writes the CSV for a protein.
func PredictionsPath(outDir, proteinPath string) string {
	return filepath.Join(outDir, fmt.Sprintf("%s_predictions.csv", filepath.Base(proteinPath)))
}

func (p *P2Rank) readPredictions(outDir, proteinPath, output string) (*Pockets, error) {
	path := PredictionsPath(outDir, proteinPath)
	f, err := os.Open(path)
	if err != nil {
		return nil, &ToolError{
			Op:     "predict",
			Output: output,
			Err:    errors.Wrap(err, "predictions"),
		}
	}
	defer f.Close()
	pockets, err := ParsePredictions(f)
	if err != nil {
		return nil, &ToolError{
			Op:  "parse",
			Err: errors.Wrap(err, filepath.Base(path)),
		}
	}
	return pockets, nil
}
