//go:build !xdrfile

package trajectory

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestXTCNeedsXdrfile(t *testing.T) {
	top := peptide(2)
	pdb := filepath.Join(t.TempDir(), "top.pdb")
	writeModels(t, pdb, top, [][]float64{baseCoords(top.Len())})
	_, err := Analyze(pdb, "traj.xtc")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}
