//go:build xdrfile

package trajectory

import (
	"github.com/rmera/gochem/traj/xtc"
)

func init() {
	openers[".xtc"] = func(path string) (frameReader, error) {
		return xtc.New(path)
	}
}
