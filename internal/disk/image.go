package disk

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ShadowExt is the file extension of per-instance shadow images.
const ShadowExt = ".shadow"

// Images knows where shadow and base images live.
type Images struct {
	vmsDir   string
	basePath string
}

// NewImages creates an image layout with shadow files in vmsDir layered on basePath.
func NewImages(vmsDir, basePath string) *Images {
	return &Images{vmsDir: vmsDir, basePath: basePath}
}

// BasePath returns the path to the read-only base image.
func (i *Images) BasePath() string {
	return i.basePath
}

// ShadowPath returns the path to the shadow image of the named instance.
func (i *Images) ShadowPath(name string) string {
	return filepath.Join(i.vmsDir, name+ShadowExt)
}

// Available lists the instance names that have a shadow image, sorted.
// An instance gets one on its first start, so this is the set of VMs
// that can be resumed with their previous disk state.
func (i *Images) Available() ([]string, error) {
	entries, err := os.ReadDir(i.vmsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read vms dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ShadowExt {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ShadowExt))
	}
	sort.Strings(names)
	return names, nil
}
