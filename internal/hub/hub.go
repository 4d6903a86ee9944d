// Package hub maps model repository ids to weight locations.
package hub

import (
	"os"
	"path"
	"path/filepath"
	"strings"
)

// EnvHub names the environment variable that supplies a default hub root.
const EnvHub = "GENBENCH_MODEL_HUB"

// Resolve returns where the weights of repoID live. With a hub root the
// location is <hub>/<last path segment of repoID>; without one the id itself
// is used as a path. An empty localHub falls back to GENBENCH_MODEL_HUB.
func Resolve(repoID, localHub string) string {
	repoID = strings.TrimSpace(repoID)
	root := strings.TrimSpace(localHub)
	if root == "" {
		root = strings.TrimSpace(os.Getenv(EnvHub))
	}
	if root == "" {
		return ExpandHome(repoID)
	}
	name := path.Base(strings.TrimRight(filepath.ToSlash(repoID), "/"))
	return filepath.Join(ExpandHome(root), name)
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}
