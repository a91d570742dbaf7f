package rpc

import "strings"

const (
	parentToken = ".."
	rootToken   = ""
	localToken  = "~"
)

// splitPath breaks a destination path into components. An empty string
// yields no components ("already arrived"); a leading "/" yields a
// leading empty-string component (the global-root marker); everything
// else splits on "/".
func splitPath(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

func joinPath(components []string) string {
	return strings.Join(components, "/")
}

// prependName returns source with name prepended as a new leading
// component ("name/source", or just "name" if source is empty).
func prependName(name, source string) string {
	if source == "" {
		return name
	}
	return name + "/" + source
}
