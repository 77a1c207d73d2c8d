package app

import "embed"

//go:embed templates/*.yaml
var templateFS embed.FS

// templateFiles maps a resource kind to its starter manifest.
var templateFiles = map[string]string{
	"ns":         "templates/ns.yaml",
	"namespace":  "templates/ns.yaml",
	"configmap":  "templates/configmap.yaml",
	"deployment": "templates/deployment.yaml",
	"service":    "templates/service.yaml",
	"pod":        "templates/pod.yaml",
	"replicaset": "templates/replicaset.yaml",
}

// ResourceTemplate returns a starter YAML manifest for the given resource
// kind. Unknown kinds return the empty string.
func ResourceTemplate(kind string) string {
	path, ok := templateFiles[kind]
	if !ok {
		return ""
	}
	data, err := templateFS.ReadFile(path)
	if err != nil {
		return ""
	}
	return string(data)
}
