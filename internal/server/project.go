package server

import (
	"encoding/json"
	"net/http"
	"sync"

	"git.home.luguber.info/inful/storydev/internal/config"
	"git.home.luguber.info/inful/storydev/internal/version"
)

// ProjectInfo is served at /project.json.
type ProjectInfo struct {
	Builder   string          `json:"builder"`
	Framework string          `json:"framework,omitempty"`
	ProjectID string          `json:"projectId,omitempty"`
	Version   string          `json:"storydevVersion"`
	Features  config.Features `json:"features"`
}

func projectHandler(opts *config.Options, projectID func() string) http.HandlerFunc {
	id := sync.OnceValue(projectID)
	return func(w http.ResponseWriter, _ *http.Request) {
		info := ProjectInfo{
			Builder:   opts.Core.Builder,
			Framework: opts.Core.Framework,
			ProjectID: id(),
			Version:   version.Version,
			Features:  opts.Features,
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(info)
	}
}
