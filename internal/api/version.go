package api

import (
	"net/http"
	"runtime"

	"github.com/Togather-Foundation/appkit/internal/api/render"
)

// BuildInfo is the build metadata stamped in with ldflags.
type BuildInfo struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
}

// withDefaults fills unset fields so responses never carry empty strings.
func (b BuildInfo) withDefaults() BuildInfo {
	if b.Version == "" {
		b.Version = "dev"
	}
	if b.GitCommit == "" {
		b.GitCommit = "unknown"
	}
	if b.BuildDate == "" {
		b.BuildDate = "unknown"
	}
	return b
}

type versionResponse struct {
	BuildInfo
	GoVersion string `json:"go_version"`
}

// VersionHandler serves GET /version. It is public.
func VersionHandler(build BuildInfo) http.HandlerFunc {
	resp := versionResponse{BuildInfo: build.withDefaults(), GoVersion: runtime.Version()}
	return func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, http.StatusOK, resp)
	}
}
