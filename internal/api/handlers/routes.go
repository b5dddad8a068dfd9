package handlers

import (
	"net/http"

	"github.com/Togather-Foundation/appkit/internal/api/render"
	"github.com/Togather-Foundation/appkit/internal/routes"
)

// RouteTable serves GET /api/v1/routes from the mounted tree.
func RouteTable(tree *routes.Tree) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		render.JSON(w, http.StatusOK, map[string]any{"items": tree.Table()})
	}
}
