package api

import (
	"net/http"
	"time"

	"github.com/querygate/querygate/internal/auth"
	"github.com/querygate/querygate/internal/redact"
	"github.com/querygate/querygate/internal/schema"
)

type schemaResponse struct {
	Tables        []schema.Table `json:"tables"`
	Relationships []string       `json:"relationships"`
	LoadedAt      time.Time      `json:"loaded_at"`
}

func handleGetSchema(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Schema == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SCHEMA_NOT_CONFIGURED", "schema registry is not configured", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleQueryReader); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}
	writeJSON(w, http.StatusOK, newSchemaResponse(deps.Schema.Current(), deps.Schema.LoadedAt()))
}

func handleReloadSchema(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.ReloadSchema == nil || deps.Schema == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SCHEMA_RELOAD_NOT_CONFIGURED", "schema reload is not configured", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleSchemaAdmin); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}
	desc, err := deps.ReloadSchema(r.Context())
	if err != nil {
		// the previous schema stays active
		writeError(r.Context(), w, http.StatusBadGateway, "SCHEMA_RELOAD_FAILED", "failed to reload schema", true, map[string]any{"details": redact.Mask(err.Error())})
		return
	}
	writeJSON(w, http.StatusOK, newSchemaResponse(desc, deps.Schema.LoadedAt()))
}

func newSchemaResponse(desc schema.Descriptor, loadedAt time.Time) schemaResponse {
	rels := desc.Relationships()
	names := make([]string, 0, len(rels))
	for _, rel := range rels {
		names = append(names, rel.String())
	}
	tables := desc.Tables
	if tables == nil {
		tables = []schema.Table{}
	}
	return schemaResponse{Tables: tables, Relationships: names, LoadedAt: loadedAt}
}
