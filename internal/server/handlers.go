package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/koustreak/pha/internal/connections"
	"github.com/koustreak/pha/internal/database"
	"github.com/koustreak/pha/internal/errs"
	"github.com/koustreak/pha/internal/logger"
	"github.com/koustreak/pha/internal/querygen"
	"github.com/koustreak/pha/internal/schema"
	"github.com/koustreak/pha/internal/snapshot"
	"github.com/koustreak/pha/internal/sqlguard"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- query generation ---

type queryParams struct {
	PatientID string `json:"patient_id"`
	QueryType string `json:"query_type"`
	Limit     *int   `json:"limit"`
	RootTable string `json:"root_table"`
}

type generateRequest struct {
	Schema json.RawMessage `json:"schema"`
	queryParams
}

// request turns raw parameters into a generator request. This is the one
// place raw patient ids and query types are interpreted.
func (s *Server) request(u *schema.Unified, p queryParams) (querygen.Request, error) {
	qt, err := querygen.ParseQueryType(p.QueryType)
	if err != nil {
		return querygen.Request{}, err
	}

	limit := s.genCfg.DefaultLimit
	if p.Limit != nil {
		limit = *p.Limit
	}
	if s.genCfg.MaxLimit > 0 && limit > s.genCfg.MaxLimit {
		return querygen.Request{}, errs.Newf(errs.ErrKindInvalidLimit, "limit %d exceeds maximum %d", limit, s.genCfg.MaxLimit)
	}

	return querygen.Request{
		Schema:    u,
		Patient:   querygen.ParsePatientFilter(p.PatientID),
		Type:      qt,
		Limit:     limit,
		RootTable: p.RootTable,
	}, nil
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var body generateRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	if len(body.Schema) == 0 {
		writeError(w, r, errs.New(errs.ErrKindSchema, "schema is required"))
		return
	}

	u, err := schema.Parse(body.Schema)
	if err != nil {
		writeError(w, r, err)
		return
	}
	// Schema problems outrank parameter problems.
	if err := u.Validate(); err != nil {
		writeError(w, r, err)
		return
	}

	req, err := s.request(u, body.queryParams)
	if err != nil {
		writeError(w, r, err)
		return
	}

	res, err := s.gen.Generate(req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.logGenerated(r, res)
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) logGenerated(r *http.Request, res *querygen.Result) {
	logger.FromContext(r.Context()).InfoWith("query generated", map[string]any{
		"dialect":        string(res.Dialect),
		"root_table":     res.RootTable,
		"tables":         len(res.TablesUsed),
		"patient_filter": res.PatientFilterApplied,
		"warnings":       len(res.Warnings),
	})
}

// --- connections ---

func (s *Server) handleListConnections(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"connections": s.conns.List()})
}

// connectionBody is a connection spec as posted by clients. Durations are
// Go duration strings ("30s").
type connectionBody struct {
	Name            string `json:"name"`
	Driver          string `json:"driver"`
	DSN             string `json:"dsn"`
	Database        string `json:"database"`
	Schema          string `json:"schema"`
	MaxConns        int32  `json:"max_conns"`
	MinConns        int32  `json:"min_conns"`
	MaxConnLifetime string `json:"max_conn_lifetime"`
	MaxConnIdleTime string `json:"max_conn_idle_time"`
	ConnectTimeout  string `json:"connect_timeout"`
	QueryTimeout    string `json:"query_timeout"`
	SampleSize      int    `json:"sample_size"`
}

func (b *connectionBody) spec() (connections.Spec, error) {
	driver, err := database.ParseDriver(b.Driver)
	if err != nil {
		return connections.Spec{}, err
	}
	spec := connections.Spec{Name: b.Name, Config: database.Config{
		Driver:     driver,
		DSN:        b.DSN,
		Database:   b.Database,
		Schema:     b.Schema,
		MaxConns:   b.MaxConns,
		MinConns:   b.MinConns,
		SampleSize: b.SampleSize,
	}}

	durations := []struct {
		field string
		raw   string
		dst   *time.Duration
	}{
		{"max_conn_lifetime", b.MaxConnLifetime, &spec.MaxConnLifetime},
		{"max_conn_idle_time", b.MaxConnIdleTime, &spec.MaxConnIdleTime},
		{"connect_timeout", b.ConnectTimeout, &spec.ConnectTimeout},
		{"query_timeout", b.QueryTimeout, &spec.QueryTimeout},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil || v < 0 {
			return connections.Spec{}, errs.Newf(errs.ErrKindInvalidInput, "%s: invalid duration %q", d.field, d.raw)
		}
		*d.dst = v
	}
	return spec, nil
}

func decodeConnection(r *http.Request) (connections.Spec, error) {
	var body connectionBody
	if err := decodeJSON(r, &body); err != nil {
		return connections.Spec{}, err
	}
	return body.spec()
}

func (s *Server) handleRegisterConnection(w http.ResponseWriter, r *http.Request) {
	spec, err := decodeConnection(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	info, err := s.conns.Register(r.Context(), spec)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/connections/"+info.Name)
	writeJSON(w, http.StatusCreated, info)
}

func (s *Server) handleDescribeConnection(w http.ResponseWriter, r *http.Request) {
	info, err := s.conns.Describe(chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleUpdateConnection(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	spec, err := decodeConnection(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if spec.Name != "" && spec.Name != name {
		writeError(w, r, errs.Newf(errs.ErrKindInvalidInput, "body names %q but path names %q; connections cannot be renamed", spec.Name, name))
		return
	}
	info, err := s.conns.Update(r.Context(), name, spec)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleRemoveConnection(w http.ResponseWriter, r *http.Request) {
	if err := s.conns.Remove(r.Context(), chi.URLParam(r, "name")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTestConnection(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	latency, err := s.conns.Test(r.Context(), name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"name":       name,
		"ok":         true,
		"latency_ms": float64(latency.Microseconds()) / 1000,
	})
}

type schemaResponse struct {
	Connection string          `json:"connection"`
	Source     string          `json:"source"` // "snapshot" or "live"
	SHA256     string          `json:"sha256,omitempty"`
	TakenAt    *time.Time      `json:"taken_at,omitempty"`
	Schema     *schema.Unified `json:"schema"`
}

// resolveSchema returns the stored snapshot for name, introspecting (and
// saving) when there is none or refresh is set.
func (s *Server) resolveSchema(r *http.Request, name string, refresh bool) (*schemaResponse, error) {
	if _, err := s.conns.Get(name); err != nil {
		return nil, err
	}

	if s.snapshots != nil && !refresh {
		snap, err := s.snapshots.Load(r.Context(), name)
		switch {
		case err == nil:
			return fromSnapshot(snap, "snapshot"), nil
		case !errs.IsNotFound(err):
			return nil, err
		}
	}

	u, err := s.conns.Inspect(r.Context(), name)
	if err != nil {
		return nil, err
	}
	if s.snapshots == nil {
		return &schemaResponse{Connection: name, Source: "live", Schema: u}, nil
	}

	snap, err := s.snapshots.Save(r.Context(), name, u)
	if err != nil {
		// The live schema is still usable.
		logger.FromContext(r.Context()).ErrorWith("snapshot save failed", err, map[string]any{"connection": name})
		return &schemaResponse{Connection: name, Source: "live", Schema: u}, nil
	}
	return fromSnapshot(snap, "live"), nil
}

func fromSnapshot(snap *snapshot.Snapshot, source string) *schemaResponse {
	taken := snap.TakenAt
	return &schemaResponse{
		Connection: snap.Connection,
		Source:     source,
		SHA256:     snap.SHA256,
		TakenAt:    &taken,
		Schema:     snap.Schema,
	}
}

func (s *Server) handleSchema(w http.ResponseWriter, r *http.Request) {
	refresh := r.URL.Query().Get("refresh") == "true"
	resp, err := s.resolveSchema(r, chi.URLParam(r, "name"), refresh)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSchemaDownload(w http.ResponseWriter, r *http.Request) {
	if s.snapshots == nil {
		writeError(w, r, errs.New(errs.ErrKindNotFound, "snapshot storage is disabled"))
		return
	}
	name := chi.URLParam(r, "name")
	ttl := s.cfg.SnapshotURLTTL
	url, err := s.snapshots.DownloadURL(r.Context(), name, ttl)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"connection": name,
		"url":        url,
		"expires_at": time.Now().Add(ttl).UTC(),
	})
}

type connectionQueryRequest struct {
	queryParams
	Execute bool `json:"execute"`
}

type connectionQueryResponse struct {
	Query  *querygen.Result         `json:"query"`
	Result *connections.QueryResult `json:"result,omitempty"`
}

func (s *Server) handleConnectionQuery(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var body connectionQueryRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}

	if body.Execute {
		if err := sqlguard.CheckLiteral("patient_id", body.PatientID); err != nil {
			writeError(w, r, err)
			return
		}
	}

	resolved, err := s.resolveSchema(r, name, false)
	if err != nil {
		writeError(w, r, err)
		return
	}

	req, err := s.request(resolved.Schema, body.queryParams)
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.gen.Generate(req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.logGenerated(r, res)

	resp := connectionQueryResponse{Query: res}
	if body.Execute {
		resp.Result, err = s.conns.Execute(r.Context(), name, res.SQL)
		if err != nil {
			writeError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SQL string `json:"sql"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}

	res, err := s.conns.Execute(r.Context(), chi.URLParam(r, "name"), body.SQL)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// --- snapshots ---

func (s *Server) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	if s.snapshots == nil {
		writeJSON(w, http.StatusOK, map[string]any{"snapshots": []snapshot.Info{}})
		return
	}
	infos, err := s.snapshots.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"snapshots": infos})
}
