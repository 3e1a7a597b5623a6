package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/99designs/gqlgen/graphql"
	"github.com/vektah/gqlparser/v2/gqlerror"

	"github.com/tjfontaine/gqlink/internal/core/domain"
)

// maxBodyBytes bounds an incoming GraphQL request body.
const maxBodyBytes = 1 << 20

// FetchPolicyHeader lets callers pick a fetch policy per request.
const FetchPolicyHeader = "X-Fetch-Policy"

type graphqlRequest struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName"`
	Variables     map[string]any `json:"variables"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"stages": s.Client().Stages(),
	})
}

func (s *Server) handleCacheReset(w http.ResponseWriter, r *http.Request) {
	if err := s.Client().ResetCache(); err != nil {
		AddError(r.Context(), err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGraphQL(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body graphqlRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&body); err != nil {
		AddError(ctx, err)
		writeErrors(w, http.StatusBadRequest, gqlerror.List{gqlerror.Errorf("invalid request body: %v", err)})
		return
	}

	req := &domain.Request{
		OperationName: body.OperationName,
		Query:         body.Query,
		Variables:     body.Variables,
	}
	req = req.WithMetadata(domain.MetaRequestID, GetRequestID(ctx))
	if policy := r.Header.Get(FetchPolicyHeader); policy != "" {
		req = req.WithMetadata(domain.MetaFetchPolicy, policy)
	}
	AddLogField(ctx, "operation", body.OperationName)

	resp, err := s.Client().Execute(ctx, req)
	if err != nil {
		AddError(ctx, err)
		status, errs := errorResponse(err)
		if status >= http.StatusInternalServerError {
			s.logger.Debug("proxied request failed",
				slog.String("request_id", GetRequestID(ctx)),
				slog.String("error", err.Error()))
		}
		writeErrors(w, status, errs)
		return
	}

	writeJSON(w, http.StatusOK, graphql.Response{
		Data:       resp.Data,
		Errors:     resp.Errors,
		Extensions: resp.Extensions,
	})
}

// errorResponse maps a pipeline failure to an HTTP status and GraphQL
// error list.
func errorResponse(err error) (int, gqlerror.List) {
	var malformed *domain.MalformedRequestError
	var cfgErr *domain.ConfigurationError
	switch nf, isNetwork := domain.IsNetworkFailure(err); {
	case errors.As(err, &malformed):
		return http.StatusBadRequest, gqlerror.List{gqlerror.Errorf("%s", malformed.Error())}
	case domain.IsCancelled(err):
		return http.StatusGatewayTimeout, gqlerror.List{gqlerror.Errorf("request cancelled")}
	case isNetwork:
		errs := gqlerror.List{gqlerror.Errorf("%s", nf.Error())}
		return http.StatusBadGateway, append(errs, nf.Errors...)
	case errors.As(err, &cfgErr):
		return http.StatusInternalServerError, gqlerror.List{gqlerror.Errorf("%s", cfgErr.Error())}
	default:
		return http.StatusInternalServerError, gqlerror.List{gqlerror.Errorf("%s", err.Error())}
	}
}

func writeErrors(w http.ResponseWriter, status int, errs gqlerror.List) {
	writeJSON(w, status, graphql.Response{Errors: errs})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
