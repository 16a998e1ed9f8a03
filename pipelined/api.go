package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/relayml-labs/relayml-go/internal/chain"
	"github.com/relayml-labs/relayml-go/internal/domain"
	"github.com/relayml-labs/relayml-go/internal/pipeline"
	"github.com/relayml-labs/relayml-go/internal/platform/auditlog"
	"github.com/relayml-labs/relayml-go/internal/platform/auth"
	"github.com/relayml-labs/relayml-go/internal/platform/objectstore"
	"github.com/relayml-labs/relayml-go/internal/registry"
	"github.com/relayml-labs/relayml-go/internal/transform"
)

type pipelineAPI struct {
	logger       *slog.Logger
	db           *sql.DB
	store        objectstore.Store
	executions   *pipeline.ExecutionStore
	models       *registry.ModelStore
	endpoints    *registry.EndpointStore
	orchestrator *pipeline.Orchestrator
	trigger      *chain.Trigger
	bucket       string
	endpointName string
	// runCtx outlives individual requests; background execution runs hang off
	// it so a closed client connection does not kill a training job.
	runCtx context.Context
}

func (api *pipelineAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/pipeline/executions", api.handleStartExecution)
	mux.HandleFunc("GET /api/v1/pipeline/executions", api.handleListExecutions)
	mux.HandleFunc("GET /api/v1/pipeline/executions/{execution_id}", api.handleGetExecution)

	mux.HandleFunc("POST /api/v1/jobs/clean", api.handleRunClean)
	mux.HandleFunc("POST /api/v1/jobs/aggregate", api.handleRunAggregate)

	mux.HandleFunc("GET /api/v1/models", api.handleListModels)
	mux.HandleFunc("GET /api/v1/endpoint", api.handleGetEndpoint)
	mux.HandleFunc("GET /api/v1/outputs", api.handleGetOutputs)
}

type executionResponse struct {
	ExecutionID     string    `json:"execution_id"`
	State           string    `json:"state"`
	ArtifactKey     string    `json:"artifact_key,omitempty"`
	TrainingJobID   string    `json:"training_job_id,omitempty"`
	ModelID         string    `json:"model_id,omitempty"`
	HostingConfigID string    `json:"hosting_config_id,omitempty"`
	EndpointName    string    `json:"endpoint_name,omitempty"`
	FailureReason   string    `json:"failure_reason,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type stepResponse struct {
	Step       string     `json:"step"`
	Status     string     `json:"status"`
	Output     string     `json:"output,omitempty"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

func toExecutionResponse(exec domain.Execution) executionResponse {
	return executionResponse{
		ExecutionID:     exec.ID,
		State:           string(exec.State),
		ArtifactKey:     exec.ArtifactKey,
		TrainingJobID:   exec.TrainingJobID,
		ModelID:         exec.ModelID,
		HostingConfigID: exec.HostingConfigID,
		EndpointName:    exec.EndpointName,
		FailureReason:   exec.FailureReason,
		CreatedAt:       exec.CreatedAt,
		UpdatedAt:       exec.UpdatedAt,
	}
}

func (api *pipelineAPI) handleStartExecution(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok || strings.TrimSpace(identity.Subject) == "" {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	exec, err := api.orchestrator.StartDetached(api.runCtx)
	if err != nil {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	api.audit(r, identity, "execution.start", "pipeline_execution", exec.ID, map[string]any{
		"state": string(exec.State),
	})

	w.Header().Set("Location", "/api/v1/pipeline/executions/"+exec.ID)
	api.writeJSON(w, http.StatusAccepted, toExecutionResponse(exec))
}

func (api *pipelineAPI) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	limit := clampInt(parseIntQuery(r, "limit", 100), 1, 500)
	executions, err := api.executions.List(r.Context(), limit)
	if err != nil {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	out := make([]executionResponse, 0, len(executions))
	for _, exec := range executions {
		out = append(out, toExecutionResponse(exec))
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"executions": out})
}

func (api *pipelineAPI) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	executionID := strings.TrimSpace(r.PathValue("execution_id"))
	if executionID == "" {
		api.writeError(w, r, http.StatusBadRequest, "execution_id_required")
		return
	}

	exec, err := api.executions.Get(r.Context(), executionID)
	if err != nil {
		if errors.Is(err, pipeline.ErrNotFound) {
			api.writeError(w, r, http.StatusNotFound, "not_found")
			return
		}
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	records, err := api.executions.ListSteps(r.Context(), executionID)
	if err != nil {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	steps := make([]stepResponse, 0, len(records))
	for _, record := range records {
		step := stepResponse{
			Step:      string(record.Step),
			Status:    string(record.Status),
			Output:    record.Output,
			Error:     record.Error,
			StartedAt: record.StartedAt,
		}
		if !record.FinishedAt.IsZero() {
			finished := record.FinishedAt
			step.FinishedAt = &finished
		}
		steps = append(steps, step)
	}

	api.writeJSON(w, http.StatusOK, map[string]any{
		"execution": toExecutionResponse(exec),
		"steps":     steps,
	})
}

type runCleanRequest struct {
	Input           string `json:"input,omitempty"`
	MalformedPolicy string `json:"malformed_policy,omitempty"`
}

func (api *pipelineAPI) handleRunClean(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok || strings.TrimSpace(identity.Subject) == "" {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	req := runCleanRequest{}
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			api.writeError(w, r, http.StatusBadRequest, "invalid_json")
			return
		}
	}
	input := strings.TrimSpace(req.Input)
	if input == "" {
		input = objectstore.PrefixRaw
	}
	policy, err := transform.ParseMalformedPolicy(req.MalformedPolicy)
	if err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_malformed_policy")
		return
	}

	runID := uuid.NewString()
	job := transform.CleanJob{
		Store:  api.store,
		Input:  input,
		Output: objectstore.PrefixClean,
		Policy: policy,
		Logger: api.logger,
	}
	result, err := job.Run(r.Context())
	if err != nil {
		// A failed run never fires the chain; Observe records the terminal
		// status so a late success cannot fire for the same run either.
		_, _ = api.trigger.Observe(api.runCtx, runID, chain.StatusFailed)
		api.audit(r, identity, "job.clean.failed", "clean_run", runID, map[string]any{
			"input": input,
			"error": err.Error(),
		})
		api.writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":      "clean_failed",
			"run_id":     runID,
			"detail":     err.Error(),
			"request_id": r.Header.Get("X-Request-Id"),
		})
		return
	}

	fired, triggerErr := api.trigger.Observe(api.runCtx, runID, chain.StatusSucceeded)
	if triggerErr != nil && api.logger != nil {
		api.logger.Error("downstream aggregate failed", "run_id", runID, "error", triggerErr.Error())
	}

	api.audit(r, identity, "job.clean.succeeded", "clean_run", runID, map[string]any{
		"input":       input,
		"output_key":  result.OutputKey,
		"records_in":  result.RecordsIn,
		"records_out": result.RecordsOut,
		"dropped":     result.Dropped,
		"chain_fired": fired,
	})

	api.writeJSON(w, http.StatusOK, map[string]any{
		"run_id":      runID,
		"objects":     result.ObjectsRead,
		"records_in":  result.RecordsIn,
		"records_out": result.RecordsOut,
		"dropped":     result.Dropped,
		"output_key":  result.OutputKey,
		"chain_fired": fired,
	})
}

type runAggregateRequest struct {
	Input string `json:"input,omitempty"`
}

func (api *pipelineAPI) handleRunAggregate(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok || strings.TrimSpace(identity.Subject) == "" {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	req := runAggregateRequest{}
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			api.writeError(w, r, http.StatusBadRequest, "invalid_json")
			return
		}
	}
	input := strings.TrimSpace(req.Input)
	if input == "" {
		input = objectstore.PrefixClean
	}

	runID := uuid.NewString()
	job := transform.AggregateJob{
		Store:  api.store,
		Input:  input,
		Output: objectstore.PrefixAggregated,
		Logger: api.logger,
	}
	result, err := job.Run(r.Context())
	if err != nil {
		api.audit(r, identity, "job.aggregate.failed", "aggregate_run", runID, map[string]any{
			"input": input,
			"error": err.Error(),
		})
		api.writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":      "aggregate_failed",
			"run_id":     runID,
			"detail":     err.Error(),
			"request_id": r.Header.Get("X-Request-Id"),
		})
		return
	}

	api.audit(r, identity, "job.aggregate.succeeded", "aggregate_run", runID, map[string]any{
		"input":       input,
		"csv_key":     result.CSVKey,
		"records_in":  result.RecordsIn,
		"records_out": result.RecordsOut,
	})

	api.writeJSON(w, http.StatusOK, map[string]any{
		"run_id":       runID,
		"records_in":   result.RecordsIn,
		"records_out":  result.RecordsOut,
		"csv_key":      result.CSVKey,
		"columnar_key": result.ColumnarKey,
	})
}

type modelResponse struct {
	ModelID       string    `json:"model_id"`
	Name          string    `json:"name"`
	ArtifactKey   string    `json:"artifact_key"`
	TrainingJobID string    `json:"training_job_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	CreatedBy     string    `json:"created_by,omitempty"`
}

func (api *pipelineAPI) handleListModels(w http.ResponseWriter, r *http.Request) {
	models, err := api.models.List(r.Context())
	if err != nil {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	out := make([]modelResponse, 0, len(models))
	for _, model := range models {
		out = append(out, modelResponse{
			ModelID:       model.ID,
			Name:          model.Name,
			ArtifactKey:   model.ArtifactKey,
			TrainingJobID: model.TrainingJobID,
			CreatedAt:     model.CreatedAt,
			CreatedBy:     model.CreatedBy,
		})
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"models": out})
}

func (api *pipelineAPI) handleGetEndpoint(w http.ResponseWriter, r *http.Request) {
	endpoint, err := api.endpoints.Get(r.Context(), api.endpointName)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			api.writeError(w, r, http.StatusNotFound, "not_deployed")
			return
		}
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	api.writeJSON(w, http.StatusOK, map[string]any{
		"name":              endpoint.Name,
		"hosting_config_id": endpoint.HostingConfigID,
		"created_at":        endpoint.CreatedAt,
		"updated_at":        endpoint.UpdatedAt,
	})
}

// handleGetOutputs exposes the fixed layout operators and stage jobs rely on.
func (api *pipelineAPI) handleGetOutputs(w http.ResponseWriter, r *http.Request) {
	api.writeJSON(w, http.StatusOK, map[string]any{
		"bucket":        api.bucket,
		"prefixes":      objectstore.Prefixes(),
		"endpoint_name": api.endpointName,
	})
}

func (api *pipelineAPI) audit(r *http.Request, identity auth.Identity, action, resourceType, resourceID string, payload map[string]any) {
	if payload == nil {
		payload = map[string]any{}
	}
	payload["service"] = "pipelined"
	_, err := auditlog.Insert(r.Context(), api.db, auditlog.Event{
		OccurredAt:   time.Now().UTC(),
		Actor:        strings.TrimSpace(identity.Subject),
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		RequestID:    r.Header.Get("X-Request-Id"),
		IP:           requestIP(r.RemoteAddr),
		UserAgent:    r.UserAgent(),
		Payload:      payload,
	})
	if err != nil && api.logger != nil {
		api.logger.Warn("audit write failed", "action", action, "error", err.Error())
	}
}

func (api *pipelineAPI) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	_ = enc.Encode(body)
}

func (api *pipelineAPI) writeError(w http.ResponseWriter, r *http.Request, status int, code string) {
	api.writeJSON(w, status, map[string]any{
		"error":      code,
		"request_id": r.Header.Get("X-Request-Id"),
	})
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("multiple JSON values")
	}
	return nil
}

func requestIP(remoteAddr string) net.IP {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return nil
	}
	return net.ParseIP(host)
}

func parseIntQuery(r *http.Request, key string, def int) int {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return parsed
}

func clampInt(v int, min int, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
