package main

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/coopforge/sergeant/internal/agentsvc"
	"github.com/coopforge/sergeant/internal/opsurface"
	"github.com/coopforge/sergeant/internal/store"
	"github.com/coopforge/sergeant/internal/tasksvc"
	"github.com/coopforge/sergeant/internal/telemetry"
)

// registerOpsurfaceRoutes exposes internal/opsurface's operation table over
// a minimal HTTP+JSON mux. This is not a protocol requirement: it exists
// only so the kernel can be exercised from the CLI without a dedicated
// tool-invocation transport, which spec.md §1 treats as an external
// collaborator out of scope for the kernel itself.
func registerOpsurfaceRoutes(mux *http.ServeMux, s *opsurface.Surface) {
	mux.HandleFunc("/api/tasks", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			var req opsurface.CreateTaskRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			writeJSON(w, http.StatusOK, s.CreateTask(r.Context(), req))
		case http.MethodGet:
			switch {
			case r.URL.Query().Get("status") != "":
				tasks, err := s.GetTasksByStatus(r.Context(), r.URL.Query().Get("status"))
				respondList(w, tasks, err)
			case r.URL.Query().Get("agentId") != "" && r.URL.Query().Get("status") == "":
				tasks, err := s.GetTasksByAgentID(r.Context(), r.URL.Query().Get("agentId"))
				respondList(w, tasks, err)
			default:
				http.Error(w, "status or agentId query parameter required", http.StatusBadRequest)
			}
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("/api/tasks/", func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Path[len("/api/tasks/"):]
		if id == "" {
			http.Error(w, "task id required", http.StatusBadRequest)
			return
		}
		task, err := s.GetTaskStatus(r.Context(), id)
		if err != nil {
			http.Error(w, err.Error(), httpErrorStatus(err))
			return
		}
		writeJSON(w, http.StatusOK, task)
	})

	mux.HandleFunc("/api/tasks/complete", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			TaskID string `json:"taskId"`
			Result string `json:"result"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusOK, s.ReportTaskCompletion(r.Context(), req.TaskID, req.Result))
	})

	mux.HandleFunc("/api/tasks/fail", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			TaskID string `json:"taskId"`
			Error  string `json:"errorMessage"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusOK, s.ReportTaskFailure(r.Context(), req.TaskID, req.Error))
	})

	mux.HandleFunc("/api/tasks/next", func(w http.ResponseWriter, r *http.Request) {
		agentID := r.URL.Query().Get("agentId")
		if agentID == "" {
			http.Error(w, "agentId query parameter required", http.StatusBadRequest)
			return
		}
		timeoutMs := 0
		if raw := r.URL.Query().Get("timeoutMs"); raw != "" {
			v, err := strconv.Atoi(raw)
			if err != nil {
				http.Error(w, "invalid timeoutMs", http.StatusBadRequest)
				return
			}
			timeoutMs = v
		}
		result := s.GetNextTask(r.Context(), opsurface.GetNextTaskRequest{AgentID: agentID, TimeoutMs: timeoutMs})
		writeJSON(w, http.StatusOK, result)
	})

	mux.HandleFunc("/api/agents", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			agents, err := s.ListAgents(r.Context(), r.URL.Query().Get("persona"))
			respondList(w, agents, err)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("/api/agents/launch", func(w http.ResponseWriter, r *http.Request) {
		var req opsurface.LaunchAgentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusOK, s.LaunchAgent(r.Context(), req))
	})

	mux.HandleFunc("/api/agents/kill", func(w http.ResponseWriter, r *http.Request) {
		agentID := r.URL.Query().Get("id")
		if agentID == "" {
			http.Error(w, "id query parameter required", http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusOK, s.KillAgent(r.Context(), agentID))
	})

	mux.HandleFunc("/api/memory", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			var req opsurface.SaveMemoryRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			writeJSON(w, http.StatusOK, s.SaveMemory(r.Context(), req))
		case http.MethodGet:
			key := r.URL.Query().Get("key")
			if key == "" {
				http.Error(w, "key query parameter required", http.StatusBadRequest)
				return
			}
			entry, err := s.ReadMemory(r.Context(), key, r.URL.Query().Get("namespace"))
			if err != nil {
				http.Error(w, err.Error(), httpErrorStatus(err))
				return
			}
			if entry == nil {
				http.Error(w, "not found", http.StatusNotFound)
				return
			}
			writeJSON(w, http.StatusOK, entry)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})
}

func respondList[T any](w http.ResponseWriter, items []T, err error) {
	if err != nil {
		http.Error(w, err.Error(), httpErrorStatus(err))
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// startMetricsCollector periodically refreshes the gauge metrics that
// reflect live store/bus state rather than discrete counted events.
func startMetricsCollector(st *store.Store, taskNotifier *tasksvc.Notifier, agentNotifier *agentsvc.Notifier) func() {
	stop := make(chan struct{})
	ticker := time.NewTicker(10 * time.Second)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				collectGaugeMetrics(st, taskNotifier, agentNotifier)
			}
		}
	}()

	return func() { close(stop) }
}

func collectGaugeMetrics(st *store.Store, taskNotifier *tasksvc.Notifier, agentNotifier *agentsvc.Notifier) {
	ctx := context.Background()

	for _, status := range []store.WorkItemStatus{
		store.WorkItemPending, store.WorkItemInProgress, store.WorkItemCompleted, store.WorkItemFailed,
	} {
		items, err := st.ListWorkItems(ctx, store.WorkItemFilter{Status: status})
		if err != nil {
			continue
		}
		telemetry.WorkItemsTotal.WithLabelValues(string(status)).Set(float64(len(items)))
	}

	for _, status := range []store.AgentStatus{
		store.AgentStarting, store.AgentRunning, store.AgentStopped, store.AgentKilled,
	} {
		agents, err := st.ListAgents(ctx, store.AgentFilter{Status: status})
		if err != nil {
			continue
		}
		telemetry.AgentsTotal.WithLabelValues(string(status)).Set(float64(len(agents)))
	}

	telemetry.EventBusSubscribersTotal.WithLabelValues("task").Set(float64(taskNotifier.Bus().SubscriberCount()))
	telemetry.EventBusSubscribersTotal.WithLabelValues("agent").Set(float64(agentNotifier.Bus().SubscriberCount()))
}
