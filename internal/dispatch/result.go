package dispatch

import (
	"net/http"

	"github.com/edgecore/dispatcher/internal/isolate"
)

// RunResult is the dispatcher's view of an isolate.RunResult, with the same
// fields. The dispatcher is the only producer of isolate.OutcomeNotFound (no
// matching deployment), which never reaches the isolate layer at all.
type RunResult struct {
	Outcome  isolate.Outcome
	Response isolate.Response
	Message  string
}

// writeResult marshals a RunResult to an HTTP response. Timeout and
// MemoryLimit are deliberately encoded as HTTP 200 rather than 504/507 —
// see DESIGN.md for the reasoning.
func writeResult(w http.ResponseWriter, r RunResult) {
	switch r.Outcome {
	case isolate.OutcomeResponse:
		for k, vs := range r.Response.Headers {
			for _, v := range vs {
				w.Header().Add(k, v)
			}
		}
		status := r.Response.Status
		if status == 0 {
			status = http.StatusOK
		}
		w.WriteHeader(status)
		_, _ = w.Write(r.Response.Body)

	case isolate.OutcomeError:
		http.Error(w, r.Message, http.StatusInternalServerError)

	case isolate.OutcomeTimeout:
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("Timeouted"))

	case isolate.OutcomeMemoryLimit:
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("MemoryLimited"))

	case isolate.OutcomeNotFound:
		http.Error(w, "Deployment not found", http.StatusNotFound)

	default:
		http.Error(w, "Internal error", http.StatusInternalServerError)
	}
}
