package main

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

type chatRequest struct {
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var req chatRequest
		if err := json.Unmarshal(body, &req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		content := detectionReply
		for _, msg := range req.Messages {
			if msg.Role == "system" && strings.Contains(msg.Content, "optimization expert") {
				content = recommendationReply
				break
			}
		}

		writeJSON(w, map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": content}},
			},
		})
	})

	logger := log.New(log.Writer(), "llm-mock ", log.LstdFlags|log.Lmicroseconds)
	srv := &http.Server{
		Addr:    ":8090",
		Handler: logRequests(logger, mux),
	}

	logger.Println("listening on :8090")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("server error: %v", err)
	}
}

const detectionReply = "```json\n" + `{
  "anomalies": {"cpu_usage": true, "memory_usage": false, "latency_ms": true},
  "severity_score": 6.5,
  "confidence": 0.85,
  "summary": "CPU saturation is driving elevated request latency."
}` + "\n```"

const recommendationReply = "```json\n" + `{
  "executive_summary": "CPU pressure on the web tier is degrading latency and needs capacity or profiling work.",
  "detailed_analysis": "Sustained CPU usage above threshold correlates with elevated latency. No memory or disk pressure observed.",
  "recommendations": [
    {"title": "Scale out the web tier", "description": "Add two instances behind the load balancer.", "priority": "high", "category": "compute"},
    {"title": "Profile hot endpoints", "description": "Capture CPU profiles during peak traffic and remove avoidable work.", "priority": "medium", "category": "performance"}
  ],
  "priority_level": "high",
  "estimated_impact": "Latency should return to baseline within a day of scaling.",
  "implementation_timeframe": "1-3 days"
}` + "\n```"

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode error: %v", err)
	}
}

func logRequests(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Printf("%s %s %d %s", r.Method, r.URL.Path, rw.status, time.Since(start))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
