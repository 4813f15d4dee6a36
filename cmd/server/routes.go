package main

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type dataHandler interface {
	HealthCheck(http.ResponseWriter, *http.Request)
	Query(http.ResponseWriter, *http.Request)
	Metrics(http.ResponseWriter, *http.Request)
	ListRAGs(http.ResponseWriter, *http.Request)
	InvalidateCache(http.ResponseWriter, *http.Request)
}

func buildMux(handler dataHandler) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", handler.HealthCheck)

	mux.HandleFunc("POST /query", handler.Query)
	mux.HandleFunc("GET /rags", handler.ListRAGs)

	// JSON counter snapshot plus the Prometheus exposition format.
	mux.HandleFunc("GET /metrics", handler.Metrics)
	mux.Handle("GET /metrics/prometheus", promhttp.Handler())

	mux.HandleFunc("POST /admin/invalidate", handler.InvalidateCache)

	return mux
}
