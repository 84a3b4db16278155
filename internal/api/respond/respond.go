// Package respond provides small helpers for uniform JSON responses.
package respond

import (
	"encoding/json"
	"net/http"
)

type successResponse struct {
	Data interface{} `json:"data"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// OK writes a 200 response with the given payload.
func OK(w http.ResponseWriter, data interface{}) {
	writeJSON(w, http.StatusOK, successResponse{Data: data})
}

// Created writes a 201 response with the given payload.
func Created(w http.ResponseWriter, data interface{}) {
	writeJSON(w, http.StatusCreated, successResponse{Data: data})
}

// JSON writes an arbitrary status with the given payload.
func JSON(w http.ResponseWriter, status int, data interface{}) {
	writeJSON(w, status, successResponse{Data: data})
}

// Fail writes an error response with the given status.
func Fail(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}
