package utils

import (
	"encoding/json"
	"log"
	"net/http"
)

// ErrorBody 是所有 JSON 错误响应的结构。
type ErrorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// RespondJSON 发送JSON响应
func RespondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

// RespondError 发送错误响应
func RespondError(w http.ResponseWriter, status int, message string) {
	RespondJSON(w, status, ErrorBody{Error: message})
}

// RespondKindError 发送带错误分类的错误响应
func RespondKindError(w http.ResponseWriter, status int, kind, message string) {
	RespondJSON(w, status, ErrorBody{Error: message, Kind: kind})
}
