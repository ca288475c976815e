package transporthttp

import (
	"encoding/json"
	"net/http"
)

// Problem is an RFC 7807 error body.
type Problem struct {
	Type   string              `json:"type"`
	Title  string              `json:"title,omitempty"`
	Status int                 `json:"status,omitempty"`
	Detail string              `json:"detail,omitempty"`
	Errors map[string][]string `json:"errors,omitempty"`
}

func WriteProblem(w http.ResponseWriter, status int, title, detail string, errs map[string][]string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Problem{
		Type:   "about:blank",
		Title:  title,
		Status: status,
		Detail: detail,
		Errors: errs,
	})
}
