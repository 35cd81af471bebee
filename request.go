// Copyright 2015 Tamás Demeter-Haludka
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package pulse

import (
	"encoding/json"
	"net/http"
)

// Returns a query parameter, or def if it is missing.
func Query(r *http.Request, key, def string) string {
	values, ok := r.URL.Query()[key]
	if !ok || len(values) == 0 {
		return def
	}

	return values[0]
}

// Returns the host the client requested.
func Domain(r *http.Request) string {
	return r.Host
}

// The JSON status document: {"status": ..., "message": ..., "code": ...}.
type StatusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// Responds with a StatusResponse.
//
// The code is optional, only the first one is used.
func JSONStatus(w http.ResponseWriter, r *http.Request, httpCode int, status, message string, code ...string) {
	resp := StatusResponse{
		Status:  status,
		Message: message,
	}
	if len(code) > 0 {
		resp.Code = code[0]
	}

	if rd, ok := r.Context().Value(renderKey).(*Renderer); ok {
		rd.SetCode(httpCode).JSON(resp)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpCode)
	json.NewEncoder(w).Encode(resp)
}
