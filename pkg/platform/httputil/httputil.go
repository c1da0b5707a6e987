package httputil

import (
	"encoding/json"
	"net/http"

	dErrors "votegate/pkg/domain-errors"
)

// ErrorResponse is the public error envelope.
type ErrorResponse struct {
	Message       string  `json:"message"`
	Field         *string `json:"field"`
	ErrorCodename string  `json:"error_codename"`
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError translates err into the public error envelope. Uncoded errors and
// internal errors never expose their message.
func WriteError(w http.ResponseWriter, err error) {
	de, ok := dErrors.As(err)
	if !ok || de.Code == dErrors.CodeInternal {
		WriteInternalError(w)
		return
	}

	resp := ErrorResponse{
		Message:       de.Message,
		ErrorCodename: string(de.Code),
	}
	if de.Field != "" {
		field := de.Field
		resp.Field = &field
	}
	WriteJSON(w, dErrors.ToHTTPStatus(de.Code), resp)
}

func WriteInternalError(w http.ResponseWriter) {
	WriteJSON(w, http.StatusInternalServerError, ErrorResponse{
		Message:       "internal error",
		ErrorCodename: string(dErrors.CodeInternal),
	})
}
