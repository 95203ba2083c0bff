// Package permissions describes the admin operations and the methods each accepts.
package permissions

import (
	"net/http"
	"sort"
	"strings"
)

// Definition describes an admin operation.
type Definition struct {
	Key    string `json:"key"`
	Method string `json:"method"` // Required method; empty accepts any method.
	Path   string `json:"path"`
	Label  string `json:"label"`
	Module string `json:"module"`
}

// Operation keys.
const (
	CreateKey = "create-key"
	DeleteKey = "delete-key"
	ExpireKey = "expire-key"
	ListKeys  = "keys"
	Usage     = "usage"
)

var definitions = []Definition{
	{Key: CreateKey, Method: http.MethodPost, Path: "/create-key", Label: "Create API key", Module: "keys"},
	{Key: DeleteKey, Method: http.MethodPost, Path: "/delete-key", Label: "Delete API key", Module: "keys"},
	{Key: ExpireKey, Method: http.MethodPost, Path: "/expire-key", Label: "Expire API key", Module: "keys"},
	{Key: ListKeys, Path: "/keys", Label: "List API keys", Module: "keys"},
	{Key: Usage, Method: http.MethodGet, Path: "/usage", Label: "Usage summary", Module: "usage"},
}

// Definitions returns every admin operation sorted by key.
func Definitions() []Definition {
	out := append([]Definition(nil), definitions...)
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// MethodAllowed reports whether method may invoke the operation.
func (d Definition) MethodAllowed(method string) bool {
	if d.Method == "" {
		return true
	}
	return strings.EqualFold(d.Method, method)
}
