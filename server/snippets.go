package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/ije/gox/crypto/rand"
	"github.com/webwriter-app/webwriter-sub004/internal/npm"
	"github.com/webwriter-app/webwriter-sub004/server/storage"
)

const snippetCategory = "snippet"

// Snippet is a piece of markup saved by the authoring UI.
type Snippet struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	Content string    `json:"content"`
	Modtime time.Time `json:"modtime"`
}

type snippetInput struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// snippet serves the snippet collection: list, get, create, replace and delete.
// Snippets are stored in the record store and never cached.
func (r *Router) snippet(ctx context.Context, a *Action) (*Response, error) {
	if r.snippets == nil {
		return nil, errors.New("snippet store is not configured")
	}
	var id string
	if len(a.IDs) > 0 {
		id = a.IDs[0]
		if len(a.IDs) > 1 || !npm.Naming.Match(id) || strings.HasPrefix(id, ".") {
			return nil, &badRequestError{"invalid snippet id"}
		}
	}

	switch a.Method {
	case http.MethodGet, http.MethodHead:
		if id == "" {
			return r.listSnippets()
		}
		s, err := r.getSnippet(id)
		if err != nil {
			return nil, err
		}
		return jsonResponse(s, false)
	case http.MethodPost:
		if id != "" {
			return nil, &methodNotAllowedError{a.Method}
		}
		input, err := parseSnippetInput(a.Content)
		if err != nil {
			return nil, err
		}
		id = rand.Hex.String(16)
		return r.putSnippet(id, input, http.StatusCreated)
	case http.MethodPut:
		if id == "" {
			return nil, &badRequestError{"missing snippet id"}
		}
		input, err := parseSnippetInput(a.Content)
		if err != nil {
			return nil, err
		}
		return r.putSnippet(id, input, http.StatusOK)
	case http.MethodDelete:
		if id == "" {
			return nil, &badRequestError{"missing snippet id"}
		}
		if _, err := r.getSnippet(id); err != nil {
			return nil, err
		}
		if err := r.snippets.Delete(id); err != nil {
			return nil, err
		}
		return &Response{Status: http.StatusNoContent, ContentType: ctJSON}, nil
	}
	return nil, &methodNotAllowedError{a.Method}
}

func (r *Router) listSnippets() (*Response, error) {
	items, err := r.snippets.List(snippetCategory)
	if err != nil {
		return nil, err
	}
	list := make([]Snippet, len(items))
	for i, item := range items {
		list[i] = Snippet{
			ID:      item.ID,
			Name:    item.Store["name"],
			Content: item.Store["content"],
			Modtime: item.Modtime,
		}
	}
	return jsonResponse(list, false)
}

func (r *Router) getSnippet(id string) (*Snippet, error) {
	store, modtime, err := r.snippets.Get(id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, &snippetNotFoundError{id}
		}
		return nil, err
	}
	return &Snippet{ID: id, Name: store["name"], Content: store["content"], Modtime: modtime}, nil
}

func (r *Router) putSnippet(id string, input *snippetInput, status int) (*Response, error) {
	err := r.snippets.Put(id, snippetCategory, storage.Store{
		"name":    input.Name,
		"content": input.Content,
	})
	if err != nil {
		return nil, err
	}
	s, err := r.getSnippet(id)
	if err != nil {
		return nil, err
	}
	res, err := jsonResponse(s, false)
	if err != nil {
		return nil, err
	}
	res.Status = status
	return res, nil
}

func parseSnippetInput(data []byte) (*snippetInput, error) {
	var input snippetInput
	if err := json.Unmarshal(data, &input); err != nil {
		return nil, &badRequestError{"require valid json body"}
	}
	if input.Content == "" {
		return nil, &badRequestError{"content is required"}
	}
	return &input, nil
}

type snippetNotFoundError struct {
	id string
}

func (e *snippetNotFoundError) Error() string {
	return "snippet " + e.id + " not found"
}

func (e *snippetNotFoundError) Unwrap() error {
	return storage.ErrNotFound
}
