package tools

import (
	"context"
	"fmt"
	"strings"
)

const (
	AddMemory      = "add_memory"
	SearchMemory   = "search_memory"
	GetAllMemories = "get_all_memories"

	// NoMatches is returned by search_memory when nothing matches.
	NoMatches = "No matching memories found."
)

// AddMemoryInput are the arguments of add_memory.
type AddMemoryInput struct {
	Key     string `json:"key" jsonschema_description:"Short topic label for the fact, e.g. favorite_food. Reusing a key updates it."`
	Content string `json:"content" jsonschema_description:"The fact to remember, in one or two sentences."`
}

// SearchMemoryInput are the arguments of search_memory.
type SearchMemoryInput struct {
	Query string `json:"query" jsonschema_description:"Text to look for in memory keys and contents. Empty returns everything."`
}

// GetAllMemoriesInput takes no arguments.
type GetAllMemoriesInput struct{}

// Catalog returns the memory tools in the order they are offered to the model.
func Catalog() []Definition {
	return []Definition{
		newDefinition(AddMemory,
			"Save or update a long-term fact about the user. Use when the user shares a preference, a personal detail or asks you to remember something.",
			addMemory),
		newDefinition(SearchMemory,
			"Search long-term memory for facts whose key or content contains the query.",
			searchMemory),
		newDefinition(GetAllMemories,
			"List everything stored in long-term memory.",
			getAllMemories),
	}
}

func addMemory(_ context.Context, mem Memory, in AddMemoryInput) (string, error) {
	return mem.AddOrUpdate(in.Key, in.Content)
}

func searchMemory(_ context.Context, mem Memory, in SearchMemoryInput) (string, error) {
	entries := mem.Search(in.Query)
	if len(entries) == 0 {
		return NoMatches, nil
	}

	lines := make([]string, 0, len(entries))
	for _, entry := range entries {
		lines = append(lines, fmt.Sprintf("[%s]: %s", entry.Key, entry.Content))
	}
	return strings.Join(lines, "\n"), nil
}

func getAllMemories(_ context.Context, mem Memory, _ GetAllMemoriesInput) (string, error) {
	return mem.FormatForPrompt(), nil
}
