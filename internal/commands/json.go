// Package commands provides dot-path get/set/delete helpers for JSON
// files, backing the CLI's "inspect" subcommand. Its main target is
// internal/history's on-disk log, which is a JSON *array* of entries
// rather than a single object, so path segments can address array
// elements by index (including negative indices counting from the end,
// e.g. "-1.text" for the most recent entry's text) as well as object
// keys.
package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// JSONGet reads a value from a JSON file using a dot-notation path.
//
// Each path segment is resolved against the current value: an object
// key against a JSON object, or an integer (optionally negative, meaning
// "from the end") against a JSON array. The result is returned as
// pretty-printed JSON.
func JSONGet(filePath, keyPath string) (string, error) {
	filePath = expandTilde(filePath)

	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", filePath, err)
	}

	var root interface{}
	if err := json.Unmarshal(data, &root); err != nil {
		return "", fmt.Errorf("failed to parse %s as JSON: %w", filePath, err)
	}

	value := root
	for _, key := range splitPath(keyPath) {
		next, err := navigate(value, key)
		if err != nil {
			return "", fmt.Errorf("%w (path %q)", err, keyPath)
		}
		value = next
	}

	result, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to serialize value: %w", err)
	}

	return string(result), nil
}

// navigate resolves a single path segment against value, which must be a
// map[string]interface{} (object key) or []interface{} (array index,
// negative counts from the end).
func navigate(value interface{}, key string) (interface{}, error) {
	if idx, err := strconv.Atoi(key); err == nil {
		arr, ok := value.([]interface{})
		if !ok {
			return nil, fmt.Errorf("index '%s' used on a non-array value", key)
		}
		if idx < 0 {
			idx += len(arr)
		}
		if idx < 0 || idx >= len(arr) {
			return nil, fmt.Errorf("index %s out of range (length %d)", key, len(arr))
		}
		return arr[idx], nil
	}

	obj, ok := value.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("key '%s' not found", key)
	}
	next, ok := obj[key]
	if !ok {
		return nil, fmt.Errorf("key '%s' not found", key)
	}
	return next, nil
}

// JSONSet sets a value in a JSON file using a dot-notation path.
//
// The root must be a JSON object; intermediate object keys are created
// as needed, but the path may not descend into an array (history
// entries are appended by the orchestrator, not edited positionally).
// The new value is parsed as JSON first; if that fails, it's stored as
// a plain string.
func JSONSet(filePath, keyPath, newValue string) error {
	filePath = expandTilde(filePath)

	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", filePath, err)
	}

	var root map[string]interface{}
	if err := json.Unmarshal(data, &root); err != nil {
		return fmt.Errorf("failed to parse %s as JSON object: %w", filePath, err)
	}

	var parsedValue interface{}
	if err := json.Unmarshal([]byte(newValue), &parsedValue); err != nil {
		parsedValue = newValue
	}

	keys := splitPath(keyPath)
	if len(keys) == 0 {
		return fmt.Errorf("empty key path")
	}

	current := root
	for i, key := range keys[:len(keys)-1] {
		next, ok := current[key]
		if !ok {
			newObj := make(map[string]interface{})
			current[key] = newObj
			current = newObj
			continue
		}
		nextObj, ok := next.(map[string]interface{})
		if !ok {
			return fmt.Errorf("key '%s' at path index %d is not an object", key, i)
		}
		current = nextObj
	}

	current[keys[len(keys)-1]] = parsedValue

	result, err := json.MarshalIndent(root, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize JSON: %w", err)
	}
	if err := os.WriteFile(filePath, result, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", filePath, err)
	}
	return nil
}

// JSONDelete deletes a key from a JSON file using a dot-notation path.
// Like JSONSet, the root must be a JSON object.
func JSONDelete(filePath, keyPath string) error {
	filePath = expandTilde(filePath)

	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", filePath, err)
	}

	var root map[string]interface{}
	if err := json.Unmarshal(data, &root); err != nil {
		return fmt.Errorf("failed to parse %s as JSON object: %w", filePath, err)
	}

	keys := splitPath(keyPath)
	if len(keys) == 0 {
		return fmt.Errorf("empty key path")
	}

	current := root
	for _, key := range keys[:len(keys)-1] {
		next, ok := current[key]
		if !ok {
			return fmt.Errorf("key '%s' not found", key)
		}
		nextObj, ok := next.(map[string]interface{})
		if !ok {
			return fmt.Errorf("key '%s' is not an object", key)
		}
		current = nextObj
	}

	finalKey := keys[len(keys)-1]
	if _, ok := current[finalKey]; !ok {
		return fmt.Errorf("key '%s' not found", finalKey)
	}
	delete(current, finalKey)

	result, err := json.MarshalIndent(root, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize JSON: %w", err)
	}
	if err := os.WriteFile(filePath, result, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", filePath, err)
	}
	return nil
}

// splitPath splits a dot-notation path into segments, dropping empties
// so a leading/trailing/doubled "." is harmless.
func splitPath(keyPath string) []string {
	parts := strings.Split(keyPath, ".")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// expandTilde expands ~ to the user's home directory.
func expandTilde(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
