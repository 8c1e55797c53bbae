package storyboard

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/omnicomni/storyreel/internal/models"
)

var (
	fencePattern         = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")
	trailingCommaPattern = regexp.MustCompile(`,\s*([}\]])`)
	adjacentPattern      = regexp.MustCompile(`\}\s*\{`)
)

// RepairJSON turns raw model output into a parseable JSON array. Language
// models wrap JSON in prose and markdown fences, emit several arrays, butt
// objects together without commas, and leave trailing commas; each defect
// gets a mechanical repair. Bare objects outside any array are collected
// and wrapped into one.
func RepairJSON(raw string) (string, error) {
	text := stripFences(raw)

	// A valid wrapper object such as {"scenes": [...]} carries the
	// scene array in a field; pull it out before the mechanical
	// extraction merges every array in sight.
	if arr, ok := sceneArrayFromWrapper(text); ok {
		return arr, nil
	}

	arrays := extractArrays(text, '[', ']')
	if len(arrays) == 0 {
		// No array at all: fall back to bare top-level objects.
		arrays = extractArrays(text, '{', '}')
		if len(arrays) == 0 {
			return "", fmt.Errorf("no JSON array or objects found in model output")
		}
		text = "[" + strings.Join(arrays, ",") + "]"
	} else {
		text = mergeArrays(arrays)
	}

	// "}{"  →  "},{" and trailing ",]" / ",}" removal
	text = adjacentPattern.ReplaceAllString(text, "},{")
	text = trailingCommaPattern.ReplaceAllString(text, "$1")

	if !gjson.Valid(text) {
		return "", fmt.Errorf("model output is not valid JSON after repair")
	}
	return text, nil
}

// ParseWithRepair extracts a validated scene list from raw model output.
func ParseWithRepair(raw string) ([]models.Scene, error) {
	text, err := RepairJSON(raw)
	if err != nil {
		return nil, err
	}

	var scenes []models.Scene
	if err := json.Unmarshal([]byte(text), &scenes); err != nil {
		return nil, fmt.Errorf("failed to decode scenes: %w", err)
	}

	for i := range scenes {
		if err := scenes[i].Validate(); err != nil {
			return nil, fmt.Errorf("scene %d invalid: %w", scenes[i].SceneID, err)
		}
	}
	return scenes, nil
}

// sceneArrayFromWrapper extracts the scene array from a valid top-level
// wrapper object. The "scenes" field wins; otherwise the first field
// holding an array of objects is taken, so sibling metadata arrays like
// "tags" never leak into the result.
func sceneArrayFromWrapper(text string) (string, bool) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "{") || !gjson.Valid(trimmed) {
		return "", false
	}

	root := gjson.Parse(trimmed)
	if scenes := root.Get("scenes"); scenes.IsArray() {
		return scenes.Raw, true
	}

	var found string
	root.ForEach(func(_, value gjson.Result) bool {
		if value.IsArray() {
			if elems := value.Array(); len(elems) > 0 && elems[0].IsObject() {
				found = value.Raw
				return false
			}
		}
		return true
	})
	return found, found != ""
}

// stripFences removes markdown code fences, keeping the fenced content.
func stripFences(text string) string {
	if m := fencePattern.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	return text
}

// extractArrays bracket-matches every top-level open...close block in the
// text, ignoring brackets inside string literals.
func extractArrays(text string, open, close rune) []string {
	var blocks []string
	depth := 0
	start := -1
	inString := false
	escaped := false

	for i, r := range text {
		if escaped {
			escaped = false
			continue
		}
		switch {
		case r == '\\':
			if inString {
				escaped = true
			}
		case r == '"':
			inString = !inString
		case r == open && !inString:
			if depth == 0 {
				start = i
			}
			depth++
		case r == close && !inString && depth > 0:
			depth--
			if depth == 0 && start >= 0 {
				blocks = append(blocks, text[start:i+1])
				start = -1
			}
		}
	}
	return blocks
}

// mergeArrays joins the elements of several arrays into a single array.
// Models sometimes answer with one array per scene batch.
func mergeArrays(arrays []string) string {
	if len(arrays) == 1 {
		return arrays[0]
	}

	var inner []string
	for _, a := range arrays {
		body := strings.TrimSpace(a)
		body = strings.TrimPrefix(body, "[")
		body = strings.TrimSuffix(body, "]")
		body = strings.TrimSpace(body)
		if body != "" {
			inner = append(inner, body)
		}
	}
	return "[" + strings.Join(inner, ",") + "]"
}
