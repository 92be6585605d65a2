// Copyright 2025 Poiesic Systems
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


package openai

import (
	"encoding/json"
	"errors"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
)

var (
	jsonObjectPattern    = regexp.MustCompile(`(?s)\{.*\}`)
	unquotedKeyPattern   = regexp.MustCompile(`([{,]\s*)([A-Za-z_][A-Za-z0-9_]*)"\s*:`)
	trailingCommaPattern = regexp.MustCompile(`,(\s*[}\]])`)
)

var errNoJSONObject = errors.New("no JSON object in model output")

// unquoteOutput unwraps model output that was returned as one JSON string literal,
// e.g. "{\"tags\": [...]}". Output that is not a valid literal is returned unchanged.
func unquoteOutput(s string, logger *slog.Logger) string {
	s = strings.TrimSpace(s)
	if len(s) < 2 || !strings.HasPrefix(s, `"`) || !strings.HasSuffix(s, `"`) {
		return s
	}
	logger.Warn("detected double-quoted model output, unescaping")
	unquoted, err := strconv.Unquote(s)
	if err != nil {
		return s
	}
	return strings.TrimSpace(unquoted)
}

// extractJSONObject returns the outermost {...} span, dropping code fences and chatter.
func extractJSONObject(s string) string {
	return jsonObjectPattern.FindString(s)
}

// repairJSON fixes the malformations models commonly produce in otherwise valid objects:
// keys missing their opening quote (`, tags":`) and trailing commas before a closing bracket.
func repairJSON(s string) string {
	s = unquotedKeyPattern.ReplaceAllString(s, `$1"$2":`)
	return trailingCommaPattern.ReplaceAllString(s, "$1")
}

// decodeModelJSON decodes the JSON object in raw into dst, unquoting and repairing as needed.
func decodeModelJSON(raw string, dst any, logger *slog.Logger) error {
	object := extractJSONObject(unquoteOutput(raw, logger))
	if object == "" {
		return errNoJSONObject
	}
	err := json.Unmarshal([]byte(object), dst)
	if err == nil {
		return nil
	}
	repaired := repairJSON(object)
	if repaired == object {
		return err
	}
	logger.Debug("repairing malformed model JSON", "err", err)
	return json.Unmarshal([]byte(repaired), dst)
}

// unwrapEmbeddedSummary handles models that put the whole response object inside the summary field.
// It returns the inner summary and tags, or ok=false when text is an ordinary summary.
func unwrapEmbeddedSummary(text string, logger *slog.Logger) (summary string, tags []string, ok bool) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "{") || !strings.Contains(trimmed, `"tags"`) {
		return "", nil, false
	}
	logger.Warn("detected embedded JSON inside summary, unwrapping")
	var inner summaryResponse
	if err := decodeModelJSON(trimmed, &inner, logger); err != nil {
		logger.Error("failed to unwrap embedded summary JSON", "err", err)
		return "", nil, false
	}
	return inner.text(), inner.Tags, true
}
