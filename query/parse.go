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

package query

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/poiesic/ragjobs/core"
)

// parseRanking reads a comma separated list of extract indices. Tokens that
// are not numbers, fall outside [0, n) or repeat an earlier index are dropped.
func parseRanking(reply string, n int) []int {
	seen := make(map[int]bool, n)
	order := make([]int, 0, n)
	for _, token := range strings.FieldsFunc(reply, func(r rune) bool {
		return r == ',' || r == '\n' || r == ';'
	}) {
		token = strings.Trim(strings.TrimSpace(token), "[]().")
		idx, err := strconv.Atoi(token)
		if err != nil || idx < 0 || idx >= n || seen[idx] {
			continue
		}
		seen[idx] = true
		order = append(order, idx)
	}
	return order
}

// pageList accepts pages as numbers, numeric strings or one comma separated string.
type pageList []int

func (p *pageList) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var out []int
	var add func(v any)
	add = func(v any) {
		switch t := v.(type) {
		case float64:
			out = append(out, int(t))
		case string:
			for _, part := range strings.Split(t, ",") {
				if n, err := strconv.Atoi(strings.TrimSpace(part)); err == nil {
					out = append(out, n)
				}
			}
		case []any:
			for _, item := range t {
				add(item)
			}
		}
	}
	add(raw)
	if out == nil {
		out = []int{}
	}
	*p = out
	return nil
}

type answerPayload struct {
	Answer  *string `json:"answer"`
	Sources []struct {
		Filename string   `json:"filename"`
		Section  string   `json:"section"`
		Pages    pageList `json:"pages"`
	} `json:"sources"`
}

var errNoJSONObject = errors.New("no JSON object in reply")

// parseAnswer extracts the JSON answer from a model reply. Code fences and
// surrounding prose are ignored and unquoted keys are repaired.
func parseAnswer(reply string) (core.Answer, error) {
	body := stripFences(reply)
	start := strings.Index(body, "{")
	end := strings.LastIndex(body, "}")
	if start < 0 || end < start {
		return core.Answer{}, errNoJSONObject
	}
	body = body[start : end+1]

	var payload answerPayload
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		if rerr := json.Unmarshal([]byte(repairJSON(body)), &payload); rerr != nil {
			return core.Answer{}, fmt.Errorf("decoding answer: %w", err)
		}
	}
	if payload.Answer == nil {
		return core.Answer{}, errors.New("answer field missing")
	}

	answer := core.Answer{Answer: strings.TrimSpace(*payload.Answer), Sources: make([]core.Source, 0, len(payload.Sources))}
	for _, s := range payload.Sources {
		pages := []int(s.Pages)
		if pages == nil {
			pages = []int{}
		}
		answer.Sources = append(answer.Sources, core.Source{Filename: s.Filename, Section: s.Section, Pages: pages})
	}
	return answer, nil
}

// stripFences removes a surrounding markdown code fence and its language tag.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	if end := strings.LastIndex(s, "```"); end >= 0 {
		s = s[:end]
	}
	return strings.TrimSpace(s)
}

// repairJSON fixes the two slips models make most often in otherwise valid
// JSON: a dropped opening quote before an object key, turning
// `{answer": ...` into `{"answer": ...`, and a trailing comma before a
// closing brace or bracket. String contents are copied untouched.
func repairJSON(s string) string {
	src := []rune(s)
	fixed := make([]rune, 0, len(src)+16)

	inString := false
	i := 0
	for i < len(src) {
		ch := src[i]
		i++
		if inString {
			fixed = append(fixed, ch)
			switch ch {
			case '\\':
				if i < len(src) {
					fixed = append(fixed, src[i])
					i++
				}
			case '"':
				inString = false
			}
			continue
		}

		switch ch {
		case '"':
			inString = true
			fixed = append(fixed, ch)
			continue
		case ',':
			j := skipSpace(src, i)
			if j < len(src) && (src[j] == '}' || src[j] == ']') {
				continue
			}
		case '{':
		default:
			fixed = append(fixed, ch)
			continue
		}
		fixed = append(fixed, ch)

		j := skipSpace(src, i)
		fixed = append(fixed, src[i:j]...)
		i = j
		if i >= len(src) || !isLetter(src[i]) {
			continue
		}
		keyStart := i
		for i < len(src) && (isLetter(src[i]) || isDigit(src[i]) || src[i] == '_') {
			i++
		}
		if i+1 < len(src) && src[i] == '"' && src[i+1] == ':' {
			fixed = append(fixed, '"')
			fixed = append(fixed, src[keyStart:i+1]...)
			i++
			continue
		}
		fixed = append(fixed, src[keyStart:i]...)
	}
	return string(fixed)
}

func skipSpace(src []rune, i int) int {
	for i < len(src) && (src[i] == ' ' || src[i] == '\n' || src[i] == '\t' || src[i] == '\r') {
		i++
	}
	return i
}

func isLetter(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}
