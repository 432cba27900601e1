package command

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"judgecore/internal/judge/model"
)

const apiPrefix = "/api/v1/judge"

// Registry returns all CLI commands keyed by "service action".
func Registry() map[string]Command {
	commands := []Command{
		{
			Service:      "judge",
			Action:       "evaluate",
			Method:       http.MethodPost,
			PathTemplate: apiPrefix + "/evaluate",
			Usage:        "judge evaluate language=cpp source_file=./main.cpp tests_file=./tests.json [early_exit=stop_on_first_failure]",
			Fields: []Field{
				{Name: "language", Aliases: []string{"lang"}, Prompt: "language", Type: FieldString, Required: true},
				{Name: "source_code", Aliases: []string{"code"}, Prompt: "source_code", Type: FieldString, Required: true, FileParam: "source_file"},
				{Name: "source_file", Type: FieldFile},
				{Name: "tests_json", Aliases: []string{"tests"}, Prompt: "tests_json", Type: FieldJSON, Required: true, FileParam: "tests_file"},
				{Name: "tests_file", Type: FieldFile},
				{Name: "early_exit", Aliases: []string{"policy"}, Type: FieldString},
			},
		},
		{
			Service:      "judge",
			Action:       "run",
			Method:       http.MethodPost,
			PathTemplate: apiPrefix + "/run",
			Usage:        "judge run language=python source_file=./main.py [stdin=\"1 2\" | stdin_file=./in.txt]",
			Fields: []Field{
				{Name: "language", Aliases: []string{"lang"}, Prompt: "language", Type: FieldString, Required: true},
				{Name: "source_code", Aliases: []string{"code"}, Prompt: "source_code", Type: FieldString, Required: true, FileParam: "source_file"},
				{Name: "source_file", Type: FieldFile},
				{Name: "stdin", Aliases: []string{"input"}, Type: FieldString, FileParam: "stdin_file"},
				{Name: "stdin_file", Type: FieldFile},
			},
		},
		{
			Service:      "judge",
			Action:       "status",
			Method:       http.MethodGet,
			PathTemplate: apiPrefix + "/submissions/:id",
			Usage:        "judge status id=<submission_id>",
			Fields: []Field{
				{Name: "id", Aliases: []string{"submission_id"}, Prompt: "submission_id", Type: FieldString, Required: true},
			},
		},
		{
			Service:      "judge",
			Action:       "report",
			Method:       http.MethodGet,
			PathTemplate: apiPrefix + "/submissions/:id/report",
			Usage:        "judge report id=<submission_id>",
			Fields: []Field{
				{Name: "id", Aliases: []string{"submission_id"}, Prompt: "submission_id", Type: FieldString, Required: true},
			},
		},
		{
			Service:      "judge",
			Action:       "languages",
			Method:       http.MethodGet,
			PathTemplate: apiPrefix + "/languages",
			Usage:        "judge languages",
		},
		{
			Service:      "judge",
			Action:       "stats",
			Method:       http.MethodGet,
			PathTemplate: apiPrefix + "/stats",
			Usage:        "judge stats",
		},
	}

	result := make(map[string]Command, len(commands))
	for _, cmd := range commands {
		result[cmd.Key()] = cmd
	}
	return result
}

// Usages returns the usage line of every command, sorted.
func Usages(commands map[string]Command) []string {
	lines := make([]string, 0, len(commands))
	for _, cmd := range commands {
		lines = append(lines, cmd.Usage)
	}
	sort.Strings(lines)
	return lines
}

// BuildRequest creates HTTP request spec based on command.
func BuildRequest(cmd Command, params Params) (RequestSpec, error) {
	params.Canonicalize(cmd.Fields)
	path, err := buildPath(cmd.PathTemplate, params)
	if err != nil {
		return RequestSpec{}, err
	}

	headers := map[string]string{}
	var body []byte
	if cmd.Method != http.MethodGet && cmd.Method != http.MethodDelete {
		payload, err := buildPayload(cmd, params)
		if err != nil {
			return RequestSpec{}, err
		}
		if payload != nil {
			body, err = json.Marshal(payload)
			if err != nil {
				return RequestSpec{}, fmt.Errorf("marshal request body failed: %w", err)
			}
			headers["Content-Type"] = "application/json"
		}
	}

	return RequestSpec{
		Method:  cmd.Method,
		Path:    path,
		Headers: headers,
		Body:    body,
	}, nil
}

func buildPath(template string, params Params) (string, error) {
	path := template
	placeholder := ":id"
	if strings.Contains(path, placeholder) {
		value := strings.TrimSpace(params.Get("id"))
		if value == "" {
			return "", fmt.Errorf("missing path parameter: id")
		}
		if strings.ContainsAny(value, "/?#") {
			return "", fmt.Errorf("invalid path parameter: id")
		}
		path = strings.ReplaceAll(path, placeholder, value)
	}
	return path, nil
}

func buildPayload(cmd Command, params Params) (interface{}, error) {
	if cmd.Service != "judge" {
		return nil, nil
	}
	switch cmd.Action {
	case "evaluate":
		return buildEvaluatePayload(params)
	case "run":
		return buildRunPayload(params)
	}
	return nil, nil
}

func buildEvaluatePayload(params Params) (interface{}, error) {
	sourceCode, err := sourceFrom(params)
	if err != nil {
		return nil, err
	}
	testsRaw, err := valueOrFile(params, "tests_json", "tests_file")
	if err != nil {
		return nil, err
	}
	tests, err := ParseTestCases(testsRaw)
	if err != nil {
		return nil, err
	}
	payload := map[string]interface{}{
		"language":    params.Get("language"),
		"source_code": sourceCode,
		"test_cases":  tests,
	}
	if policy := strings.TrimSpace(params.Get("early_exit")); policy != "" {
		payload["early_exit"] = policy
	}
	return payload, nil
}

func buildRunPayload(params Params) (interface{}, error) {
	sourceCode, err := sourceFrom(params)
	if err != nil {
		return nil, err
	}
	stdin, err := valueOrFile(params, "stdin", "stdin_file")
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"language":    params.Get("language"),
		"source_code": sourceCode,
		"stdin":       stdin,
	}, nil
}

func sourceFrom(params Params) (string, error) {
	if strings.TrimSpace(params.Get("language")) == "" {
		return "", fmt.Errorf("language is required")
	}
	sourceCode, err := valueOrFile(params, "source_code", "source_file")
	if err != nil {
		return "", err
	}
	if sourceCode == "" {
		return "", fmt.Errorf("source_code is required")
	}
	return sourceCode, nil
}

// ParseTestCases accepts either a JSON array of test cases or a test pack
// object carrying them under "tests".
func ParseTestCases(raw string) ([]model.TestCase, error) {
	data, err := ParseJSON(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid tests_json: %w", err)
	}
	var tests []model.TestCase
	if strings.HasPrefix(strings.TrimSpace(string(data)), "{") {
		var pack model.TestPack
		if err := json.Unmarshal(data, &pack); err != nil {
			return nil, fmt.Errorf("invalid test pack: %w", err)
		}
		tests = pack.Tests
	} else if err := json.Unmarshal(data, &tests); err != nil {
		return nil, fmt.Errorf("invalid tests_json: %w", err)
	}
	if len(tests) == 0 {
		return nil, fmt.Errorf("at least one test case is required")
	}
	return tests, nil
}
