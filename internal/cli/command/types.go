package command

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// FieldType describes input type.
type FieldType int

const (
	FieldString FieldType = iota
	FieldInt
	FieldJSON
	FieldFile
)

// fileMarker stands in for a value that will be read from the matching *_file param.
const fileMarker = "_file_"

// Field defines a CLI input field.
type Field struct {
	Name     string
	Aliases  []string
	Prompt   string
	Type     FieldType
	Required bool
	// FileParam names the param whose file content can replace this field.
	FileParam string
}

// Command defines a CLI command binding.
type Command struct {
	Service      string
	Action       string
	Method       string
	PathTemplate string
	Usage        string
	Fields       []Field
}

// Key returns the registry key "service action".
func (c Command) Key() string {
	return c.Service + " " + c.Action
}

// RequestSpec is the built HTTP request.
type RequestSpec struct {
	Method  string
	Path    string
	Headers map[string]string
	Body    []byte
}

// Params holds parsed input params.
type Params map[string]string

func (p Params) Get(key string) string {
	return p[strings.ToLower(key)]
}

func (p Params) Set(key, value string) {
	p[strings.ToLower(key)] = value
}

func (p Params) Has(key string) bool {
	_, ok := p[strings.ToLower(key)]
	return ok
}

func (p Params) Canonicalize(fields []Field) {
	for _, field := range fields {
		for _, alias := range field.Aliases {
			aliasKey := strings.ToLower(alias)
			if value, ok := p[aliasKey]; ok {
				p[strings.ToLower(field.Name)] = value
				delete(p, aliasKey)
			}
		}
	}
}

// ParseArgs turns key=value tokens into params.
func ParseArgs(tokens []string) (Params, error) {
	params := Params{}
	for _, token := range tokens {
		parts := strings.SplitN(token, "=", 2)
		if len(parts) != 2 || parts[0] == "" {
			return nil, fmt.Errorf("invalid param: %s", token)
		}
		params.Set(parts[0], parts[1])
	}
	return params, nil
}

// ApplyFileShortcuts marks fields that will be filled from their file param,
// so they are not prompted for.
func ApplyFileShortcuts(cmd Command, params Params) {
	params.Canonicalize(cmd.Fields)
	for _, field := range cmd.Fields {
		if field.FileParam == "" {
			continue
		}
		if params.Get(field.FileParam) != "" && params.Get(field.Name) == "" {
			params.Set(field.Name, fileMarker)
		}
	}
}

// MissingFields lists required fields that have neither a value nor a file.
func MissingFields(cmd Command, params Params) []Field {
	var missing []Field
	for _, field := range cmd.Fields {
		if !field.Required {
			continue
		}
		if params.Get(field.Name) != "" {
			continue
		}
		missing = append(missing, field)
	}
	return missing
}

func ParseInt(value string) (int, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 32)
	return int(n), err
}

func ReadFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read file failed: %w", err)
	}
	return string(data), nil
}

func ParseJSON(value string) (json.RawMessage, error) {
	raw := strings.TrimSpace(value)
	if !json.Valid([]byte(raw)) {
		return nil, fmt.Errorf("invalid json content")
	}
	return json.RawMessage(raw), nil
}

// valueOrFile returns the field value, reading the file param when the value is
// empty or the file marker.
func valueOrFile(params Params, key, fileKey string) (string, error) {
	value := params.Get(key)
	if (value == "" || value == fileMarker) && fileKey != "" && params.Get(fileKey) != "" {
		return ReadFile(params.Get(fileKey))
	}
	if value == fileMarker {
		return "", nil
	}
	return value, nil
}
