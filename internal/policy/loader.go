package policy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
)

// LoadFile loads a policy document (JSON or HCL). The extension picks the
// format; anything else is tried as JSON, then HCL.
func LoadFile(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".hcl":
		return LoadHCL(data, path)
	case ".json":
		return LoadJSON(data)
	default:
		doc, err := LoadJSON(data)
		if err != nil {
			return LoadHCL(data, path)
		}
		return doc, nil
	}
}

// LoadJSON decodes a single policy object or a list of them.
func LoadJSON(data []byte) (Document, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty policy document")
	}

	if trimmed[0] == '[' {
		var doc Document
		if err := json.Unmarshal(trimmed, &doc); err != nil {
			return nil, fmt.Errorf("invalid policy JSON: %w", err)
		}
		return doc, nil
	}

	var p Policy
	if err := json.Unmarshal(trimmed, &p); err != nil {
		return nil, fmt.Errorf("invalid policy JSON: %w", err)
	}
	return Document{p}, nil
}

// LoadHCL decodes policy blocks:
//
//	policy "10.10.1.0/24" {
//	  ingress {
//	    port   = 80
//	    action = "allow"
//	  }
//	}
func LoadHCL(data []byte, filename string) (Document, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(data, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("HCL parse error: %s", diags.Error())
	}

	var body struct {
		Policies []Policy `hcl:"policy,block"`
	}
	if diags := gohcl.DecodeBody(file.Body, nil, &body); diags.HasErrors() {
		return nil, fmt.Errorf("HCL decode error: %s", diags.Error())
	}
	return Document(body.Policies), nil
}
