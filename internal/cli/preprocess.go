package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"text/template"

	"github.com/jellyroller/jellyroller/internal/common/apperrors"
	"github.com/joho/godotenv"
	pkgerrors "github.com/pkg/errors"
	"sigs.k8s.io/yaml"
)

type TemplateContext struct {
	ENV map[string]string
}

var missingKeyRegex = regexp.MustCompile(`map has no entry for key "(.*?)"`)

// PreprocessInput replaces {{ .ENV.VAR }} placeholders with values from the
// environment or a .env file in dir. Process environment wins over .env.
func PreprocessInput(inputRaw []byte, dir string) ([]byte, error) {
	if !bytes.Contains(inputRaw, []byte("{{")) {
		return inputRaw, nil
	}

	envMap, err := godotenv.Read(filepath.Join(dir, ".env"))
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, pkgerrors.Wrap(err, "unable to read .env file")
		}
		envMap = map[string]string{}
	}
	for _, e := range os.Environ() {
		if k, v, ok := strings.Cut(e, "="); ok {
			envMap[k] = v
		}
	}

	tmpl, err := template.New("input").Option("missingkey=error").Parse(string(inputRaw))
	if err != nil {
		return nil, fmt.Errorf("template error: %w", err)
	}

	var output bytes.Buffer
	if err := tmpl.Execute(&output, TemplateContext{ENV: envMap}); err != nil {
		matches := missingKeyRegex.FindStringSubmatch(err.Error())
		if len(matches) == 2 {
			return nil, fmt.Errorf("missing environment variable: %s (set it in your shell or .env file)", matches[1])
		}
		return nil, fmt.Errorf("template error: %w", err)
	}
	return output.Bytes(), nil
}

// LoadInputDocument reads a JSON or YAML input document from filename, or from stdin
// when filename is "-", and returns it as JSON.
func LoadInputDocument(filename string, stdin io.Reader) ([]byte, error) {
	data, dir, err := readInput(filename, stdin)
	if err != nil {
		return nil, err
	}
	data, err = PreprocessInput(data, dir)
	if err != nil {
		return nil, &apperrors.UsageError{Msg: err.Error()}
	}
	if json.Valid(data) {
		return data, nil
	}

	// Remove stray tabs
	data = replaceTabsWithSpaces(data)
	jsonData, err := yaml.YAMLToJSON(data)
	if err != nil {
		return nil, &apperrors.UsageError{Msg: pkgerrors.Wrapf(err, "unable to parse %s as JSON or YAML", displayName(filename)).Error()}
	}
	if bytes.Equal(bytes.TrimSpace(jsonData), []byte("null")) {
		return nil, apperrors.Usagef("input document %s is empty", displayName(filename))
	}
	return jsonData, nil
}

// LoadInputBytes reads filename, or stdin for "-", without interpreting it.
func LoadInputBytes(filename string, stdin io.Reader) ([]byte, error) {
	data, _, err := readInput(filename, stdin)
	return data, err
}

func readInput(filename string, stdin io.Reader) ([]byte, string, error) {
	if filename == "-" {
		if stdin == nil {
			return nil, "", apperrors.Usagef("no standard input to read from")
		}
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, "", pkgerrors.Wrap(err, "failed to read standard input")
		}
		cwd, err := os.Getwd()
		if err != nil {
			cwd = "."
		}
		return data, cwd, nil
	}
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, "", &apperrors.UsageError{Msg: pkgerrors.Wrapf(err, "failed to read file").Error()}
	}
	return data, filepath.Dir(filename), nil
}

func displayName(filename string) string {
	if filename == "-" {
		return "standard input"
	}
	return filename
}

// replaceTabsWithSpaces replaces all tab characters with four spaces in a byte slice
func replaceTabsWithSpaces(b []byte) []byte {
	return bytes.ReplaceAll(b, []byte("\t"), []byte("    "))
}
