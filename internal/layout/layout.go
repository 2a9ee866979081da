// Package layout locates the detector model inside the Android project tree.
package layout

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	EnvProjectRoot = "MANGAQUANT_PROJECT_ROOT"

	InputName  = "comictextdetector.pt.onnx"
	OutputName = "comictextdetector_quantized.onnx"

	ReleasesURL = "https://github.com/zyddnys/manga-image-translator/releases"
)

// modelsSubdir is where the app loads bundled models from.
var modelsSubdir = filepath.Join("app", "src", "main", "assets", "models")

// Layout holds the resolved paths for one run.
type Layout struct {
	Root      string
	ModelsDir string
	Input     string
	Output    string
}

// ResolveRoot picks the project root: the flag, then MANGAQUANT_PROJECT_ROOT,
// then the working directory. The result is absolute.
func ResolveRoot(flag string) (string, error) {
	root := strings.TrimSpace(flag)
	if root == "" {
		root = strings.TrimSpace(os.Getenv(EnvProjectRoot))
	}
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("resolve project root: %w", err)
		}
		root = wd
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve project root: %w", err)
	}
	return abs, nil
}

// New returns the default layout under root.
func New(root string) Layout {
	models := filepath.Join(root, modelsSubdir)
	return Layout{
		Root:      root,
		ModelsDir: models,
		Input:     filepath.Join(models, InputName),
		Output:    filepath.Join(models, OutputName),
	}
}

// WithInput overrides the input path. Relative paths are taken from the root.
func (l Layout) WithInput(path string) Layout {
	if p := l.resolve(path); p != "" {
		l.Input = p
	}
	return l
}

// WithOutput overrides the output path. Relative paths are taken from the root.
func (l Layout) WithOutput(path string) Layout {
	if p := l.resolve(path); p != "" {
		l.Output = p
	}
	return l
}

func (l Layout) resolve(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return ""
	}
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(l.Root, path)
}

// Remediation is the text shown when the input model is missing.
func (l Layout) Remediation() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Input model not found: %s\n", l.Input)
	b.WriteString("\nPlease download the model first:\n")
	fmt.Fprintf(&b, "1. Go to: %s\n", ReleasesURL)
	fmt.Fprintf(&b, "2. Download: %s\n", filepath.Base(l.Input))
	fmt.Fprintf(&b, "3. Place it in: %s\n", filepath.Dir(l.Input))
	return b.String()
}
