package persona

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const (
	FileName = "PERSONA.md"
	Default  = "You are Helix, a genomics research assistant.\n\nBehavior guidelines:\n- Answer questions about genes, variants, genomes and molecular biology precisely, and say when evidence is uncertain.\n- When web content is provided, ground your answer in it and cite the page URLs you relied on.\n- When a document is provided, prefer its contents over general knowledge and point to the relevant section.\n- Use Markdown with headings and bullet points; use LaTeX for formulas.\n- Never give medical diagnoses; suggest consulting a clinician or genetic counselor for personal results."
)

// Load returns the persona text. An explicit path must exist; otherwise
// PERSONA.md is searched for from the working directory upwards and Default
// is used when none is found.
func Load(path string) (string, error) {
	if path != "" {
		return readFile(path)
	}
	text, err := ReadFromDisk()
	if errors.Is(err, fs.ErrNotExist) || (err == nil && text == "") {
		return Default, nil
	}
	if err != nil {
		return "", err
	}
	return text, nil
}

func ReadFromDisk() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	path, err := findInParents(cwd, FileName)
	if err != nil {
		return "", err
	}
	return readFile(path)
}

// SystemPrompt combines the persona with an optional document context.
func SystemPrompt(persona, documentContext string) string {
	persona = strings.TrimSpace(persona)
	if persona == "" {
		persona = Default
	}
	documentContext = strings.TrimSpace(documentContext)
	if documentContext == "" {
		return persona
	}
	return persona + "\n\nDocument context provided by the user:\n" + documentContext
}

func readFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read persona: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func findInParents(startDir string, filename string) (string, error) {
	dir := startDir
	for {
		candidate := filepath.Join(dir, filename)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", os.ErrNotExist
		}
		dir = parent
	}
}
