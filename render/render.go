package render

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"os"
	"path/filepath"
	"text/template"
)

// Template is a template of the rendered file.
type Template struct {
	// Name is the name of the rendered file, relative to the target directory.
	Name string
	// Body is the Go template to be used to render the file.
	Body string
	// Data is the data to be used to render the file.
	Data interface{}
	// HTML makes the template contextually escaped with html/template.
	HTML bool
}

// File is the rendered file to be written to the filesystem.
type File struct {
	Path    string
	Content string
}

// ToDir render files from the templates and writes them to the given directory.
// It returns the list of the files written to the directory.
func ToDir(dir string, ts ...Template) ([]string, error) {
	var wrote []string

	for _, t := range ts {
		files, err := Execute(t)
		if err != nil {
			return nil, err
		}

		for _, f := range files {
			p := filepath.Join(dir, f.Path)
			d := filepath.Dir(p)

			if err := os.MkdirAll(d, 0755); err != nil {
				return nil, err
			}

			if err := os.WriteFile(p, []byte(f.Content), 0644); err != nil {
				return nil, err
			}

			wrote = append(wrote, f.Path)
		}
	}

	return wrote, nil
}

// Execute executes the given template and returns the files to be written to the filesystem.
func Execute(t Template) ([]File, error) {
	if t.Name == "" {
		return nil, fmt.Errorf("name must not be empty: config=%v", t)
	}

	if t.Body == "" {
		return nil, fmt.Errorf("body must not be empty: config=%v", t)
	}

	if t.Data == nil {
		return nil, fmt.Errorf("data must not be nil: config=%v", t)
	}

	var buf bytes.Buffer

	if t.HTML {
		m, err := htmltemplate.New(t.Name).Parse(t.Body)
		if err != nil {
			return nil, err
		}
		if err := m.Execute(&buf, t.Data); err != nil {
			return nil, err
		}
	} else {
		m, err := template.New(t.Name).Option("missingkey=error").Parse(t.Body)
		if err != nil {
			return nil, err
		}
		if err := m.Execute(&buf, t.Data); err != nil {
			return nil, err
		}
	}

	return []File{
		{
			Path:    t.Name,
			Content: buf.String(),
		},
	}, nil
}
