package builder

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

//go:embed runtimes.yaml
var runtimesYAML []byte

//go:embed dockerfile.tmpl
var dockerfileTmpl string

const (
	formatRequirements = "requirements"
	formatPackageJSON  = "package_json"

	noDependencies = "# No dependencies"
)

type EnvVar struct {
	Name  string `yaml:"name"`
	Value string `yaml:"value"`
}

// Recipe is how one runtime turns source plus a dependency manifest into an image.
type Recipe struct {
	BaseImage      string   `yaml:"base_image"`
	SourceFile     string   `yaml:"source_file"`
	Manifest       string   `yaml:"manifest"`
	ManifestFormat string   `yaml:"manifest_format"`
	Install        string   `yaml:"install"`
	Command        []string `yaml:"command"`
	Env            []EnvVar `yaml:"env"`
}

// Context is a rendered build context: the files to place next to the
// fetched source before the image build runs.
type Context struct {
	// SourceFile is where the fetched source must be written.
	SourceFile string
	Files      map[string]string
}

// Recipes is the catalog of build recipes keyed by runtime.
type Recipes struct {
	byRuntime map[string]Recipe
	tmpl      *template.Template
}

// LoadRecipes parses the embedded catalog.
func LoadRecipes() (*Recipes, error) {
	byRuntime := map[string]Recipe{}
	if err := yaml.Unmarshal(runtimesYAML, &byRuntime); err != nil {
		return nil, fmt.Errorf("parse runtimes.yaml: %w", err)
	}
	for rt, r := range byRuntime {
		if r.BaseImage == "" || r.SourceFile == "" || r.Manifest == "" || len(r.Command) == 0 {
			return nil, fmt.Errorf("runtime %s: incomplete recipe", rt)
		}
		if r.ManifestFormat != formatRequirements && r.ManifestFormat != formatPackageJSON {
			return nil, fmt.Errorf("runtime %s: unknown manifest format %q", rt, r.ManifestFormat)
		}
	}
	tmpl, err := template.New("Dockerfile").Parse(dockerfileTmpl)
	if err != nil {
		return nil, fmt.Errorf("parse dockerfile template: %w", err)
	}
	return &Recipes{byRuntime: byRuntime, tmpl: tmpl}, nil
}

// MustLoadRecipes is LoadRecipes for package-level wiring.
func MustLoadRecipes() *Recipes {
	r, err := LoadRecipes()
	if err != nil {
		panic(err)
	}
	return r
}

func (r *Recipes) Runtimes() []string {
	out := make([]string, 0, len(r.byRuntime))
	for rt := range r.byRuntime {
		out = append(out, rt)
	}
	sort.Strings(out)
	return out
}

func (r *Recipes) Recipe(runtime string) (Recipe, error) {
	rec, ok := r.byRuntime[runtime]
	if !ok {
		return Recipe{}, fmt.Errorf("%w: %s", ErrUnsupportedRuntime, runtime)
	}
	return rec, nil
}

// Render produces the Dockerfile and dependency manifest for runtime.
func (r *Recipes) Render(runtime, dependencies string) (*Context, error) {
	rec, err := r.Recipe(runtime)
	if err != nil {
		return nil, err
	}

	cmd, err := json.Marshal(rec.Command)
	if err != nil {
		return nil, fmt.Errorf("encode command: %w", err)
	}
	var df bytes.Buffer
	err = r.tmpl.Execute(&df, struct {
		Recipe
		Command string
	}{Recipe: rec, Command: string(cmd)})
	if err != nil {
		return nil, fmt.Errorf("render Dockerfile for %s: %w", runtime, err)
	}

	manifest, err := renderManifest(rec.ManifestFormat, dependencies)
	if err != nil {
		return nil, err
	}
	return &Context{
		SourceFile: rec.SourceFile,
		Files: map[string]string{
			"Dockerfile": df.String(),
			rec.Manifest: manifest,
		},
	}, nil
}

func renderManifest(format, dependencies string) (string, error) {
	if format == formatRequirements {
		if strings.TrimSpace(dependencies) == "" {
			return noDependencies, nil
		}
		return dependencies, nil
	}

	deps := map[string]string{}
	for _, line := range strings.Split(dependencies, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		name, version := splitRequirement(line)
		deps[name] = version
	}
	out, err := json.MarshalIndent(struct {
		Name         string            `json:"name"`
		Version      string            `json:"version"`
		Private      bool              `json:"private"`
		Dependencies map[string]string `json:"dependencies"`
	}{Name: "user-function", Version: "1.0.0", Private: true, Dependencies: deps}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("render package.json: %w", err)
	}
	return string(out) + "\n", nil
}

// splitRequirement accepts "name==1.2", "name@^1.2" and bare "name".
func splitRequirement(line string) (string, string) {
	if i := strings.Index(line, "=="); i > 0 {
		return strings.TrimSpace(line[:i]), strings.TrimSpace(line[i+2:])
	}
	if i := strings.LastIndex(line, "@"); i > 0 {
		return strings.TrimSpace(line[:i]), strings.TrimSpace(line[i+1:])
	}
	if i := strings.IndexAny(line, "<>=!~"); i > 0 {
		return strings.TrimSpace(line[:i]), strings.TrimSpace(line[i:])
	}
	return line, "*"
}
