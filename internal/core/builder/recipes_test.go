package builder

import (
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderDockerfiles(t *testing.T) {
	recipes, err := LoadRecipes()
	require.NoError(t, err)
	assert.Equal(t, []string{"node18", "python3.10", "python3.11"}, recipes.Runtimes())

	g := goldie.New(t)
	for _, rt := range recipes.Runtimes() {
		t.Run(rt, func(t *testing.T) {
			bctx, err := recipes.Render(rt, "")
			require.NoError(t, err)
			g.Assert(t, rt+".Dockerfile", []byte(bctx.Files["Dockerfile"]))
		})
	}
}

func TestRenderRequirements(t *testing.T) {
	recipes := MustLoadRecipes()

	bctx, err := recipes.Render("python3.10", "")
	require.NoError(t, err)
	assert.Equal(t, "# No dependencies", bctx.Files["requirements.txt"])
	assert.Equal(t, "function.py", bctx.SourceFile)

	bctx, err = recipes.Render("python3.10", "numpy==1.26.0\npandas")
	require.NoError(t, err)
	assert.Equal(t, "numpy==1.26.0\npandas", bctx.Files["requirements.txt"])
}

func TestRenderPackageJSON(t *testing.T) {
	bctx, err := MustLoadRecipes().Render("node18", "express==4.18.2\n# pinned\nleft-pad@^1.3.0\nlodash\n")
	require.NoError(t, err)
	assert.Equal(t, "function.js", bctx.SourceFile)
	assert.NotContains(t, bctx.Files, "requirements.txt")
	goldie.New(t).Assert(t, "node18.package.json", []byte(bctx.Files["package.json"]))
}

func TestRenderUnsupported(t *testing.T) {
	_, err := MustLoadRecipes().Render("go1.22", "")
	assert.ErrorIs(t, err, ErrUnsupportedRuntime)
}
