package detector

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/canvaspal/internal/assignment"
)

var testSelectors = []string{"div.todo-list li.todo", `a[href*="/assignments/"]`}

func TestHeuristic_ShouldPromote_EmptyBody(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(25, testSelectors...)
	resp := assignment.FetchResponse{
		StatusCode: 200,
		Body:       []byte(""),
	}
	require.True(t, h.ShouldPromote(resp))
}

func TestHeuristic_ShouldPromote_PlannerShell(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(25, testSelectors...)
	resp := assignment.FetchResponse{
		StatusCode: 200,
		Body:       []byte(`<html><body><div id="dashboard-planner"></div></body></html>`),
	}
	require.True(t, h.ShouldPromote(resp))
}

func TestHeuristic_ShouldPromote_KnownSelectorsWin(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(25, testSelectors...)
	resp := assignment.FetchResponse{
		StatusCode: 200,
		Body: []byte(`<html><body><div id="dashboard-planner"></div>
<div class="todo-list"><ul><li class="todo"><a href="/courses/1/assignments/2">Essay</a></li></ul></div>
</body></html>`),
	}
	require.False(t, h.ShouldPromote(resp))
}

func TestHeuristic_ShouldPromote_ScriptDensity(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(25)
	resp := assignment.FetchResponse{
		StatusCode: 200,
		Body:       []byte(`<html><script>var a=1;</script><p>t</p></html>`),
	}
	require.True(t, h.ShouldPromote(resp))

	strict := NewHeuristic(95)
	require.False(t, strict.ShouldPromote(resp))
}

func TestHeuristic_ShouldPromote_PlainPage(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(0, testSelectors...)
	require.Equal(t, 25, h.ScriptPercent)
	resp := assignment.FetchResponse{
		StatusCode: 200,
		Body:       []byte(`<html><body><p>Nothing due. Enjoy the weekend.</p></body></html>`),
	}
	require.False(t, h.ShouldPromote(resp))
}

func TestHeuristic_ShouldPromote_DisabledForNon200(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(25)
	resp := assignment.FetchResponse{
		StatusCode: 404,
		Body:       []byte("not found"),
	}
	require.False(t, h.ShouldPromote(resp))
}
