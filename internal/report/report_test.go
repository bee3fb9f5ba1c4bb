package report

import (
	"bytes"
	"encoding/json"
	"go/token"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/715d/reachable/internal/rta"
	"github.com/715d/reachable/pkg/descriptor"
	"github.com/715d/reachable/pkg/gotypes"
)

func ref(owner, name string) descriptor.MethodRef {
	return descriptor.MethodRef{Owner: descriptor.TypeRef(owner), Name: name, Sig: "()"}
}

func TestFromProgram(t *testing.T) {
	used := ref("example.com/app", "main")
	helper := ref("example.com/app", "helper")
	api := ref("example.com/app/internal/db.Conn", "Close")
	closure := ref("example.com/app", "main$1")
	prog := &gotypes.Program{Sources: map[descriptor.MethodRef]gotypes.Source{
		used:    {Name: "main", Package: "example.com/app"},
		helper:  {Name: "helper", Package: "example.com/app", Position: token.Position{Filename: "app.go", Line: 9, Column: 6}},
		api:     {Name: "Conn.Close", Package: "example.com/app/internal/db", Position: token.Position{Filename: "db.go", Line: 3, Column: 1}},
		closure: {Name: "main$1", Package: "example.com/app", Synthetic: true},
	}}
	res := &rta.Result{
		Model:     "example.com/app",
		Reachable: []descriptor.MethodRef{used},
		Dead:      []descriptor.MethodRef{api, closure, helper},
	}

	r := FromProgram(res, prog, false, "run-1", time.Second)
	require.Len(t, r.Dead, 2)
	require.Equal(t, "helper", r.Dead[0].Name)
	require.Equal(t, "unexported and unreachable", r.Dead[0].Reason)
	require.Equal(t, "Conn.Close", r.Dead[1].Name)
	require.Equal(t, "exported in internal and unreachable", r.Dead[1].Reason)
	require.Equal(t, 4, r.Stats.TotalMethods)
	require.Equal(t, 2, r.Stats.DeadMethods)

	var buf bytes.Buffer
	require.NoError(t, WriteText(&buf, r, false))
	require.Equal(t, "app.go:9:6 helper\ndb.go:3:1 Conn.Close\n", buf.String())

	buf.Reset()
	require.NoError(t, WriteText(&buf, r, true))
	require.Contains(t, buf.String(), "\nexample.com/app/internal/db:\n  db.go:3:1 Conn.Close (exported in internal and unreachable)\n")
}

func TestFromModel(t *testing.T) {
	res := &rta.Result{
		Model: "zoo",
		Dead:  []descriptor.MethodRef{ref("Puppy", "speak"), ref("Cat", "speak")},
	}
	r := FromModel(res, "", 0)
	require.Equal(t, "Cat.speak()", r.Dead[0].Name)
	require.Equal(t, "Puppy.speak()", r.Dead[1].Name)

	var buf bytes.Buffer
	require.NoError(t, WriteText(&buf, r, false))
	require.Equal(t, "Cat.speak()\nPuppy.speak()\n", buf.String())
}

func TestWriteJSON(t *testing.T) {
	res := &rta.Result{Model: "zoo", Dead: []descriptor.MethodRef{ref("Cat", "speak")}}
	r := FromModel(res, "run-2", 0)

	var buf bytes.Buffer
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, WriteJSON(&buf, r, "v1.0.0", now))

	var got struct {
		Model     string `json:"model"`
		RunID     string `json:"run_id"`
		Version   string `json:"version"`
		Timestamp string `json:"timestamp"`
		Dead      []struct {
			Name   string `json:"name"`
			Ref    string `json:"ref"`
			Reason string `json:"reason"`
		} `json:"dead"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	require.Equal(t, "zoo", got.Model)
	require.Equal(t, "run-2", got.RunID)
	require.Equal(t, "v1.0.0", got.Version)
	require.Equal(t, "2025-01-02T03:04:05Z", got.Timestamp)
	require.Len(t, got.Dead, 1)
	require.Equal(t, "Cat.speak()", got.Dead[0].Ref)
	require.Equal(t, "unreachable", got.Dead[0].Reason)
}
