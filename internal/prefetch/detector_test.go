package prefetch

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHeuristicNeedsBrowser(t *testing.T) {
	t.Parallel()

	article := "<html><body>" + strings.Repeat("<p>Plain paragraph text served by the origin.</p>", 60) + "</body></html>"

	tests := []struct {
		name      string
		threshold int
		status    int
		body      string
		want      bool
	}{
		{name: "empty body", threshold: 100, status: http.StatusOK, body: "", want: true},
		{name: "next.js marker", threshold: 100, status: http.StatusOK, body: `<div id="__next"></div>`, want: true},
		{name: "angular marker", threshold: 100, status: http.StatusOK, body: `<app-root ng-version="17.0.0"></app-root>`, want: true},
		{name: "script dense", threshold: 1000, status: http.StatusOK, body: `<html><script>var a=1;</script><p>t</p></html>`, want: true},
		{name: "unclosed script", threshold: 1000, status: http.StatusOK, body: `<p>x</p><script>var a = 1; var b = 2;`, want: true},
		{name: "plain article", threshold: 2048, status: http.StatusOK, body: article, want: false},
		{name: "not judged for 404", threshold: 100, status: http.StatusNotFound, body: "not found", want: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, NewHeuristic(tc.threshold).NeedsBrowser(tc.status, []byte(tc.body)))
		})
	}
}

func TestNewHeuristicDefaultThreshold(t *testing.T) {
	t.Parallel()

	require.Equal(t, 2048, NewHeuristic(0).BodyLengthThreshold)
}
