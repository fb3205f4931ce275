package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/banshee-data/centerout/internal/testutil"
)

func TestTrajectoryChart(t *testing.T) {
	s := NewServer(newFakeTask(), nil, nil)
	w := serve(s, testutil.NewTestRequest(http.MethodGet, "/charts/trajectory"))

	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	assert.Equal(t, "text/html; charset=utf-8", w.Header().Get("Content-Type"))
	body := w.Body.String()
	assert.Contains(t, body, "Cursor Trajectory")
	assert.Contains(t, body, "movement")
	assert.Contains(t, body, "echarts")
}

func TestTrajectoryChart_NoData(t *testing.T) {
	task := newFakeTask()
	task.trace = nil
	task.targets = nil
	w := serve(NewServer(task, nil, nil), testutil.NewTestRequest(http.MethodGet, "/charts/trajectory"))
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	assert.Contains(t, w.Body.String(), "Cursor Trajectory")
}

func TestOutcomesChart(t *testing.T) {
	s := NewServer(newFakeTask(), nil, nil)
	w := serve(s, testutil.NewTestRequest(http.MethodGet, "/charts/outcomes"))

	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	body := w.Body.String()
	assert.Contains(t, body, "Trial Outcomes")
		assert.Contains(t, body, "2-0")
}
